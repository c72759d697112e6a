package serial

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"
)

const maxSignatureLen = 100

var (
	timeType   = reflect.TypeOf(time.Time{})
	regexpType = reflect.TypeOf((*regexp.Regexp)(nil))
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

type stackTracer interface {
	StackTrace() string
}

// identity is what makes two encounters "the same reference".
type identity struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

type encoder struct {
	seen     map[identity]int
	pending  map[int][]*Node
	nextID   int
	maxDepth int
}

func newEncoder(maxDepth int) *encoder {
	return &encoder{seen: make(map[identity]int), pending: make(map[int][]*Node), maxDepth: maxDepth}
}

func (e *encoder) track(key identity) int {
	e.nextID++
	e.seen[key] = e.nextID

	return e.nextID
}

func (e *encoder) anonymous() int {
	e.nextID++

	return e.nextID
}

func (e *encoder) walk(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth > e.maxDepth {
		return &Node{Kind: KindUnknown, Type: v.Type().String(), Repr: "max depth exceeded"}
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}

		return e.walk(v.Elem(), depth)
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return nil
		}
	default:
	}

	if node, ok := e.special(v, depth); ok {
		return node
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &Node{Kind: KindUnknown, Type: v.Type().String(), Repr: fmt.Sprint(f)}
		}

		return f
	case reflect.String:
		return v.String()
	case reflect.Pointer:
		return e.pointer(v, depth)
	case reflect.Map:
		key := identity{typ: v.Type(), ptr: v.Pointer()}
		if id, ok := e.seen[key]; ok {
			return e.reference(id)
		}

		return e.mapObject(v, e.track(key), depth)
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes())
		}
		key := identity{typ: v.Type(), ptr: v.Pointer(), n: v.Len()}
		if id, ok := e.seen[key]; ok {
			return e.reference(id)
		}

		return e.list(v, e.track(key), depth)
	case reflect.Array:
		return e.list(v, e.anonymous(), depth)
	case reflect.Struct:
		return e.structObject(v, e.anonymous(), depth)
	case reflect.Func:
		return function(v)
	default:
		return &Node{Kind: KindUnknown, Type: v.Type().String(), Repr: describe(v)}
	}
}

// special handles the tagged value kinds that are detected by type rather than by shape.
func (e *encoder) special(v reflect.Value, depth int) (any, bool) {
	if !v.CanInterface() {
		return nil, false
	}
	typ := v.Type()
	switch {
	case typ == timeType:
		t, _ := v.Interface().(time.Time)

		return &Node{Kind: KindDate, ISO: t.UTC().Format(time.RFC3339Nano)}, true
	case typ == reflect.PointerTo(timeType):
		t, _ := v.Interface().(*time.Time)

		return &Node{Kind: KindDate, ISO: t.UTC().Format(time.RFC3339Nano)}, true
	case typ == regexpType:
		re, _ := v.Interface().(*regexp.Regexp)

		return &Node{Kind: KindRegExp, Source: re.String()}, true
	case typ.Implements(errorType):
		err, _ := v.Interface().(error)

		return e.errorNode(err, depth), true
	default:
		return nil, false
	}
}

func (e *encoder) errorNode(err error, depth int) *Node {
	node := &Node{Kind: KindError, Name: errorName(err), Message: err.Error()}
	if st, ok := err.(stackTracer); ok {
		node.Stack = st.StackTrace()
	}

	switch u := err.(type) {
	case interface{ Unwrap() error }:
		if cause := u.Unwrap(); cause != nil {
			node.Cause = e.walk(reflect.ValueOf(cause), depth+1)
		}
	case interface{ Unwrap() []error }:
		causes := u.Unwrap()
		items := make([]any, 0, len(causes))
		for _, cause := range causes {
			if cause == nil {
				continue
			}
			items = append(items, e.walk(reflect.ValueOf(cause), depth+1))
		}
		if len(items) > 0 {
			node.Cause = &Node{Kind: KindArray, RefID: e.anonymous(), Items: items}
		}
	}

	return node
}

func (e *encoder) pointer(v reflect.Value, depth int) any {
	key := identity{typ: v.Type(), ptr: v.Pointer()}
	if id, ok := e.seen[key]; ok {
		return e.reference(id)
	}

	elem := v.Elem()
	switch elem.Kind() {
	case reflect.Struct:
		return e.structObject(elem, e.track(key), depth)
	case reflect.Array:
		return e.list(elem, e.track(key), depth)
	default:
		return e.indirect(v, key, depth)
	}
}

// indirect encodes the target of a pointer to a non-composite value. The
// pointer has no node of its own, so references to it taken while the
// target is being walked are redirected to the target's node once known.
func (e *encoder) indirect(v reflect.Value, key identity, depth int) any {
	id := e.track(key)
	e.pending[id] = []*Node{}

	out := e.walk(v.Elem(), depth+1)

	target := 0
	if node, ok := out.(*Node); ok && !node.IsBackReference && node.RefID > 0 {
		target = node.RefID
	}
	for _, ref := range e.pending[id] {
		if target > 0 {
			ref.RefID = target

			continue
		}
		*ref = Node{Kind: KindUnknown, Type: v.Type().String(), Repr: "circular pointer"}
	}
	delete(e.pending, id)

	if target > 0 {
		e.seen[key] = target
	} else {
		delete(e.seen, key)
	}

	return out
}

// reference returns a back-reference to id, remembering it when id still
// belongs to a pointer whose target is being walked.
func (e *encoder) reference(id int) *Node {
	ref := backReference(id)
	if refs, ok := e.pending[id]; ok {
		e.pending[id] = append(refs, ref)
	}

	return ref
}

func (e *encoder) mapObject(v reflect.Value, id, depth int) *Node {
	keys := v.MapKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = mapKey(k)
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return names[order[a]] < names[order[b]] })

	fields := make(map[string]any, len(keys))
	for _, i := range order {
		fields[names[i]] = e.field(names[i], func() reflect.Value { return v.MapIndex(keys[i]) }, depth)
	}

	return &Node{Kind: KindObject, RefID: id, Fields: fields}
}

func (e *encoder) structObject(v reflect.Value, id, depth int) *Node {
	members := make(map[string]reflect.Value)
	collectFields(v, members)

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]any, len(names))
	for _, name := range names {
		fv := members[name]
		fields[name] = e.field(name, func() reflect.Value { return fv }, depth)
	}

	return &Node{Kind: KindObject, RefID: id, Fields: fields}
}

// collectFields gathers the encodable fields of v, flattening untagged
// embedded structs. Members are walked later in name order, the same order
// the decoder uses, so back-references always follow their target.
func collectFields(v reflect.Value, members map[string]reflect.Value) {
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		name, omitEmpty, skip := fieldName(sf)
		if skip {
			continue
		}
		fv := v.Field(i)
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && name == "" {
			collectFields(fv, members)

			continue
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		members[name] = fv
	}
}

func (e *encoder) list(v reflect.Value, id, depth int) *Node {
	items := make([]any, v.Len())
	for i := range items {
		idx := i
		items[i] = e.field(fmt.Sprint(idx), func() reflect.Value { return v.Index(idx) }, depth)
	}

	return &Node{Kind: KindArray, RefID: id, Items: items}
}

// field encodes one member in isolation so a panic while reading it
// only replaces that member.
func (e *encoder) field(name string, get func() reflect.Value, depth int) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = &Node{Kind: KindFieldError, FieldError: true, Message: fmt.Sprint(r), FieldName: name}
		}
	}()

	return e.walk(get(), depth+1)
}

func function(v reflect.Value) *Node {
	name := ""
	if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
		name = fn.Name()
	}
	signature := v.Type().String()
	if len(signature) > maxSignatureLen {
		signature = signature[:maxSignatureLen]
	}

	return &Node{Kind: KindFunction, Name: name, Arity: v.Type().NumIn(), Source: signature}
}

func fieldName(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := sf.Tag.Lookup("json")
	if !ok {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}

	return parts[0], omitEmpty, false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}

	return fmt.Sprint(k.Interface())
}

func errorName(err error) string {
	if named, ok := err.(interface{ ErrorName() string }); ok {
		return named.ErrorName()
	}
	typ := reflect.TypeOf(err)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Name() != "" {
		return typ.Name()
	}

	return typ.String()
}

func describe(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())
	case reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("%#x", v.Pointer())
	default:
		return v.Kind().String()
	}
}
