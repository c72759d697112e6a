package serial

import (
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxExactInt is the largest magnitude float64 holds without rounding.
const maxExactInt = 1 << 53

// decoder rebuilds a value graph. Containers are registered under their
// refId before their members are decoded so back-references to ancestors
// resolve to the very same map or slice.
type decoder struct {
	refs map[int]any
}

func (d *decoder) decode(raw any) any {
	switch value := raw.(type) {
	case map[string]any:
		kind, ok := value["kind"].(string)
		if !ok {
			return d.plain(value)
		}

		return d.node(Kind(kind), value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = d.decode(item)
		}

		return out
	case json.Number:
		return number(value)
	default:
		return value
	}
}

// number keeps integers that float64 would round as int64 or uint64.
// Everything else decodes as float64.
func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		if i > maxExactInt || i < -maxExactInt {
			return i
		}

		return float64(i)
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return u
	}
	f, _ := n.Float64()

	return f
}

func (d *decoder) node(kind Kind, raw map[string]any) any {
	switch kind {
	case KindObject:
		fields, _ := raw["fields"].(map[string]any)
		out := make(map[string]any, len(fields))
		d.register(raw, out)
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out[name] = d.decode(fields[name])
		}

		return out
	case KindArray:
		items, _ := raw["items"].([]any)
		out := make([]any, len(items))
		d.register(raw, out)
		for i, item := range items {
			out[i] = d.decode(item)
		}

		return out
	case KindDate:
		t, err := time.Parse(time.RFC3339Nano, stringField(raw, "iso"))
		if err != nil {
			return nil
		}

		return t
	case KindError:
		return d.errorValue(raw)
	case KindRegExp:
		re, err := regexp.Compile(withFlags(stringField(raw, "source"), stringField(raw, "flags")))
		if err != nil {
			return nil
		}

		return re
	case KindFunction:
		arity, _ := intField(raw, "arity")

		return &FunctionValue{Name: stringField(raw, "name"), Arity: arity, Signature: stringField(raw, "source")}
	case KindUnknown:
		return &UnknownValue{Type: stringField(raw, "type"), Repr: stringField(raw, "repr")}
	case KindFieldError:
		return &FieldErrorValue{FieldName: stringField(raw, "fieldName"), Message: stringField(raw, "message")}
	case KindBackReference:
		id, _ := intField(raw, "refId")

		return d.refs[id]
	default:
		return nil
	}
}

func (d *decoder) errorValue(raw map[string]any) *ErrorValue {
	out := &ErrorValue{
		Name:    stringField(raw, "name"),
		Message: stringField(raw, "message"),
		Stack:   stringField(raw, "stack"),
	}
	switch cause := d.decode(raw["cause"]).(type) {
	case error:
		out.Cause = cause
	case []any:
		causes := make([]error, 0, len(cause))
		for _, c := range cause {
			if err, ok := c.(error); ok {
				causes = append(causes, err)
			}
		}
		out.Cause = errors.Join(causes...)
	}

	return out
}

func (d *decoder) plain(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = d.decode(v)
	}

	return out
}

func (d *decoder) register(raw map[string]any, value any) {
	id, ok := intField(raw, "refId")
	if !ok || id <= 0 {
		return
	}
	d.refs[id] = value
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)

	return s
}

func intField(raw map[string]any, key string) (int, bool) {
	n, ok := raw[key].(json.Number)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(n.String())

	return i, err == nil
}

// withFlags maps the flag letters Go understands onto an inline group.
func withFlags(source, flags string) string {
	var inline strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's', 'U':
			inline.WriteRune(f)
		}
	}
	if inline.Len() == 0 {
		return source
	}

	return "(?" + inline.String() + ")" + source
}
