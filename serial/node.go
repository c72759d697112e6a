package serial

// Kind discriminates the tagged nodes of the textual encoding.
type Kind string

const (
	// KindObject is a plain object (Go map or struct).
	KindObject Kind = "Object"
	// KindArray is an ordered list (Go slice or array).
	KindArray Kind = "Array"
	// KindDate is a point in time, carried as an ISO-8601 UTC string.
	KindDate Kind = "Date"
	// KindError is an error value with its cause chain.
	KindError Kind = "Error"
	// KindRegExp is a compiled regular expression.
	KindRegExp Kind = "RegExp"
	// KindFunction describes a function; it is never reconstructed as code.
	KindFunction Kind = "Function"
	// KindUnknown is a value that has no faithful textual form.
	KindUnknown Kind = "Unknown"
	// KindBackReference points at a composite already emitted in the same pass.
	KindBackReference Kind = "BackReference"
	// KindFieldError replaces a single field whose encoding failed.
	KindFieldError Kind = "FieldError"
)

// Node is the encoding unit for every non-primitive value.
// Which fields are populated depends on Kind.
type Node struct {
	Kind            Kind           `json:"kind"`
	RefID           int            `json:"refId,omitempty"`
	IsBackReference bool           `json:"isBackReference,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
	Items           []any          `json:"items,omitempty"`
	ISO             string         `json:"iso,omitempty"`
	Name            string         `json:"name,omitempty"`
	Message         string         `json:"message,omitempty"`
	Stack           string         `json:"stack,omitempty"`
	Cause           any            `json:"cause,omitempty"`
	Source          string         `json:"source,omitempty"`
	Flags           string         `json:"flags,omitempty"`
	Arity           int            `json:"arity,omitempty"`
	Type            string         `json:"type,omitempty"`
	Repr            string         `json:"repr,omitempty"`
	FieldError      bool           `json:"fieldError,omitempty"`
	FieldName       string         `json:"fieldName,omitempty"`
}

func backReference(id int) *Node {
	return &Node{Kind: KindBackReference, IsBackReference: true, RefID: id}
}
