// Package serial turns arbitrary value graphs into a JSON-safe tagged text
// and back.
//
// Primitives are emitted as-is. Every other value becomes a Node whose kind
// field discriminates Object, Array, Date, Error, RegExp, Function, Unknown,
// BackReference and FieldError. Objects and arrays receive a refId when first
// visited; any later encounter of the same reference within one Serialize call
// is written as a back-reference, which keeps cyclic graphs finite. Shared
// acyclic sub-structures are treated the same way. Members of maps and
// structs are visited in name order on both sides, so a back-reference is
// always decoded after its target. A pointer cycle that never reaches a
// map, slice or struct is written as an Unknown "circular pointer".
//
// Serialize never fails. When encoding breaks it returns a fallback marker
// that IsFailure recognises and Deserialize turns into a *Failure.
package serial
