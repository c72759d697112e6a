// Package seal provides an encryption hook for beacon built on age X25519
// recipients.
//
// Output is ASCII-armored so sealed payloads stay valid text inside the
// JSON envelope and sealed bodies can be logged or stored as strings. A
// collector holding any matching identity can open them with Open.
package seal
