// Package badger implements beacon.Store on an embedded BadgerDB.
//
// Records live under the key prefix "<table>/" followed by the 16-byte
// record ID. IDs are time ordered, so a prefix scan returns records in
// insertion order. Values are CBOR-encoded with deterministic encoding.
//
// Use InMemoryConfig for tests.
package badger
