package buffer

import "errors"

var (
	// ErrStoreRequired is returned when a nil store is passed to NewTable.
	ErrStoreRequired = errors.New("beacon buffer store is required")
	// ErrUndecodable marks a stored record whose items cannot be restored.
	ErrUndecodable = errors.New("beacon buffer record cannot be decoded")
)
