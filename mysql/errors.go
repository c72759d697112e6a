package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("beacon mysql: db is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("beacon mysql: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("beacon mysql: invalid table name")
	// ErrPruneBeforeRequired is returned when the prune cutoff is missing.
	ErrPruneBeforeRequired = errors.New("beacon mysql: prune before time is required")
	// ErrPruneLimitInvalid is returned when the prune limit is negative.
	ErrPruneLimitInvalid = errors.New("beacon mysql: prune limit must be non-negative")
	// ErrPruneRetentionInvalid is returned when the prune retention is not positive.
	ErrPruneRetentionInvalid = errors.New("beacon mysql: prune retention must be positive")
)
