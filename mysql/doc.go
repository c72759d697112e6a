// Package mysql provides a MySQL 8.0+ backend for the durable buffer.
//
// Each failed batch is one row keyed by a BINARY(16) time-ordered id, so
// ORDER BY id returns records in insertion order. The DSN must set
// parseTime=true.
//
// See Schema for the table DDL and PruneMaintainer for removing records
// that outlived a retention window.
package mysql
