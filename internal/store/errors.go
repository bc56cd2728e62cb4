package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when a unique field already belongs to another record.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrInvalidRecord wraps field validation failures.
var ErrInvalidRecord = errors.New("invalid record")

// ErrConflict is returned when a conditional write finds the record changed
// since it was read.
var ErrConflict = errors.New("record changed concurrently")
