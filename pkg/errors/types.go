package errors

import (
	"fmt"
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// MalformedPartitionError is returned when the catalog reports a partition
// whose key doesn't follow the warehouse layout. Unlike stray files, a bad
// partition is never skipped.
type MalformedPartitionError struct {
	Key    string
	Reason string
}

func (err MalformedPartitionError) Error() string {
	return fmt.Sprintf("malformed partition %q: %s", err.Key, err.Reason)
}

// ChecksumMismatchError is returned when a downloaded file's digest doesn't
// match the digest published in the origin manifest.
type ChecksumMismatchError struct {
	Slot     string
	FileName string
	URL      string
	Expected string
	Actual   string
}

func (err ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s (%s): expected %s, got %s",
		err.FileName, err.Slot, err.Expected, err.Actual)
}

// ConnectionClosedError is returned by warehouse operations attempted after
// the connection was released.
type ConnectionClosedError struct {
	Op string
}

func (err ConnectionClosedError) Error() string {
	return fmt.Sprintf("%s: connection closed", err.Op)
}
