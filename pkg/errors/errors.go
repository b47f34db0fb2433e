// Package errors contains the error helpers used throughout pagecounts.
// Errors are wrapped with short lowercase context strings as they travel up
// the stack, so that the final message reads like a trace of what failed,
// e.g. "list partitions: exec: ssh: handshake failed".
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// New returns an error with the given message.
func New(msg string) error {
	return pkgerrors.New(msg)
}

// Errorf formats an error message.
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// WithContext annotates err with a description of what was being attempted
// when it occurred. A nil err stays nil.
func WithContext(err error, context string) error {
	return pkgerrors.WithMessage(err, context)
}

// GetRootCause returns the innermost error, stripping all context added by
// WithContext.
func GetRootCause(err error) error {
	return pkgerrors.Cause(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return pkgerrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return pkgerrors.As(err, target)
}

// FriendlyError is an error whose message is meant to be shown to the user
// as is, without the context trace.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	msg string
}

// NewFriendlyError creates an error that's printed directly to the user by
// HandleFatalError.
func NewFriendlyError(format string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(format, args...)}
}

func (err friendlyError) Error() string {
	return err.msg
}

func (err friendlyError) FriendlyMessage() string {
	return err.msg
}

// GetPrintableMessage returns the message that should be shown to the user
// for err. Friendly errors anywhere in the chain take precedence over the
// full context trace.
func GetPrintableMessage(err error) string {
	var friendly FriendlyError
	if As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
