// Package errors provides error handling for datagraph.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marking errors with a sentinel so errors.Is keeps working across wraps
//
// Usage:
//
//	// Declaration errors carry the detail in the message and the sentinel as a mark
//	return errors.Mark(errors.Newf("unknown attribute %q on %s", name, typ), errors.ErrUnknownAttribute)
//
//	// Wrap with context
//	if err := proxy.Update(ctx, m, req); err != nil {
//	    return errors.Wrap(err, "save")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrUnknownAttribute) {
//	    // handle declaration error
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Declaration and construction errors raised synchronously at the call site.
var (
	// ErrUnknownAttribute is returned by Get, Raw and Set for names the model type does not declare.
	ErrUnknownAttribute = New("unknown attribute")

	// ErrAttributeName is returned when an attribute is declared without a name.
	ErrAttributeName = New("attribute name required")

	// ErrNoIDAttribute is returned when the configured id attribute is not declared on the type.
	ErrNoIDAttribute = New("id attribute not declared")

	// ErrUnknownType is returned when a type name does not resolve in a registry.
	ErrUnknownType = New("unknown model type")

	// ErrDuplicateType is returned when a type name is defined twice in one registry.
	ErrDuplicateType = New("model type already defined")
)

// Conversion and persistence errors.
var (
	// ErrConversion indicates a value could not be converted by an attribute's built-in set stage.
	ErrConversion = New("value conversion failed")

	// ErrNoProxy indicates a persistence operation on a type without a bound proxy.
	ErrNoProxy = New("no persistence proxy")

	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsDeclarationError reports whether err is one of the declaration errors
// that are raised at the call site and never swallowed.
func IsDeclarationError(err error) bool {
	return err != nil && IsAny(err, ErrUnknownAttribute, ErrNoIDAttribute, ErrUnknownType)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}
