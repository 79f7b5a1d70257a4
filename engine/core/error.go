package core

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures into the stable externally-visible
// taxonomy. Kinds, not concrete types, are what the transport layer maps to
// status codes.
type Kind string

const (
	KindConfigurationNotFound Kind = "configuration_not_found"
	KindCapabilityNotFound    Kind = "capability_not_found"
	KindNoModelAvailable      Kind = "no_model_available"
	KindProviderInvocation    Kind = "provider_invocation_error"
	KindStreamInterrupted     Kind = "stream_interrupted"
	KindInvalidRequest        Kind = "invalid_request"
	KindInternal              Kind = "internal_error"
)

// Error is the kinded error carried upward through the orchestrator. The
// wrapped cause never reaches the client; Message is the safe surface text.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, err: cause}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is allows errors.Is comparisons against a bare &Error{Kind: ...} target.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the taxonomy kind from an error chain, defaulting to
// KindInternal for unclassified failures.
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return KindInternal
}

// SafeMessage returns the client-facing message for an error chain. Internal
// detail from unclassified errors is never exposed.
func SafeMessage(err error) string {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Message
	}
	return "internal error"
}
