// Package gatewayerr defines the closed set of error kinds the gateway
// surfaces to clients and to the model, and a small Error type that carries
// one of them across package boundaries.
package gatewayerr

import (
	"errors"
	"fmt"
)

// Kind is the closed enum of error kinds the core reports. Tool handlers,
// the approval/safety layer, and the node registry all translate whatever
// they receive into one of these at their boundary.
type Kind string

const (
	KindAuthFailed       Kind = "auth_failed"
	KindValidation       Kind = "validation"
	KindUnsupported      Kind = "unsupported"
	KindPermissionDenied Kind = "permission_denied"
	KindNotFound         Kind = "not_found"
	KindTimeout          Kind = "timeout"
	KindBusy             Kind = "busy"
	KindIO               Kind = "io"
	KindInternal         Kind = "internal"
	KindNodeDisconnected Kind = "node_disconnected"
)

// Error wraps a Kind, a human-readable message, and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, gatewayerr.KindTimeout) style checks against a
// bare Kind value by comparing kinds rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not a *Error (or is nil, in which case the zero Kind is returned).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As a convenience, the common kinds as sentinel-style *Error values for
// errors.Is comparisons where no message/cause is needed.
func Of(kind Kind) *Error { return &Error{Kind: kind} }
