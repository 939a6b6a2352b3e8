package errors

import (
	"context"
	"errors"
	"net"
)

// Classify maps a raw transport error into the acquisition engine's error
// taxonomy (cancelled / transient_transport / permanent_transport /
// filesystem). Unlike GetErrorType, a context.Canceled is classified as
// ErrorTypeCancelled rather than ErrorTypeContext — cancellation must be
// distinguishable from an ordinary deadline-exceeded timeout, which is
// treated as transient and subject to ordinary mirror-policy retry.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTransientTransport
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeTransientTransport
	}

	switch GetErrorType(err) {
	case ErrorTypeNetwork, ErrorTypeAPIQuota:
		return ErrorTypeTransientTransport
	case ErrorTypePermission, ErrorTypeConfiguration:
		return ErrorTypePermanentTransport
	case ErrorTypeStorage:
		return ErrorTypeFilesystem
	default:
		return ErrorTypeTransientTransport
	}
}

// IsCancelled reports whether err represents a cancellation, looking
// through *Error wrapping.
func IsCancelled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == ErrorTypeCancelled
	}
	return errors.Is(err, context.Canceled)
}
