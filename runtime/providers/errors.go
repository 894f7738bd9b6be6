package providers

import (
	"context"
	"errors"
	"net"
	"net/http"

	levErrors "github.com/danield137/lev/pkg/errors"
)

// ClassifyStatus maps an HTTP status from a model API to a capability error.
// Rate limits and server errors are retryable; auth and other client errors
// are not.
func ClassifyStatus(provider string, status int, cause error) *levErrors.ModelCapabilityError {
	e := &levErrors.ModelCapabilityError{Provider: provider, Reason: levErrors.ReasonUnknown, Cause: cause}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Reason = levErrors.ReasonAuth
	case status == http.StatusTooManyRequests:
		e.Reason = levErrors.ReasonRateLimit
		e.Retryable = true
	case status >= http.StatusInternalServerError:
		e.Reason = levErrors.ReasonTransport
		e.Retryable = true
	}
	return e
}

// WrapError converts a non-HTTP failure into a capability error. Context
// errors pass through unchanged so cancellation stays recognizable, and an
// existing capability error is returned as is.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var mce *levErrors.ModelCapabilityError
	if errors.As(err, &mce) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &levErrors.ModelCapabilityError{Provider: provider, Reason: levErrors.ReasonTransport, Retryable: true, Cause: err}
	}
	return &levErrors.ModelCapabilityError{Provider: provider, Reason: levErrors.ReasonUnknown, Cause: err}
}

// Malformed reports a response the provider could not interpret.
func Malformed(provider string, cause error) error {
	return &levErrors.ModelCapabilityError{Provider: provider, Reason: levErrors.ReasonMalformed, Cause: cause}
}
