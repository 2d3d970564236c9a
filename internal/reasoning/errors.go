package reasoning

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed reasoning call.
type ErrorKind int

const (
	KindUnclassified ErrorKind = iota
	// KindTransient is a rate-limit rejection; retried with backoff.
	KindTransient
	// KindMalformedRequest is a 400; retried once without optional parameters.
	KindMalformedRequest
	// KindMalformedResponse is text that does not decode into the stage schema.
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformedRequest:
		return "malformed_request"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unclassified"
	}
}

// ErrOffline is reported when no credential is configured.
var ErrOffline = errors.New("reasoning service not configured")

// ServiceError carries the classification of a reasoning failure.
type ServiceError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("reasoning %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("reasoning %s: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Classify returns the kind of err. Errors that are not a *ServiceError are
// unclassified.
func Classify(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnclassified
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return KindTransient
	case http.StatusBadRequest:
		return KindMalformedRequest
	default:
		return KindUnclassified
	}
}

// NewStatusError builds the error for a non-2xx reply.
func NewStatusError(status int, msg string) *ServiceError {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ServiceError{Kind: kindForStatus(status), Status: status, Err: errors.New(msg)}
}

// NewMalformedResponse wraps a decode failure of reasoning output.
func NewMalformedResponse(err error) *ServiceError {
	return &ServiceError{Kind: KindMalformedResponse, Err: err}
}
