package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorClass classifies LLM call failures for retry and reporting.
type ErrorClass string

const (
	// ClassConfig: missing env var, bad endpoint, unknown provider.
	// Surfaced per slot; never retried.
	ClassConfig ErrorClass = "config"
	// ClassTransport: network-level failure before a response arrived.
	ClassTransport ErrorClass = "transport"
	// ClassProvider4xx: provider rejected the request. Only 429 retries.
	ClassProvider4xx ErrorClass = "provider_4xx"
	// ClassProvider5xx: provider-side failure, retryable.
	ClassProvider5xx ErrorClass = "provider_5xx"
	// ClassTimeout: call deadline exceeded, retryable.
	ClassTimeout ErrorClass = "timeout"
	// ClassCanceled: context canceled; recorded but not retried.
	ClassCanceled ErrorClass = "canceled"
	// ClassDecode: malformed provider response; not retried.
	ClassDecode ErrorClass = "decode"
)

// CallError is a classified failure of one LLM call. It carries the slot
// name so a multi-slot phase can attribute failures without unwrapping.
type CallError struct {
	Class  ErrorClass
	Slot   string
	Status int // HTTP status when applicable, else 0
	Reason string
	Cause  error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] slot %s: %s: %v", e.Class, e.Slot, e.Reason, e.Cause)
	}
	return fmt.Sprintf("[%s] slot %s: %s", e.Class, e.Slot, e.Reason)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the call should be attempted again.
// Transient classes retry; a 429 is the one retryable 4xx.
func (e *CallError) Retryable() bool {
	switch e.Class {
	case ClassTransport, ClassProvider5xx, ClassTimeout:
		return true
	case ClassProvider4xx:
		return e.Status == 429
	}
	return false
}

// ClassOf extracts the ErrorClass from an error chain. Unclassified
// errors report as transport (the conservative retryable default).
func ClassOf(err error) ErrorClass {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Class
	}
	return ClassTransport
}

// classifyTransport maps a transport-level error (no HTTP response) to a
// CallError, distinguishing deadline, cancellation, and network failure.
func classifyTransport(slot string, err error) *CallError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CallError{Class: ClassTimeout, Slot: slot, Reason: "call deadline exceeded", Cause: err}
	case errors.Is(err, context.Canceled):
		return &CallError{Class: ClassCanceled, Slot: slot, Reason: "call canceled", Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CallError{Class: ClassTimeout, Slot: slot, Reason: "network timeout", Cause: err}
	}
	return &CallError{Class: ClassTransport, Slot: slot, Reason: "network failure", Cause: err}
}

// StatusError maps a non-200 HTTP status to a CallError. Backends call
// it with the raw response body; the body is truncated for logs.
func StatusError(slot string, status int, body string) *CallError {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	class := ClassProvider4xx
	if status >= 500 {
		class = ClassProvider5xx
	}
	return &CallError{
		Class:  class,
		Slot:   slot,
		Status: status,
		Reason: fmt.Sprintf("provider returned %d: %s", status, body),
	}
}
