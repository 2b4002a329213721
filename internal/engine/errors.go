package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/kubeforge-io/kubeforge/internal/secrets"
)

// ErrorClass classifies an action error for retry decisions.
type ErrorClass string

const (
	// ClassTransient is expected to succeed on retry (network blip,
	// throttling, timeout).
	ClassTransient ErrorClass = "transient"

	// ClassPermanent will not succeed without external intervention
	// (bad credentials, malformed request).
	ClassPermanent ErrorClass = "permanent"
)

// ValidationError reports a bad plan: duplicate id, missing dependency, or
// a dependency cycle. A plan that fails validation never runs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid plan: " + e.Reason
}

// CycleError is a ValidationError variant naming the offending cycle path.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "invalid plan: dependency cycle: " + strings.Join(e.Path, " -> ")
}

// ActionError wraps an apply/destroy action failure with its classification.
type ActionError struct {
	Class ErrorClass
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Class, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) *ActionError {
	return &ActionError{Class: ClassTransient, Err: err}
}

// NewPermanentError marks err as not retryable.
func NewPermanentError(err error) *ActionError {
	return &ActionError{Class: ClassPermanent, Err: err}
}

// transientAPICodes are AWS error codes that warrant a retry.
var transientAPICodes = map[string]bool{
	"ThrottlingException":            true,
	"Throttling":                     true,
	"TooManyRequestsException":       true,
	"RequestLimitExceeded":           true,
	"ServiceUnavailableException":    true,
	"ServiceUnavailable":             true,
	"InternalServerError":            true,
	"InternalFailure":                true,
	"RequestTimeout":                 true,
	"RequestTimeoutException":        true,
	"IDPCommunicationErrorException": true,
}

// transientPatterns are matched against unclassified error text, covering
// plain network failures surfaced by arbitrary provider code.
var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"TLS handshake",
	"i/o timeout",
	"temporary failure",
}

// IsTransient reports whether err should be retried. Classification
// precedence: explicit ActionError class, broker sentinels (permanent),
// action deadline expiry (transient), AWS API error codes and faults,
// then a text-pattern fallback.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Class == ClassTransient
	}

	if errors.Is(err, secrets.ErrNotFound) || errors.Is(err, secrets.ErrAccessDenied) {
		return false
	}

	// A per-resource timeout around the opaque action counts as transient.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientAPICodes[apiErr.ErrorCode()] {
			return true
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// Classify returns the error class the engine will act on.
func Classify(err error) ErrorClass {
	if IsTransient(err) {
		return ClassTransient
	}
	return ClassPermanent
}
