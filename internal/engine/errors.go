// Package engine turns a provider completion stream into display fragments and
// transcript records.
// This file contains fault classification and the user-visible error texts.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// FaultKind classifies a failed turn.
type FaultKind string

const (
	FaultAuth      FaultKind = "auth"      // invalid or expired credential
	FaultThrottle  FaultKind = "throttle"  // remote rate limiting
	FaultProvider  FaultKind = "provider"  // generic remote-side error
	FaultTransport FaultKind = "transport" // network-level failure
)

// User-visible texts for faults that are not surfaced verbatim.
const (
	MsgAuthFault      = "Error: authentication failed, check the API key configured for this model"
	MsgThrottleFault  = "Error: the model provider is rate limiting requests, please try again later"
	MsgTransportFault = "Error: could not reach the model provider"
)

// Fault wraps a provider or transport error with classification metadata.
type Fault struct {
	Kind       FaultKind
	Err        error
	HTTPStatus int    // HTTP status code if applicable
	Code       string // provider error code if present
	RetryAfter string // Retry-After header value if present
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s fault: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s fault", f.Kind)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Retryable reports whether the caller may reasonably try again. Nothing in this
// package retries.
func (f *Fault) Retryable() bool {
	return f.Kind == FaultThrottle || f.Kind == FaultTransport
}

// UserMessage is the single error text shown in place of the answer.
func (f *Fault) UserMessage() string {
	switch f.Kind {
	case FaultAuth:
		return MsgAuthFault
	case FaultThrottle:
		return MsgThrottleFault
	case FaultTransport:
		return MsgTransportFault
	}
	msg := "unknown provider error"
	if f.Err != nil {
		msg = f.Err.Error()
	}
	if f.Code != "" && !strings.Contains(msg, f.Code) {
		return fmt.Sprintf("Error: %s (%s)", msg, f.Code)
	}
	return "Error: " + msg
}

// WrapLLMError wraps an LLM provider error with classification metadata. The HTTP
// status wins over message-based classification when it is known.
func WrapLLMError(err error, httpStatus int, code, retryAfter string) error {
	if err == nil {
		return nil
	}
	var existing *Fault
	if errors.As(err, &existing) {
		return existing
	}
	kind := kindForStatus(httpStatus)
	if kind == "" {
		kind = ClassifyLLMError(err)
	}
	return &Fault{
		Kind:       kind,
		Err:        err,
		HTTPStatus: httpStatus,
		Code:       code,
		RetryAfter: retryAfter,
	}
}

// AsFault returns err as a *Fault, classifying it when it is not one yet.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: ClassifyLLMError(err), Err: err}
}

// UserMessage returns the user-visible text for any turn error.
func UserMessage(err error) string {
	return AsFault(err).UserMessage()
}

func kindForStatus(status int) FaultKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FaultAuth
	case status == http.StatusTooManyRequests:
		return FaultThrottle
	case status >= 400:
		return FaultProvider
	}
	return ""
}

// ClassifyLLMError classifies an error from an LLM provider call.
func ClassifyLLMError(err error) FaultKind {
	if err == nil {
		return FaultProvider
	}

	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return FaultTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FaultTransport
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return FaultTransport
	}

	errStr := strings.ToLower(err.Error())

	// Authentication errors (401, 403)
	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "incorrect api key") ||
		strings.Contains(errStr, "authentication") {
		return FaultAuth
	}

	// Rate limit errors (429)
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") {
		return FaultThrottle
	}

	// Network errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "unexpected eof") ||
		strings.Contains(errStr, "temporary failure") {
		return FaultTransport
	}

	return FaultProvider
}
