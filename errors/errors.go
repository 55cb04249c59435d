package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a failure once, at the point where it is first observed.
type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindRateLimited        Kind = "rate_limited"
	KindServiceUnavailable Kind = "service_unavailable"
	KindModelOverloaded    Kind = "model_overloaded"
	KindQuotaExhausted     Kind = "quota_exhausted"
	KindInvalidCredential  Kind = "invalid_credential"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindBadRequest         Kind = "bad_request"
	KindTimeout            Kind = "timeout"
	KindNetwork            Kind = "network"
	KindParse              Kind = "parse"
	KindProxyAuth          Kind = "proxy_auth"
	KindProxyUnavailable   Kind = "proxy_unavailable"
	KindConfiguration      Kind = "configuration"
	KindAllModelsFailed    Kind = "all_models_failed"
	KindPipelineStep       Kind = "pipeline_step"
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
	KindQueueFull          Kind = "queue_full"
)

type AppError struct {
	Code    int    `json:"-"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"error"`
	Op      string `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func InvalidInput(op string, err error, message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Kind:    KindInvalidInput,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func NotFound(op string, err error, message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Kind:    KindNotFound,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func Internal(op string, err error, message string) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Kind:    KindInternal,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// Configuration reports a setup problem such as an empty pool.
func Configuration(op string, message string) *AppError {
	return &AppError{
		Code:    http.StatusServiceUnavailable,
		Kind:    KindConfiguration,
		Message: message,
		Op:      op,
	}
}

// Upstream builds an error for a failed call to an external API. status is the
// HTTP status observed, or 0 for transport level failures.
func Upstream(op string, kind Kind, status int, message string, err error) *AppError {
	code := status
	if code == 0 {
		code = http.StatusBadGateway
	}
	return &AppError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func QueueFull(op string) *AppError {
	return &AppError{
		Code:    http.StatusServiceUnavailable,
		Kind:    KindQueueFull,
		Message: "Run queue is full, try again later",
		Op:      op,
	}
}

func AllModelsFailed(op string, last error) *AppError {
	msg := "All models failed. Last error: "
	if last != nil {
		msg += last.Error()
	} else {
		msg += "unknown"
	}
	return &AppError{
		Code:    http.StatusBadGateway,
		Kind:    KindAllModelsFailed,
		Message: msg,
		Op:      op,
	}
}

// FromTransport classifies an error returned by an http.Client before any
// response was read.
func FromTransport(op string, err error) *AppError {
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return Upstream(op, KindTimeout, 0, "request timed out", err)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return Upstream(op, KindTimeout, 0, "request timed out", err)
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return Upstream(op, KindNetwork, 0, "connection refused", err)
	case strings.Contains(err.Error(), "Proxy Authentication Required"):
		return Upstream(op, KindProxyAuth, http.StatusProxyAuthRequired, "proxy authentication failed", err)
	}
	return Upstream(op, KindNetwork, 0, "network error", err)
}

// Wrap annotates err with a message while keeping its cause reachable.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Cause returns the innermost error of a pkg/errors chain.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}

// As finds the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if pkgerrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}

// IsServerError reports whether err is a 5xx class upstream fault.
func IsServerError(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Kind {
	case KindServiceUnavailable, KindModelOverloaded:
		return true
	case KindInternal, KindInvalidInput, KindNotFound, KindConfiguration:
		return false
	}
	return appErr.Code >= 500 && appErr.Code != http.StatusBadGateway
}

// IsRetryable reports whether a failed upstream call is worth repeating.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindModelOverloaded, KindServiceUnavailable,
		KindTimeout, KindQuotaExhausted:
		return true
	}
	return false
}

// PipelineError is returned when a run fails before producing any transcript.
// It keeps the step that failed and whatever artifacts were produced so the
// caller can resume later.
type PipelineError struct {
	Step      int
	Artifacts interface{}
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("Video processing failed at step %d: %v", e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
