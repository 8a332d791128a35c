package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
)

type Kind int

const (
	KindValidation Kind = iota
	KindServiceUnavailable
	KindNotFound
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindServiceUnavailable:
		return "service unavailable"
	case KindNotFound:
		return "not found"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// Error is reported to HTTP callers as {success: false, error: Tag, message: Message}.
// Nothing that produces an Error retries; retry is up to the caller.
type Error struct {
	Kind    Kind
	Tag     string // Machine readable. Stable across releases, because front-ends switch on it.
	Message string
	Err     error // Underlying cause, if any. Never sent to the caller.

	// Only populated for KindValidation errors caused by missing fields
	Required []string
	Missing  []string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v (%v)", e.Tag, e.Message, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Tag, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error onto a response code. Upstream errors are classified by their cause.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return ClassifyUpstream(e.Err)
	}
	return http.StatusInternalServerError
}

func NewValidationError(tag, message string) *Error {
	return &Error{Kind: KindValidation, Tag: tag, Message: message}
}

func NewServiceUnavailableError(tag, message string) *Error {
	return &Error{Kind: KindServiceUnavailable, Tag: tag, Message: message}
}

func NewNotFoundError(tag, message string) *Error {
	return &Error{Kind: KindNotFound, Tag: tag, Message: message}
}

func NewUpstreamError(tag, message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Tag: tag, Message: message, Err: cause}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// ClassifyUpstream decides which status code best describes a failure to talk to a collaborator
// (the document store, an SMTP server, or a backend service).
//
//	unknown host       -> 503
//	connection refused -> 503
//	timeout            -> 504
//	anything else      -> 500
func ClassifyUpstream(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	if IsTimeout(err) {
		return http.StatusGatewayTimeout
	}
	if IsUnreachable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsUnreachable is true when the remote side could not be reached at all: the host name does not
// resolve, or nothing is listening.
func IsUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
