package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an application error.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindInvalidInput
	KindDuplicateUpstreamID
	KindInvalidAttachment
	KindUnsupportedFileType
	KindFileTooLarge
	KindRateLimited
	KindAssistantRunFailed
	KindAssistantRunTimeout
	KindUpstreamUnavailable
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindInvalidInput:
		return "InvalidInput"
	case KindDuplicateUpstreamID:
		return "DuplicateUpstreamId"
	case KindInvalidAttachment:
		return "InvalidAttachment"
	case KindUnsupportedFileType:
		return "UnsupportedFileType"
	case KindFileTooLarge:
		return "FileTooLarge"
	case KindRateLimited:
		return "RateLimited"
	case KindAssistantRunFailed:
		return "AssistantRunFailed"
	case KindAssistantRunTimeout:
		return "AssistantRunTimeout"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	default:
		return "Unknown"
	}
}

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	if other.Kind == e.Kind {
		return true
	}
	// Per-file attachment problems are all InvalidAttachment.
	if other.Kind == KindInvalidAttachment && (e.Kind == KindUnsupportedFileType || e.Kind == KindFileTooLarge) {
		return true
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrDuplicateUpstreamID = &Error{Kind: KindDuplicateUpstreamID}
	ErrInvalidAttachment   = &Error{Kind: KindInvalidAttachment}
	ErrUnsupportedFileType = &Error{Kind: KindUnsupportedFileType}
	ErrFileTooLarge        = &Error{Kind: KindFileTooLarge}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrAssistantRunFailed  = &Error{Kind: KindAssistantRunFailed}
	ErrAssistantRunTimeout = &Error{Kind: KindAssistantRunTimeout}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// FileProblem describes one rejected file in a batch.
type FileProblem struct {
	Name   string
	Kind   Kind
	Reason string
}

// AttachmentError reports every rejected file of a batch.
type AttachmentError struct {
	Problems []FileProblem
}

// Error implements error.
func (e *AttachmentError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Name, p.Reason))
	}
	return "invalid attachment: " + strings.Join(parts, "; ")
}

// Is reports InvalidAttachment and the kind of every contained problem.
func (e *AttachmentError) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	if other.Kind == KindInvalidAttachment {
		return true
	}
	for _, p := range e.Problems {
		if p.Kind == other.Kind {
			return true
		}
	}
	return false
}

// Details returns one human-readable line per problem.
func (e *AttachmentError) Details() []string {
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, fmt.Sprintf("%s: %s", p.Name, p.Reason))
	}
	return out
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	var attErr *AttachmentError
	if errors.As(err, &attErr) {
		return http.StatusBadRequest
	}
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput, KindDuplicateUpstreamID, KindInvalidAttachment, KindUnsupportedFileType, KindFileTooLarge:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindAssistantRunFailed:
		return http.StatusInternalServerError
	case KindAssistantRunTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to clients.
func PublicMessage(err error) (string, []string) {
	var attErr *AttachmentError
	if errors.As(err, &attErr) {
		return "invalid attachment", attErr.Details()
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if msg == "" {
			msg = appErr.Kind.String()
		}
		return msg, appErr.Details
	}
	return "internal server error", nil
}
