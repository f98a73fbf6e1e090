package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal server error")
	ErrRateLimited  = errors.New("too many requests")
	ErrBadRequest   = errors.New("bad request")

	// Session relay taxonomy
	ErrNoSession            = errors.New("no session cookies present")
	ErrUpstreamUnauthorized = errors.New("upstream rejected credentials")
	ErrUpstreamUnreachable  = errors.New("upstream unreachable")
	ErrUpstreamRejected     = errors.New("upstream returned no successful response")
	ErrMalformedCookie      = errors.New("malformed set-cookie header")
	ErrRefreshExhausted     = errors.New("session refresh failed")
	ErrNotConfigured        = errors.New("not configured")
)

// Kind tags the outcome of a call to the upstream backend.
type Kind int

const (
	KindUpstreamUnreachable Kind = iota + 1
	KindUpstreamUnauthorized
	KindUpstreamRejected
)

func (k Kind) String() string {
	switch k {
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindUpstreamUnauthorized:
		return "upstream_unauthorized"
	case KindUpstreamRejected:
		return "upstream_rejected"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUpstreamUnreachable:
		return ErrUpstreamUnreachable
	case KindUpstreamUnauthorized:
		return ErrUpstreamUnauthorized
	default:
		return ErrUpstreamRejected
	}
}

// Attempt records one upstream call made while resolving a request.
type Attempt struct {
	Path   string  `json:"path"`
	Status int     `json:"status"`
	Text   *string `json:"text"`
}

// UpstreamError is the failure side of an upstream call. Kind decides how
// handlers map it to a status; Attempts carries per-call diagnostics.
type UpstreamError struct {
	Kind     Kind
	Status   int
	Body     []byte
	Attempts []Attempt
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d", e.Kind, e.Status)
	}
	return e.Kind.String()
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause.
func (e *UpstreamError) Unwrap() []error {
	errs := []error{e.Kind.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Unreachable wraps a transport failure.
func Unreachable(err error) *UpstreamError {
	return &UpstreamError{Kind: KindUpstreamUnreachable, Err: err}
}

// AsUpstream extracts an *UpstreamError from err.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
