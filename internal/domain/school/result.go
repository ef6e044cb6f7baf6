// Package school describes the school information API as the rest of the
// system sees it: a client interface and the tagged result every call returns.
package school

import (
	"errors"
	"fmt"
	"time"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/domain/shared"
)

// ResultKind tags the variant of a Result.
type ResultKind int

const (
	KindSuccess ResultKind = iota
	// KindRemote: the API answered with a non-success status.
	KindRemote
	// KindTransport: the request never produced an HTTP response.
	KindTransport
	// KindUnmappable: the API answered but the body could not be decoded.
	KindUnmappable
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRemote:
		return "remote_error"
	case KindTransport:
		return "transport_error"
	case KindUnmappable:
		return "unmappable_error"
	default:
		return "unknown"
	}
}

// RemoteError is a business error reported by the API.
type RemoteError struct {
	StatusCode int
	Timestamp  time.Time
	Message    string
	Path       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("school api: %s returned %d: %s", e.Path, e.StatusCode, e.Message)
}

// Unauthorized reports whether the X-Token was rejected.
func (e *RemoteError) Unauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// Is maps remote failures onto shared sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case shared.ErrExternalService:
		return true
	case shared.ErrUnauthorized:
		return e.Unauthorized()
	case shared.ErrRateLimited:
		return e.StatusCode == 429
	case shared.ErrServiceUnavailable:
		return e.StatusCode >= 500
	}
	return false
}

// TransportError wraps a network-layer failure.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("school api: %s transport failure: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets callers treat transport failures as an unavailable service.
func (e *TransportError) Is(target error) bool {
	return target == shared.ErrServiceUnavailable
}

// UnmappableError wraps a decoding failure.
type UnmappableError struct {
	Path string
	Body string
	Err  error
}

func (e *UnmappableError) Error() string {
	return fmt.Sprintf("school api: %s returned unmappable content: %v", e.Path, e.Err)
}

func (e *UnmappableError) Unwrap() error { return e.Err }

// Is maps decoding failures onto ErrInvalidFormat.
func (e *UnmappableError) Is(target error) bool {
	return target == shared.ErrInvalidFormat
}

// Result is Success | RemoteError | TransportError | UnmappableError.
type Result[T any] struct {
	kind  ResultKind
	value T
	err   error
}

// Success wraps a decoded value.
func Success[T any](v T) Result[T] {
	return Result[T]{kind: KindSuccess, value: v}
}

// Remote wraps an API error.
func Remote[T any](err *RemoteError) Result[T] {
	return Result[T]{kind: KindRemote, err: err}
}

// Transport wraps a network error.
func Transport[T any](err *TransportError) Result[T] {
	return Result[T]{kind: KindTransport, err: err}
}

// Unmappable wraps a decoding error.
func Unmappable[T any](err *UnmappableError) Result[T] {
	return Result[T]{kind: KindUnmappable, err: err}
}

// Kind returns the variant tag.
func (r Result[T]) Kind() ResultKind { return r.kind }

// OK reports whether r is a Success.
func (r Result[T]) OK() bool { return r.kind == KindSuccess }

// Value returns the decoded value; zero unless OK.
func (r Result[T]) Value() T { return r.value }

// Err returns the typed error for failure variants and nil for Success.
func (r Result[T]) Err() error {
	if r.kind == KindSuccess {
		return nil
	}
	if r.err == nil {
		return errors.New("school api: " + r.kind.String())
	}
	return r.err
}

// Unwrap returns (value, error) for callers that do not care about the variant.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.Err()
}
