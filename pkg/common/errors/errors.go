// Package errors defines the sentinel error kinds surfaced by the MosaicDB
// coordinator and their mapping to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrShardUnavailable = errors.New("shard unavailable")
	ErrAllShardsFailed  = errors.New("all shards failed")
	ErrTimeout          = errors.New("operation timed out")
	ErrOverloaded       = errors.New("coordinator overloaded")
	ErrClassifierBypass = errors.New("invalid forced query class")
	ErrInternal         = errors.New("internal error")
)

// QueryError carries a sentinel kind plus a human-readable message.
type QueryError struct {
	Err     error
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel with a message.
func New(sentinel error, message string) *QueryError {
	return &QueryError{Err: sentinel, Message: message}
}

// Newf wraps a sentinel with a formatted message.
func Newf(sentinel error, format string, args ...any) *QueryError {
	return &QueryError{Err: sentinel, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatusCode maps an error kind to the status returned by the HTTP surface.
func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrClassifierBypass):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrAllShardsFailed), errors.Is(err, ErrShardUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
