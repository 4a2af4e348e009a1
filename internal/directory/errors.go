package directory

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the account credential was refused (401/403). It aborts the run.
	ErrUnauthorized = errors.New("directory: unauthorized")
	// ErrRateLimited means the API kept answering 429 after retries. It aborts the run.
	ErrRateLimited = errors.New("directory: rate limited")
	// ErrTransient is a network failure or 5xx that may succeed on the next run.
	ErrTransient = errors.New("directory: transient failure")
	// ErrPermanent is a request the API rejects as invalid.
	ErrPermanent = errors.New("directory: request rejected")
	// ErrNotFound means the resource is gone.
	ErrNotFound = errors.New("directory: resource not found")
	// ErrPrecondition means the If-Match etag no longer matches the remote record.
	ErrPrecondition = errors.New("directory: etag mismatch")
)

// StatusError is a non-2xx answer. It unwraps to the sentinel matching its status code.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("directory %s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("directory %s: status %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusUnauthorized, e.Code == http.StatusForbidden:
		return ErrUnauthorized
	case e.Code == http.StatusNotFound, e.Code == http.StatusGone:
		return ErrNotFound
	case e.Code == http.StatusPreconditionFailed:
		return ErrPrecondition
	case e.Code == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Code >= 500:
		return ErrTransient
	}
	return ErrPermanent
}

// AccountLevel reports whether err should stop the whole run instead of failing one entity.
func AccountLevel(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRateLimited)
}
