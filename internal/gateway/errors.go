package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound    = errors.New("appointment not found")
	ErrRateLimited = errors.New("too many requests")
	ErrUnavailable = errors.New("backend unavailable")
)

// StatusError is a non-success HTTP response from the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	case ErrUnavailable:
		return e.Code >= 500
	}
	return false
}

type Kind string

const (
	KindNone        Kind = ""
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindCanceled    Kind = "canceled"
)

// Classify maps any gateway failure onto the kinds the agenda core
// distinguishes. Everything that is not a lookup miss, throttling or caller
// cancellation is transient.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindTransient
	}
}
