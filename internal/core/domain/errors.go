package domain

import (
	"context"
	"errors"
	"fmt"
)

// Fatal and stage-level error kinds for the query pipeline. Stage code wraps
// backend failures with WrapError so callers can test with errors.Is without
// depending on infrastructure packages.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrRetrieval       = errors.New("retrieval error")
	ErrRerank          = errors.New("rerank error")
	ErrReasoningBranch = errors.New("reasoning branch error")
	ErrGeneration      = errors.New("generation error")

	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendTimeout     = errors.New("backend timeout")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidRequest     = errors.New("invalid backend request")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsRetryableBackendError reports whether the failure is worth another
// attempt against the same backend.
func IsRetryableBackendError(err error) bool {
	return errors.Is(err, ErrBackendTimeout) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTemporary)
}

// TransportErrorKind picks the backend kind for a failed HTTP round trip.
// A per-call deadline surfaces from net/http as a url.Error wrapping
// context.DeadlineExceeded (or reporting Timeout), and must map to the
// timeout kind so it keeps its retry budget.
func TransportErrorKind(err error) error {
	var timeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		return ErrBackendTimeout
	}
	return ErrBackendUnavailable
}
