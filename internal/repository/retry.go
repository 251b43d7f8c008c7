package repository

import (
	"context"
	"errors"
	"time"

	"live-auction/internal/biddingerrors"
)

// readRetryDelay is the pause before the single retry of a failed read
var readRetryDelay = 20 * time.Millisecond

// IsTransient reports whether err looks like a store or transport failure
// rather than a definitive answer from the store.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound),
		errors.Is(err, biddingerrors.ErrUserNotFound),
		errors.Is(err, biddingerrors.ErrSessionNotFound),
		errors.Is(err, biddingerrors.ErrEmailTaken),
		errors.Is(err, biddingerrors.ErrDuplicateBid),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// ReadWithRetry runs a read once more after a transient failure.
// A second failure is returned wrapped with ErrInternal.
func ReadWithRetry[T any](ctx context.Context, read func(ctx context.Context) (T, error)) (T, error) {
	v, err := read(ctx)
	if !IsTransient(err) {
		return v, err
	}

	select {
	case <-ctx.Done():
		var zero T
		return zero, errors.Join(biddingerrors.ErrInternal, err)
	case <-time.After(readRetryDelay):
	}

	v, err = read(ctx)
	if IsTransient(err) {
		var zero T
		return zero, errors.Join(biddingerrors.ErrInternal, err)
	}
	return v, err
}
