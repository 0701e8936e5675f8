package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound is returned when a referenced course, student or score row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownIntegration is returned for integration keys that are not registered.
	ErrUnknownIntegration = errors.New("unknown integration")

	// ErrInvalidQuery is returned for malformed or unbounded filters.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrAlreadyExists is returned on unique key conflicts.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStoreUnavailable marks connection level failures. Reads may be retried.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreClosed is returned by every operation issued after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrConsistencyViolation means a student is missing a score or cached score
	// row for a registered integration. It always indicates a bug and is never
	// repaired silently.
	ErrConsistencyViolation = errors.New("ledger consistency violation")
)

// ErrorClassifier maps a driver specific error onto one of the sentinels
// above, or returns nil when it has no opinion.
type ErrorClassifier func(error) error

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *BaseStore) classify(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	// A query that passed guard() can still lose its handle to a concurrent Close.
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", ErrStoreClosed, err)
	}
	if s.Classifier != nil {
		if kind := s.Classifier(err); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
