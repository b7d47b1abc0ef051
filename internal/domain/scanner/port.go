package scanner

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals the scanner (or its owning user) does not exist.
var ErrNotFound = errors.New("scanner not found")

// ErrNoActiveScanner signals a trigger arrived while no device session is
// active. Expected under normal operation, not a fault.
var ErrNoActiveScanner = errors.New("no active scanner session")

// Repository port (persistence for scanner sessions)
type Repository interface {
	Save(ctx context.Context, s *Scanner) (int64, error)
	Get(ctx context.Context, id int64) (*Scanner, error)
	List(ctx context.Context) ([]*Scanner, error)

	// BySerial returns the most recent session row for a serial number;
	// ErrNotFound when the serial has never been activated.
	BySerial(ctx context.Context, serial int64) (*Scanner, error)

	// ActiveSessions returns every in-use session, newest first.
	ActiveSessions(ctx context.Context) ([]*Scanner, error)

	// SetUsage flips the in-use flag; completedAt is stamped when the
	// session goes idle and ignored otherwise.
	SetUsage(ctx context.Context, id int64, inUse bool, completedAt time.Time) error
}
