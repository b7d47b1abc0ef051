package live

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jingik/S.F.D/internal/domain/detection"
)

// Connection is one live subscription. The registry owns it for its whole
// lifetime; transports only read from Events and Done.
type Connection struct {
	// ID correlates log lines across subscribe, delivery, and teardown;
	// UserID alone is ambiguous once a user reconnects.
	ID        string
	UserID    int64
	CreatedAt time.Time

	events chan detection.Record
	done   chan struct{}
	once   sync.Once
}

func newConnection(userID int64, buffer int, now time.Time) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		events:    make(chan detection.Record, buffer),
		done:      make(chan struct{}),
	}
}

// Events streams payloads to the transport layer.
func (c *Connection) Events() <-chan detection.Record { return c.events }

// Done is closed when the connection is terminated, whichever of client
// completion, idle timeout, or send failure happens first.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Terminal reports whether the connection has been terminated.
func (c *Connection) Terminal() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) terminate() {
	c.once.Do(func() { close(c.done) })
}

// push attempts a non-blocking delivery. A terminal connection or a full
// buffer counts as failure; the caller treats failure as proof of death.
func (c *Connection) push(rec detection.Record) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- rec:
		return true
	default:
		return false
	}
}
