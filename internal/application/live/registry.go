package live

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jingik/S.F.D/internal/domain/detection"
)

// Registry maps each user to at most one live connection. All mutation goes
// through its methods; the map itself is never exposed.
type Registry struct {
	mu      sync.Mutex
	conns   map[int64]*Connection
	buffer  int
	log     zerolog.Logger
	onPrune func()
}

func NewRegistry(sendBuffer int, log zerolog.Logger) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	return &Registry{
		conns:  make(map[int64]*Connection),
		buffer: sendBuffer,
		log:    log.With().Str("component", "live-registry").Logger(),
	}
}

// Subscribe registers a new connection for the user, terminating and
// replacing any existing one.
func (r *Registry) Subscribe(userID int64) *Connection {
	c := newConnection(userID, r.buffer, time.Now())

	r.mu.Lock()
	if prev, ok := r.conns[userID]; ok {
		prev.terminate()
	}
	r.conns[userID] = c
	r.mu.Unlock()

	r.log.Info().Int64("user_id", userID).Str("conn_id", c.ID).Msg("client subscribed")
	return c
}

// Unsubscribe removes the user's connection if present. Idempotent.
func (r *Registry) Unsubscribe(userID int64) {
	r.mu.Lock()
	c, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if ok {
		c.terminate()
		r.log.Info().Int64("user_id", userID).Msg("client unsubscribed")
	}
}

// UnsubscribeAll terminates every connection and returns how many there were.
func (r *Registry) UnsubscribeAll() int {
	r.mu.Lock()
	terminated := make([]*Connection, 0, len(r.conns))
	for id, c := range r.conns {
		terminated = append(terminated, c)
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, c := range terminated {
		c.terminate()
	}
	if len(terminated) > 0 {
		r.log.Info().Int("count", len(terminated)).Msg("all clients unsubscribed")
	}
	return len(terminated)
}

// BroadcastAll delivers rec to every connection present when the call
// starts. Failed deliveries prune that connection only; the rest still
// receive the payload. Returns the number of successful deliveries.
func (r *Registry) BroadcastAll(rec detection.Record) int {
	r.mu.Lock()
	snapshot := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	delivered := 0
	for _, c := range snapshot {
		if c.push(rec) {
			delivered++
			continue
		}
		r.prune(c)
	}
	return delivered
}

// SendTo delivers rec to one user, best effort. A failed send removes the
// connection and returns false.
func (r *Registry) SendTo(userID int64, rec detection.Record) bool {
	r.mu.Lock()
	c, ok := r.conns[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if c.push(rec) {
		return true
	}
	r.prune(c)
	return false
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Drop terminates c and removes it from the registry, but only while the
// map still holds that exact connection: the user may have re-subscribed in
// the meantime, and the replacement must survive. Reports whether the user's
// entry was removed.
func (r *Registry) Drop(c *Connection) bool {
	r.mu.Lock()
	removed := false
	if cur, ok := r.conns[c.UserID]; ok && cur == c {
		delete(r.conns, c.UserID)
		removed = true
	}
	r.mu.Unlock()

	c.terminate()
	return removed
}

// OnPrune installs a callback fired whenever a delivery failure removes a
// connection. Set before the registry starts serving.
func (r *Registry) OnPrune(fn func()) {
	r.onPrune = fn
}

// prune is Drop for delivery failures.
func (r *Registry) prune(c *Connection) {
	r.Drop(c)
	if r.onPrune != nil {
		r.onPrune()
	}
	r.log.Warn().Int64("user_id", c.UserID).Str("conn_id", c.ID).Msg("delivery failed, connection pruned")
}
