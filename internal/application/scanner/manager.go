package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Jingik/S.F.D/internal/application"
	domain "github.com/Jingik/S.F.D/internal/domain/scanner"
)

// Manager owns device activation state: which serial is in use and which
// user holds it. The repository rows are the single source of truth; the
// mutex serializes the idle-then-activate transition.
type Manager struct {
	Repo  domain.Repository
	Clock application.Clock
	Log   zerolog.Logger

	mu sync.Mutex
}

func NewManager(repo domain.Repository, clock application.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		Repo:  repo,
		Clock: clock,
		Log:   log.With().Str("component", "scanner-manager").Logger(),
	}
}

// Attach activates a session binding serial to userID. Any session currently
// in use is forced idle first: the transition to in-use is exclusive.
func (m *Manager) Attach(ctx context.Context, userID, serial int64) (*domain.Scanner, error) {
	if userID <= 0 || serial <= 0 {
		return nil, fmt.Errorf("attach user=%d serial=%d: %w", userID, serial, domain.ErrNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Clock.Now()

	active, err := m.Repo.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding active sessions: %w", err)
	}
	for _, s := range active {
		if err := m.Repo.SetUsage(ctx, s.ID, false, now); err != nil {
			return nil, fmt.Errorf("forcing session %d idle: %w", s.ID, err)
		}
		m.Log.Info().Int64("scanner_id", s.ID).Int64("user_id", s.UserID).
			Msg("forced prior session idle")
	}

	s := &domain.Scanner{
		UserID:       userID,
		SerialNumber: serial,
		IsUsing:      true,
		ActivatedAt:  now,
	}
	id, err := m.Repo.Save(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	s.ID = id

	m.Log.Info().Int64("scanner_id", id).Int64("user_id", userID).
		Int64("serial", serial).Msg("session attached")
	return s, nil
}

// Detach idles the session owned by userID, if any. Calling it for a user
// with no session is a no-op: every disconnect path funnels through here and
// must be safe to repeat.
func (m *Manager) Detach(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.Repo.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("finding active sessions: %w", err)
	}
	now := m.Clock.Now()
	for _, s := range active {
		if s.UserID != userID {
			continue
		}
		if err := m.Repo.SetUsage(ctx, s.ID, false, now); err != nil {
			return fmt.Errorf("idling session %d: %w", s.ID, err)
		}
		m.Log.Info().Int64("scanner_id", s.ID).Int64("user_id", userID).Msg("session detached")
	}
	return nil
}

// DetachAll idles every in-use session. Used by the administrative
// disconnect endpoint.
func (m *Manager) DetachAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.Repo.ActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("finding active sessions: %w", err)
	}
	now := m.Clock.Now()
	for _, s := range active {
		if err := m.Repo.SetUsage(ctx, s.ID, false, now); err != nil {
			return fmt.Errorf("idling session %d: %w", s.ID, err)
		}
	}
	return nil
}

// ActiveSession returns the most recently activated in-use session.
func (m *Manager) ActiveSession(ctx context.Context) (*domain.Scanner, error) {
	active, err := m.Repo.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding active sessions: %w", err)
	}
	if len(active) == 0 {
		return nil, domain.ErrNoActiveScanner
	}
	return active[0], nil
}

// List returns every recorded scanner session.
func (m *Manager) List(ctx context.Context) ([]*domain.Scanner, error) {
	return m.Repo.List(ctx)
}

// BySerial looks up the most recent session for a serial number.
func (m *Manager) BySerial(ctx context.Context, serial int64) (*domain.Scanner, error) {
	return m.Repo.BySerial(ctx, serial)
}
