package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Jingik/S.F.D/internal/application/live"
	scannerapp "github.com/Jingik/S.F.D/internal/application/scanner"
	"github.com/Jingik/S.F.D/internal/domain/detection"
)

// EventPublisher pushes detection events to a message broker. Optional;
// a nil publisher disables broker delivery.
type EventPublisher interface {
	Publish(exchange string, body []byte) error
}

// Service turns one hardware trigger into a consistent fan-out: resolve the
// active device, re-associate the latest detection with it, look up its
// analysis, and push the resulting record to live clients.
type Service struct {
	Scanners   *scannerapp.Manager
	Detections detection.Repository
	Analyses   detection.AnalysisRepository
	Live       *live.Registry
	Publisher  EventPublisher
	Exchange   string
	Log        zerolog.Logger

	// Delivered, when set, receives the number of live clients each
	// trigger reached.
	Delivered func(n int)
}

// Handle processes a single trigger. Store errors abort and propagate;
// delivery failures are absorbed, the registry prunes dead connections
// itself. The returned record is what subscribers received.
func (s *Service) Handle(ctx context.Context) (*detection.Record, error) {
	sess, err := s.Scanners.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}

	d, err := s.Detections.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching latest detection: %w", err)
	}
	if err := s.Detections.SetScanner(ctx, d.ID, sess.ID); err != nil {
		return nil, fmt.Errorf("associating detection %d with scanner %d: %w", d.ID, sess.ID, err)
	}
	d.ScannerID = sess.ID

	analysis, err := s.Analyses.ByDetection(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up analysis for detection %d: %w", d.ID, err)
	}

	rec := detection.BuildRecord(d, analysis, sess.SerialNumber)
	s.deliver(sess.UserID, rec)
	s.publish(rec)
	return &rec, nil
}

func (s *Service) deliver(ownerID int64, rec detection.Record) {
	if ownerID > 0 {
		if s.Live.SendTo(ownerID, rec) {
			s.delivered(1)
			return
		}
		s.Log.Warn().Int64("user_id", ownerID).
			Msg("owner has no live connection, falling back to broadcast")
	}
	n := s.Live.BroadcastAll(rec)
	s.delivered(n)
	s.Log.Info().Int("delivered", n).Msg("trigger broadcast")
}

func (s *Service) delivered(n int) {
	if s.Delivered != nil {
		s.Delivered(n)
	}
}

func (s *Service) publish(rec detection.Record) {
	if s.Publisher == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		s.Log.Error().Err(err).Msg("marshaling detection event")
		return
	}
	if err := s.Publisher.Publish(s.Exchange, body); err != nil {
		// broker delivery is best effort, the trigger outcome is unaffected
		s.Log.Error().Err(err).Msg("publishing detection event")
	}
}
