package records

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jingik/S.F.D/internal/application"
	"github.com/Jingik/S.F.D/internal/domain/detection"
	scandomain "github.com/Jingik/S.F.D/internal/domain/scanner"
)

// ObjectStore persists capture images and returns their public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Service implements the read side of detection records and capture ingest.
type Service struct {
	Detections detection.Repository
	Analyses   detection.AnalysisRepository
	Scanners   scandomain.Repository
	Store      ObjectStore
	Clock      application.Clock
	Log        zerolog.Logger
}

// Latest returns the newest record for a user's scanners.
func (s *Service) Latest(ctx context.Context, userID int64) (*detection.Record, error) {
	d, err := s.Detections.LatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.toRecord(ctx, d)
}

// Week returns the user's records from the last 7 days.
func (s *Service) Week(ctx context.Context, userID int64) ([]detection.Record, error) {
	since := s.Clock.Now().AddDate(0, 0, -7)
	ds, err := s.Detections.ByUserSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	return s.toRecords(ctx, ds)
}

// TodayDefects returns today's defective records for a user.
func (s *Service) TodayDefects(ctx context.Context, userID int64) ([]detection.Record, error) {
	now := s.Clock.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	ds, err := s.Detections.DefectiveByUserSince(ctx, userID, start)
	if err != nil {
		return nil, err
	}
	return s.toRecords(ctx, ds)
}

// DefectsByScanner returns the defective analyses recorded for a scanner.
func (s *Service) DefectsByScanner(ctx context.Context, scannerID int64) ([]*detection.Analysis, error) {
	ds, err := s.Detections.ByScanner(ctx, scannerID)
	if err != nil {
		return nil, err
	}
	ids := make([]detection.DetectionID, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.ID)
	}
	return s.Analyses.DefectiveByDetections(ctx, ids)
}

// Ingest stores a capture image and creates the detection row the next
// trigger will pick up.
func (s *Service) Ingest(ctx context.Context, serial int64, filename string, r io.Reader, size int64, contentType string, defective bool) (*detection.Detection, error) {
	scanner, err := s.Scanners.BySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	key := fmt.Sprintf("captures/%d/%d-%s", serial, now.UnixNano(), filename)
	url, err := s.Store.Put(ctx, key, r, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("storing capture: %w", err)
	}

	d := &detection.Detection{
		ScannerID:   scanner.ID,
		ObjectURL:   url,
		CompletedAt: now,
		Type:        detection.TypeNormal,
	}
	if defective {
		d.Type = detection.TypeDefective
	}
	id, err := s.Detections.Save(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("saving detection: %w", err)
	}
	d.ID = id

	s.Log.Info().Int64("serial", serial).Int64("detection_id", int64(id)).
		Bool("defective", defective).Msg("capture ingested")
	return d, nil
}

func (s *Service) toRecords(ctx context.Context, ds []*detection.Detection) ([]detection.Record, error) {
	out := make([]detection.Record, 0, len(ds))
	for _, d := range ds {
		rec, err := s.toRecord(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *Service) toRecord(ctx context.Context, d *detection.Detection) (*detection.Record, error) {
	a, err := s.Analyses.ByDetection(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("looking up analysis for detection %d: %w", d.ID, err)
	}

	var serial int64
	if d.ScannerID > 0 {
		sc, err := s.Scanners.Get(ctx, d.ScannerID)
		if err != nil {
			// serial 0 in the payload means the association row is gone
			s.Log.Debug().Err(err).Int64("detection_id", int64(d.ID)).
				Int64("scanner_id", d.ScannerID).Msg("scanner lookup failed for record")
		} else {
			serial = sc.SerialNumber
		}
	}

	rec := detection.BuildRecord(d, a, serial)
	return &rec, nil
}
