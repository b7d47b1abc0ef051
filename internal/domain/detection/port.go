package detection

import (
	"context"
	"errors"
	"time"
)

// ErrNoRecord signals no detection exists for the requested scope.
var ErrNoRecord = errors.New("no detection record found")

// Repository port (persistence for detections)
type Repository interface {
	Save(ctx context.Context, d *Detection) (DetectionID, error)
	Get(ctx context.Context, id DetectionID) (*Detection, error)

	// Latest returns the most recently completed detection across all
	// scanners; ErrNoRecord when the table is empty.
	Latest(ctx context.Context) (*Detection, error)

	// LatestByUser returns the most recent detection whose scanner belongs
	// to the user; ErrNoRecord when none.
	LatestByUser(ctx context.Context, userID int64) (*Detection, error)

	// SetScanner re-associates a detection with a scanner session.
	SetScanner(ctx context.Context, id DetectionID, scannerID int64) error

	ByUserSince(ctx context.Context, userID int64, since time.Time) ([]*Detection, error)
	DefectiveByUserSince(ctx context.Context, userID int64, since time.Time) ([]*Detection, error)
	ByScanner(ctx context.Context, scannerID int64) ([]*Detection, error)
}

// AnalysisRepository port (persistence for defect analyses)
type AnalysisRepository interface {
	Save(ctx context.Context, a *Analysis) error

	// ByDetection returns the analysis for a detection, or nil when the
	// detection has not been analyzed yet. Absence is not an error.
	ByDetection(ctx context.Context, id DetectionID) (*Analysis, error)

	DefectiveByDetections(ctx context.Context, ids []DetectionID) ([]*Analysis, error)
}
