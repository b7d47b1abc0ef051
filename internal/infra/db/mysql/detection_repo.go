package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/Jingik/S.F.D/internal/domain/detection"
)

type DetectionRepository struct {
	db *sql.DB
}

func NewDetectionRepository(db *sql.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

const detectionColumns = `id, scanners_id, object_url, completed_at, detection_type`

// Save inserts a detection row.
func (r *DetectionRepository) Save(ctx context.Context, d *domain.Detection) (domain.DetectionID, error) {
	const q = `
INSERT INTO object_detection (scanners_id, object_url, completed_at, detection_type)
VALUES (?,?,?,?);
`
	completed := d.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q, d.ScannerID, d.ObjectURL, completed, d.Type)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return domain.DetectionID(id), nil
}

// Get by ID
func (r *DetectionRepository) Get(ctx context.Context, id domain.DetectionID) (*domain.Detection, error) {
	const q = `
SELECT ` + detectionColumns + `
FROM object_detection
WHERE id=? LIMIT 1;
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

// Latest detection across all scanners
func (r *DetectionRepository) Latest(ctx context.Context) (*domain.Detection, error) {
	const q = `
SELECT ` + detectionColumns + `
FROM object_detection
ORDER BY id DESC LIMIT 1;
`
	return r.scanOne(r.db.QueryRowContext(ctx, q))
}

// LatestByUser: newest detection on any scanner owned by the user
func (r *DetectionRepository) LatestByUser(ctx context.Context, userID int64) (*domain.Detection, error) {
	const q = `
SELECT d.id, d.scanners_id, d.object_url, d.completed_at, d.detection_type
FROM object_detection d
JOIN scanners s ON s.id = d.scanners_id
WHERE s.user_id=?
ORDER BY d.completed_at DESC LIMIT 1;
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, userID))
}

// SetScanner re-associates a detection with a scanner session.
func (r *DetectionRepository) SetScanner(ctx context.Context, id domain.DetectionID, scannerID int64) error {
	const q = `UPDATE object_detection SET scanners_id=? WHERE id=?;`
	_, err := r.db.ExecContext(ctx, q, scannerID, id)
	return err
}

// ByUserSince: a user's detections completed after the cutoff
func (r *DetectionRepository) ByUserSince(ctx context.Context, userID int64, since time.Time) ([]*domain.Detection, error) {
	const q = `
SELECT d.id, d.scanners_id, d.object_url, d.completed_at, d.detection_type
FROM object_detection d
JOIN scanners s ON s.id = d.scanners_id
WHERE s.user_id=? AND d.completed_at >= ?
ORDER BY d.completed_at DESC;
`
	return r.scanMany(ctx, q, userID, since)
}

// DefectiveByUserSince: defective subset of ByUserSince
func (r *DetectionRepository) DefectiveByUserSince(ctx context.Context, userID int64, since time.Time) ([]*domain.Detection, error) {
	const q = `
SELECT d.id, d.scanners_id, d.object_url, d.completed_at, d.detection_type
FROM object_detection d
JOIN scanners s ON s.id = d.scanners_id
WHERE s.user_id=? AND d.completed_at >= ? AND d.detection_type=1
ORDER BY d.completed_at DESC;
`
	return r.scanMany(ctx, q, userID, since)
}

// ByScanner: all detections recorded against a scanner session
func (r *DetectionRepository) ByScanner(ctx context.Context, scannerID int64) ([]*domain.Detection, error) {
	const q = `
SELECT ` + detectionColumns + `
FROM object_detection
WHERE scanners_id=?
ORDER BY completed_at DESC;
`
	return r.scanMany(ctx, q, scannerID)
}

func (r *DetectionRepository) scanOne(row *sql.Row) (*domain.Detection, error) {
	var d domain.Detection
	if err := row.Scan(&d.ID, &d.ScannerID, &d.ObjectURL, &d.CompletedAt, &d.Type); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoRecord
		}
		return nil, err
	}
	return &d, nil
}

func (r *DetectionRepository) scanMany(ctx context.Context, q string, args ...any) ([]*domain.Detection, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Detection
	for rows.Next() {
		var d domain.Detection
		if err := rows.Scan(&d.ID, &d.ScannerID, &d.ObjectURL, &d.CompletedAt, &d.Type); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
