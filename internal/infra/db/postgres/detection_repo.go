package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/Jingik/S.F.D/internal/domain/detection"
)

type DetectionRepository struct{ db *sql.DB }

func NewDetectionRepository(db *sql.DB) *DetectionRepository { return &DetectionRepository{db: db} }

func (r *DetectionRepository) Save(ctx context.Context, d *domain.Detection) (domain.DetectionID, error) {
	const q = `
INSERT INTO object_detection (scanners_id, object_url, completed_at, detection_type)
VALUES ($1,$2,$3,$4)
RETURNING id;`
	completed := d.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	var id int64
	if err := r.db.QueryRowContext(ctx, q, d.ScannerID, d.ObjectURL, completed, d.Type).Scan(&id); err != nil {
		return 0, err
	}
	return domain.DetectionID(id), nil
}

func (r *DetectionRepository) Get(ctx context.Context, id domain.DetectionID) (*domain.Detection, error) {
	const q = `
SELECT id, scanners_id, object_url, completed_at, detection_type
FROM object_detection
WHERE id=$1
LIMIT 1;`
	return scanDetection(r.db.QueryRowContext(ctx, q, id))
}

func (r *DetectionRepository) Latest(ctx context.Context) (*domain.Detection, error) {
	const q = `
SELECT id, scanners_id, object_url, completed_at, detection_type
FROM object_detection
ORDER BY id DESC
LIMIT 1;`
	return scanDetection(r.db.QueryRowContext(ctx, q))
}

func (r *DetectionRepository) LatestByUser(ctx context.Context, userID int64) (*domain.Detection, error) {
	const q = `
SELECT d.id, d.scanners_id, d.object_url, d.completed_at, d.detection_type
FROM object_detection d
JOIN scanners s ON s.id = d.scanners_id
WHERE s.user_id=$1
ORDER BY d.completed_at DESC
LIMIT 1;`
	return scanDetection(r.db.QueryRowContext(ctx, q, userID))
}

func (r *DetectionRepository) SetScanner(ctx context.Context, id domain.DetectionID, scannerID int64) error {
	const q = `UPDATE object_detection SET scanners_id=$1 WHERE id=$2;`
	_, err := r.db.ExecContext(ctx, q, scannerID, id)
	return err
}

func (r *DetectionRepository) ByUserSince(ctx context.Context, userID int64, since time.Time) ([]*domain.Detection, error) {
	const q = `
SELECT d.id, d.scanners_id, d.object_url, d.completed_at, d.detection_type
FROM object_detection d
JOIN scanners s ON s.id = d.scanners_id
WHERE s.user_id=$1 AND d.completed_at >= $2
ORDER BY d.completed_at DESC;`
	return r.query(ctx, q, userID, since)
}

func (r *DetectionRepository) DefectiveByUserSince(ctx context.Context, userID int64, since time.Time) ([]*domain.Detection, error) {
	const q = `
SELECT d.id, d.scanners_id, d.object_url, d.completed_at, d.detection_type
FROM object_detection d
JOIN scanners s ON s.id = d.scanners_id
WHERE s.user_id=$1 AND d.completed_at >= $2 AND d.detection_type=1
ORDER BY d.completed_at DESC;`
	return r.query(ctx, q, userID, since)
}

func (r *DetectionRepository) ByScanner(ctx context.Context, scannerID int64) ([]*domain.Detection, error) {
	const q = `
SELECT id, scanners_id, object_url, completed_at, detection_type
FROM object_detection
WHERE scanners_id=$1
ORDER BY completed_at DESC;`
	return r.query(ctx, q, scannerID)
}

func (r *DetectionRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Detection, error) {
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

func scanDetection(row *sql.Row) (*domain.Detection, error) {
	var d domain.Detection
	if err := row.Scan(&d.ID, &d.ScannerID, &d.ObjectURL, &d.CompletedAt, &d.Type); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoRecord
		}
		return nil, err
	}
	return &d, nil
}
