package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	domain "github.com/Jingik/S.F.D/internal/domain/detection"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Save inserts or refreshes the analysis for a detection.
func (r *AnalysisRepository) Save(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO defect_analysis (object_detection_id, analysis_details, confidence, created_at)
VALUES (?,?,?,?)
ON DUPLICATE KEY UPDATE
 analysis_details=VALUES(analysis_details),
 confidence=VALUES(confidence);
`
	_, err := r.db.ExecContext(ctx, q, a.DetectionID, string(a.Class), a.Confidence, a.CreatedAt)
	return err
}

// ByDetection returns the analysis row for a detection, nil when the
// detection has not been analyzed yet.
func (r *AnalysisRepository) ByDetection(ctx context.Context, id domain.DetectionID) (*domain.Analysis, error) {
	const q = `
SELECT id, object_detection_id, analysis_details, confidence, created_at
FROM defect_analysis
WHERE object_detection_id=?
ORDER BY id DESC LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, id)

	var a domain.Analysis
	var class string
	if err := row.Scan(&a.ID, &a.DetectionID, &class, &a.Confidence, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Class = domain.DefectClass(class)
	return &a, nil
}

// DefectiveByDetections returns non-normal analyses for the given detections.
func (r *AnalysisRepository) DefectiveByDetections(ctx context.Context, ids []domain.DetectionID) ([]*domain.Analysis, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	q := `
SELECT id, object_detection_id, analysis_details, confidence, created_at
FROM defect_analysis
WHERE analysis_details <> 'normal' AND object_detection_id IN (` + placeholders + `)
ORDER BY id DESC;
`
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		var class string
		if err := rows.Scan(&a.ID, &a.DetectionID, &class, &a.Confidence, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Class = domain.DefectClass(class)
		out = append(out, &a)
	}
	return out, rows.Err()
}
