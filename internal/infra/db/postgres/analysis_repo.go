package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/Jingik/S.F.D/internal/domain/detection"
)

type AnalysisRepository struct{ db *sql.DB }

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository { return &AnalysisRepository{db: db} }

func (r *AnalysisRepository) Save(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO defect_analysis (object_detection_id, analysis_details, confidence, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (object_detection_id) DO UPDATE SET
 analysis_details = EXCLUDED.analysis_details,
 confidence = EXCLUDED.confidence;`
	_, err := r.db.ExecContext(ctx, q, a.DetectionID, string(a.Class), a.Confidence, a.CreatedAt)
	return err
}

func (r *AnalysisRepository) ByDetection(ctx context.Context, id domain.DetectionID) (*domain.Analysis, error) {
	const q = `
SELECT id, object_detection_id, analysis_details, confidence, created_at
FROM defect_analysis
WHERE object_detection_id=$1
ORDER BY id DESC
LIMIT 1;`
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

func (r *AnalysisRepository) DefectiveByDetections(ctx context.Context, ids []domain.DetectionID) ([]*domain.Analysis, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ph := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		ph = append(ph, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}
	q := `
SELECT id, object_detection_id, analysis_details, confidence, created_at
FROM defect_analysis
WHERE analysis_details <> 'normal' AND object_detection_id IN (` + strings.Join(ph, ",") + `)
ORDER BY id DESC;`

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
