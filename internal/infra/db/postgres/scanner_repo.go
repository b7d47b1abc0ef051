package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/Jingik/S.F.D/internal/domain/scanner"
)

type ScannerRepository struct{ db *sql.DB }

func NewScannerRepository(db *sql.DB) *ScannerRepository { return &ScannerRepository{db: db} }

func (r *ScannerRepository) Save(ctx context.Context, s *domain.Scanner) (int64, error) {
	const q = `
INSERT INTO scanners (user_id, serial_number, is_using, activated_at, completed_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id;`
	activated := s.ActivatedAt
	if activated.IsZero() {
		activated = time.Now()
	}
	var id int64
	if err := r.db.QueryRowContext(ctx, q, s.UserID, s.SerialNumber, s.IsUsing, activated, s.CompletedAt).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *ScannerRepository) Get(ctx context.Context, id int64) (*domain.Scanner, error) {
	const q = `
SELECT id, user_id, serial_number, is_using, activated_at, completed_at
FROM scanners
WHERE id=$1
LIMIT 1;`
	return scanScanner(r.db.QueryRowContext(ctx, q, id))
}

func (r *ScannerRepository) List(ctx context.Context) ([]*domain.Scanner, error) {
	const q = `
SELECT id, user_id, serial_number, is_using, activated_at, completed_at
FROM scanners
ORDER BY activated_at DESC;`
	return r.query(ctx, q)
}

func (r *ScannerRepository) BySerial(ctx context.Context, serial int64) (*domain.Scanner, error) {
	const q = `
SELECT id, user_id, serial_number, is_using, activated_at, completed_at
FROM scanners
WHERE serial_number=$1
ORDER BY activated_at DESC
LIMIT 1;`
	return scanScanner(r.db.QueryRowContext(ctx, q, serial))
}

func (r *ScannerRepository) ActiveSessions(ctx context.Context) ([]*domain.Scanner, error) {
	const q = `
SELECT id, user_id, serial_number, is_using, activated_at, completed_at
FROM scanners
WHERE is_using
ORDER BY activated_at DESC, id DESC;`
	return r.query(ctx, q)
}

func (r *ScannerRepository) SetUsage(ctx context.Context, id int64, inUse bool, completedAt time.Time) error {
	if inUse {
		const q = `UPDATE scanners SET is_using=TRUE, completed_at=NULL WHERE id=$1;`
		_, err := r.db.ExecContext(ctx, q, id)
		return err
	}
	const q = `UPDATE scanners SET is_using=FALSE, completed_at=$1 WHERE id=$2;`
	_, err := r.db.ExecContext(ctx, q, completedAt, id)
	return err
}

func (r *ScannerRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Scanner, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Scanner
	for rows.Next() {
		var s domain.Scanner
		var completed sql.NullTime
		if err := rows.Scan(&s.ID, &s.UserID, &s.SerialNumber, &s.IsUsing, &s.ActivatedAt, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			s.CompletedAt = &completed.Time
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func scanScanner(row *sql.Row) (*domain.Scanner, error) {
	var s domain.Scanner
	var completed sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &s.SerialNumber, &s.IsUsing, &s.ActivatedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if completed.Valid {
		s.CompletedAt = &completed.Time
	}
	return &s, nil
}
