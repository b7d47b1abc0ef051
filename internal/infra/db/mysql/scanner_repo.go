package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/Jingik/S.F.D/internal/domain/scanner"
)

type ScannerRepository struct {
	db *sql.DB
}

func NewScannerRepository(db *sql.DB) *ScannerRepository {
	return &ScannerRepository{db: db}
}

const scannerColumns = `id, user_id, serial_number, is_using, activated_at, completed_at`

// Save inserts a scanner session row.
func (r *ScannerRepository) Save(ctx context.Context, s *domain.Scanner) (int64, error) {
	const q = `
INSERT INTO scanners (user_id, serial_number, is_using, activated_at, completed_at)
VALUES (?,?,?,?,?);
`
	activated := s.ActivatedAt
	if activated.IsZero() {
		activated = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q, s.UserID, s.SerialNumber, s.IsUsing, activated, s.CompletedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get by ID
func (r *ScannerRepository) Get(ctx context.Context, id int64) (*domain.Scanner, error) {
	const q = `
SELECT ` + scannerColumns + `
FROM scanners
WHERE id=? LIMIT 1;
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

// List all scanner sessions
func (r *ScannerRepository) List(ctx context.Context) ([]*domain.Scanner, error) {
	const q = `
SELECT ` + scannerColumns + `
FROM scanners
ORDER BY activated_at DESC;
`
	return r.scanMany(ctx, q)
}

// BySerial: most recent session for a serial number
func (r *ScannerRepository) BySerial(ctx context.Context, serial int64) (*domain.Scanner, error) {
	const q = `
SELECT ` + scannerColumns + `
FROM scanners
WHERE serial_number=?
ORDER BY activated_at DESC LIMIT 1;
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, serial))
}

// ActiveSessions: every in-use session, newest first
func (r *ScannerRepository) ActiveSessions(ctx context.Context) ([]*domain.Scanner, error) {
	const q = `
SELECT ` + scannerColumns + `
FROM scanners
WHERE is_using=1
ORDER BY activated_at DESC, id DESC;
`
	return r.scanMany(ctx, q)
}

// SetUsage flips the in-use flag, stamping completion on the idle transition.
func (r *ScannerRepository) SetUsage(ctx context.Context, id int64, inUse bool, completedAt time.Time) error {
	if inUse {
		const q = `UPDATE scanners SET is_using=1, completed_at=NULL WHERE id=?;`
		_, err := r.db.ExecContext(ctx, q, id)
		return err
	}
	const q = `UPDATE scanners SET is_using=0, completed_at=? WHERE id=?;`
	_, err := r.db.ExecContext(ctx, q, completedAt, id)
	return err
}

func (r *ScannerRepository) scanOne(row *sql.Row) (*domain.Scanner, error) {
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

func (r *ScannerRepository) scanMany(ctx context.Context, q string, args ...any) ([]*domain.Scanner, error) {
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
