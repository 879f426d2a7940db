package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/snaprolabs/snapro/internal/model"
)

type LicenseStore struct {
	db *sql.DB
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

func scanLicense(scanner interface{ Scan(...any) error }) (*model.License, error) {
	var l model.License
	var paymentID, machineID sql.NullString
	var activatedAt, expiresAt, lastValidated sql.NullTime
	err := scanner.Scan(
		&l.ID, &l.Key, &l.Type, &l.Status, &l.UserID, &paymentID,
		&activatedAt, &expiresAt, &machineID, &lastValidated,
		&l.ValidationCount, &l.DurationMonths, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		l.PaymentID = &paymentID.String
	}
	if machineID.Valid {
		l.MachineID = &machineID.String
	}
	if activatedAt.Valid {
		l.ActivatedAt = &activatedAt.Time
	}
	if expiresAt.Valid {
		l.ExpiresAt = &expiresAt.Time
	}
	if lastValidated.Valid {
		l.LastValidated = &lastValidated.Time
	}
	return &l, nil
}

const licenseCols = `id, key, type, status, user_id, payment_id, activated_at, expires_at, machine_id, last_validated, validation_count, duration_months, created_at`

// CreateLicenseParams carries the attributes of a freshly minted license.
type CreateLicenseParams struct {
	Key            string
	Type           model.Tier
	Status         string
	UserID         int64
	PaymentID      *string
	ActivatedAt    *time.Time
	ExpiresAt      *time.Time
	DurationMonths int
}

// Create inserts a new license. The UNIQUE constraint on payment_id backs up
// the reconciler's idempotency guard: even a logic bug cannot mint two
// licenses for one payment.
func (s *LicenseStore) Create(p CreateLicenseParams) (*model.License, error) {
	result, err := s.db.Exec(
		`INSERT INTO licenses (key, type, status, user_id, payment_id, activated_at, expires_at, duration_months)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Key, p.Type, p.Status, p.UserID, p.PaymentID, p.ActivatedAt, p.ExpiresAt, p.DurationMonths,
	)
	if err != nil {
		return nil, fmt.Errorf("insert license: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *LicenseStore) GetByID(id int64) (*model.License, error) {
	row := s.db.QueryRow(`SELECT `+licenseCols+` FROM licenses WHERE id = ?`, id)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return l, nil
}

// GetByKey looks a license up by its canonical key string.
func (s *LicenseStore) GetByKey(key string) (*model.License, error) {
	row := s.db.QueryRow(`SELECT `+licenseCols+` FROM licenses WHERE key = ?`, key)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	return l, nil
}

func (s *LicenseStore) GetByPaymentID(paymentID string) (*model.License, error) {
	row := s.db.QueryRow(`SELECT `+licenseCols+` FROM licenses WHERE payment_id = ?`, paymentID)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by payment: %w", err)
	}
	return l, nil
}

func (s *LicenseStore) ListByUser(userID int64) ([]*model.License, error) {
	rows, err := s.db.Query(`SELECT `+licenseCols+` FROM licenses WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*model.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

// BestActiveForUser returns the user's highest-ranked currently-active
// license, or nil if none. Ordering is LIFETIME > PRO > FREE, then latest
// expiry, so the answer is deterministic even if a user somehow holds two
// active licenses of the same tier.
func (s *LicenseStore) BestActiveForUser(userID int64, now time.Time) (*model.License, error) {
	row := s.db.QueryRow(
		`SELECT `+licenseCols+` FROM licenses
		 WHERE user_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY CASE type WHEN 'LIFETIME' THEN 2 WHEN 'PRO' THEN 1 ELSE 0 END DESC,
		          expires_at IS NULL DESC, expires_at DESC
		 LIMIT 1`,
		userID, model.LicenseActive, now,
	)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("best active license: %w", err)
	}
	return l, nil
}

// RecordValidation performs the successful-validation bookkeeping as one
// atomic statement: the counter increment happens in SQL so concurrent
// validations from multiple devices cannot lose updates. A nil machineID
// keeps the existing value; activated_at is set only on the first validation.
func (s *LicenseStore) RecordValidation(id int64, machineID *string, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE licenses
		 SET last_validated = ?,
		     validation_count = validation_count + 1,
		     machine_id = COALESCE(?, machine_id),
		     status = ?,
		     activated_at = COALESCE(activated_at, ?)
		 WHERE id = ?`,
		now, machineID, model.LicenseActive, now, id,
	)
	if err != nil {
		return fmt.Errorf("record validation: %w", err)
	}
	return nil
}

// MarkExpired lazily flips an overdue license to EXPIRED. The status filter
// keeps administrative SUSPENDED/REVOKED states from being overwritten.
func (s *LicenseStore) MarkExpired(id int64) error {
	_, err := s.db.Exec(
		`UPDATE licenses SET status = ? WHERE id = ? AND status IN (?, ?)`,
		model.LicenseExpired, id, model.LicenseActive, model.LicensePending,
	)
	if err != nil {
		return fmt.Errorf("mark license expired: %w", err)
	}
	return nil
}
