package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snaprolabs/snapro/internal/model"
	"github.com/snaprolabs/snapro/internal/payment"
)

// ErrPaymentNotFound is returned by operations that require an existing payment row.
var ErrPaymentNotFound = errors.New("payment not found")

// PaymentStore is the single source of truth for payment records. The payment
// id doubles as the provider-facing order id and is the idempotency key for
// webhook processing.
type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func scanPayment(scanner interface{ Scan(...any) error }) (*model.Payment, error) {
	var p model.Payment
	var providerTxID sql.NullString
	var metadata string
	err := scanner.Scan(
		&p.ID, &p.UserID, &p.AmountCents, &p.Currency, &p.Provider,
		&providerTxID, &p.Status, &p.ProductType, &p.ProductName, &metadata, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if providerTxID.Valid {
		p.ProviderTxID = &providerTxID.String
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return &p, nil
}

const paymentCols = `id, user_id, amount_cents, currency, provider, provider_tx_id, status, product_type, product_name, metadata, created_at`

// Create inserts a new PENDING payment with a fresh unique id.
func (s *PaymentStore) Create(userID int64, amountCents int64, currency string, provider model.Provider, productType model.ProductType, productName string, metadata map[string]string) (*model.Payment, error) {
	id := uuid.NewString()
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode payment metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO payments (id, user_id, amount_cents, currency, provider, status, product_type, product_name, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, amountCents, strings.ToUpper(currency), provider, payment.StatusPending, productType, productName, string(meta),
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return s.GetByID(id)
}

func (s *PaymentStore) GetByID(id string) (*model.Payment, error) {
	row := s.db.QueryRow(`SELECT `+paymentCols+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (s *PaymentStore) ListByUser(userID int64) ([]*model.Payment, error) {
	rows, err := s.db.Query(`SELECT `+paymentCols+` FROM payments WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// AttachProviderTx records the provider-assigned transaction id and merges the
// metadata patch into the stored metadata. Providers assign their ids
// asynchronously, after the payment row already exists.
func (s *PaymentStore) AttachProviderTx(id, providerTxID string, metadataPatch map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRow(`SELECT metadata FROM payments WHERE id = ?`, id).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("read payment metadata: %w", err)
	}

	metadata := map[string]string{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	for k, v := range metadataPatch {
		metadata[k] = v
	}
	merged, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode payment metadata: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE payments SET provider_tx_id = ?, metadata = ? WHERE id = ?`,
		providerTxID, string(merged), id,
	); err != nil {
		return fmt.Errorf("attach provider tx: %w", err)
	}
	return tx.Commit()
}

// TransitionStatus moves a payment to next, enforcing the terminal-state
// rules with a single conditional UPDATE so concurrent duplicate webhook
// deliveries cannot race past the guard. Reaffirming the current status is
// an idempotent no-op.
func (s *PaymentStore) TransitionStatus(id string, next payment.Status) error {
	allowed := payment.AllowedFrom(next)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: no transition reaches %s", payment.ErrInvalidTransition, next)
	}

	placeholders := make([]string, len(allowed))
	args := []any{next, id}
	for i, st := range allowed {
		placeholders[i] = "?"
		args = append(args, st)
	}

	result, err := s.db.Exec(
		`UPDATE payments SET status = ? WHERE id = ? AND status IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("transition payment status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: distinguish missing row, idempotent repeat, and
	// genuine invariant violation.
	var current payment.Status
	if err := s.db.QueryRow(`SELECT status FROM payments WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrPaymentNotFound
		}
		return fmt.Errorf("read payment status: %w", err)
	}
	if current == next {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s (payment %s)", payment.ErrInvalidTransition, current, next, id)
}

// CompleteIfPending atomically moves a PENDING payment to COMPLETED.
// It returns (true, nil) when this call performed the transition, and
// (false, nil) when the payment was already COMPLETED — the duplicate
// webhook case. Any other current state is an invariant violation.
func (s *PaymentStore) CompleteIfPending(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE payments SET status = ? WHERE id = ? AND status = ?`,
		payment.StatusCompleted, id, payment.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var current payment.Status
	if err := s.db.QueryRow(`SELECT status FROM payments WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return false, ErrPaymentNotFound
		}
		return false, fmt.Errorf("read payment status: %w", err)
	}
	if current == payment.StatusCompleted {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s -> %s (payment %s)", payment.ErrInvalidTransition, current, payment.StatusCompleted, id)
}

// MarkFailed is the compensation path for checkout: when the provider call
// fails after the row exists, the payment must not stay PENDING forever.
func (s *PaymentStore) MarkFailed(id string) error {
	return s.TransitionStatus(id, payment.StatusFailed)
}

// CountByStatus returns the number of payments in the given status. Used by
// the hourly maintenance pass for operational logging.
func (s *PaymentStore) CountByStatus(status payment.Status) (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM payments WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count payments: %w", err)
	}
	return n, nil
}

// ExpireStalePending fails PENDING payments older than maxAge. Crypto
// payments that were never funded would otherwise sit PENDING indefinitely.
func (s *PaymentStore) ExpireStalePending(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := s.db.Exec(
		`UPDATE payments SET status = ? WHERE status = ? AND created_at < ?`,
		payment.StatusFailed, payment.StatusPending, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale payments: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
