package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/snaprolabs/snapro/internal/model"
)

type ProxyPackageStore struct {
	db *sql.DB
}

func NewProxyPackageStore(db *sql.DB) *ProxyPackageStore {
	return &ProxyPackageStore{db: db}
}

func scanProxyPackage(scanner interface{ Scan(...any) error }) (*model.ProxyPackage, error) {
	var p model.ProxyPackage
	err := scanner.Scan(&p.ID, &p.Slug, &p.Name, &p.ProxyCount, &p.BandwidthGB, &p.PriceCents, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const proxyPackageCols = `id, slug, name, proxy_count, bandwidth_gb, price_cents, created_at`

func (s *ProxyPackageStore) GetBySlug(slug string) (*model.ProxyPackage, error) {
	row := s.db.QueryRow(`SELECT `+proxyPackageCols+` FROM proxy_packages WHERE slug = ?`, slug)
	p, err := scanProxyPackage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy package: %w", err)
	}
	return p, nil
}

func (s *ProxyPackageStore) List() ([]*model.ProxyPackage, error) {
	rows, err := s.db.Query(`SELECT ` + proxyPackageCols + ` FROM proxy_packages ORDER BY price_cents ASC`)
	if err != nil {
		return nil, fmt.Errorf("list proxy packages: %w", err)
	}
	defer rows.Close()

	var packages []*model.ProxyPackage
	for rows.Next() {
		p, err := scanProxyPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proxy package: %w", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

type ProxyOrderStore struct {
	db *sql.DB
}

func NewProxyOrderStore(db *sql.DB) *ProxyOrderStore {
	return &ProxyOrderStore{db: db}
}

func scanProxyOrder(scanner interface{ Scan(...any) error }) (*model.ProxyOrder, error) {
	var o model.ProxyOrder
	var paymentID, providerTxID sql.NullString
	var expiresAt sql.NullTime
	err := scanner.Scan(
		&o.ID, &o.UserID, &o.PackageID, &paymentID, &o.Status, &o.StartDate,
		&expiresAt, &o.AmountCents, &o.Currency, &o.Provider, &providerTxID, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		o.PaymentID = &paymentID.String
	}
	if providerTxID.Valid {
		o.ProviderTxID = &providerTxID.String
	}
	if expiresAt.Valid {
		o.ExpiresAt = &expiresAt.Time
	}
	return &o, nil
}

const proxyOrderCols = `id, user_id, package_id, payment_id, status, start_date, expires_at, amount_cents, currency, provider, provider_tx_id, created_at`

// CreateProxyOrderParams carries the attributes of a new proxy order.
type CreateProxyOrderParams struct {
	UserID       int64
	PackageID    int64
	PaymentID    *string
	Status       string
	StartDate    time.Time
	ExpiresAt    *time.Time
	AmountCents  int64
	Currency     string
	Provider     model.Provider
	ProviderTxID *string
}

func (s *ProxyOrderStore) Create(p CreateProxyOrderParams) (*model.ProxyOrder, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO proxy_orders (id, user_id, package_id, payment_id, status, start_date, expires_at, amount_cents, currency, provider, provider_tx_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.UserID, p.PackageID, p.PaymentID, p.Status, p.StartDate, p.ExpiresAt,
		p.AmountCents, p.Currency, p.Provider, p.ProviderTxID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert proxy order: %w", err)
	}
	return s.GetByID(id)
}

func (s *ProxyOrderStore) GetByID(id string) (*model.ProxyOrder, error) {
	row := s.db.QueryRow(`SELECT `+proxyOrderCols+` FROM proxy_orders WHERE id = ?`, id)
	o, err := scanProxyOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy order: %w", err)
	}
	return o, nil
}

func (s *ProxyOrderStore) GetByPaymentID(paymentID string) (*model.ProxyOrder, error) {
	row := s.db.QueryRow(`SELECT `+proxyOrderCols+` FROM proxy_orders WHERE payment_id = ?`, paymentID)
	o, err := scanProxyOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy order by payment: %w", err)
	}
	return o, nil
}

func (s *ProxyOrderStore) ListByUser(userID int64) ([]*model.ProxyOrder, error) {
	rows, err := s.db.Query(`SELECT `+proxyOrderCols+` FROM proxy_orders WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list proxy orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.ProxyOrder
	for rows.Next() {
		o, err := scanProxyOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proxy order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
