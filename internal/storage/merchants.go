package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// --- Merchants ---

func (s *Store) CreateMerchant(m Merchant) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO merchants (id, email, created_at) VALUES (?, ?, ?)`,
		m.ID, strings.ToLower(m.Email), formatTime(m.CreatedAt))
	return err
}

func (s *Store) GetMerchant(id string) (Merchant, error) {
	return scanMerchant(s.db.QueryRow(`SELECT id, email, created_at FROM merchants WHERE id = ?`, id))
}

// GetMerchantByEmail looks a merchant up by email, case-insensitively.
func (s *Store) GetMerchantByEmail(email string) (Merchant, error) {
	return scanMerchant(s.db.QueryRow(`SELECT id, email, created_at FROM merchants WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))))
}

func scanMerchant(row scanner) (Merchant, error) {
	var m Merchant
	var createdAt string
	err := row.Scan(&m.ID, &m.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Merchant{}, ErrNotFound
	}
	if err != nil {
		return Merchant{}, err
	}
	if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Merchant{}, err
	}
	return m, nil
}

// --- Business profiles ---

// UpsertBusinessProfile inserts or replaces the profile of p.MerchantID.
func (s *Store) UpsertBusinessProfile(p BusinessProfile) error {
	if p.PaymentStatus == "" {
		p.PaymentStatus = "pending"
	}
	_, err := s.db.Exec(`
		INSERT INTO business_profiles (merchant_id, customer_id, business_name, business_email, address, description, payment_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET
			customer_id = excluded.customer_id,
			business_name = excluded.business_name,
			business_email = excluded.business_email,
			address = excluded.address,
			description = excluded.description,
			payment_status = excluded.payment_status,
			updated_at = excluded.updated_at`,
		p.MerchantID, p.CustomerID, p.Name, p.Email, p.Address, p.Description, p.PaymentStatus,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting business profile: %w", err)
	}
	return nil
}

func (s *Store) GetBusinessProfile(merchantID string) (BusinessProfile, error) {
	var p BusinessProfile
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT merchant_id, customer_id, business_name, business_email, address, description, payment_status, updated_at
		FROM business_profiles WHERE merchant_id = ?`, merchantID,
	).Scan(&p.MerchantID, &p.CustomerID, &p.Name, &p.Email, &p.Address, &p.Description, &p.PaymentStatus, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BusinessProfile{}, ErrNotFound
	}
	if err != nil {
		return BusinessProfile{}, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return BusinessProfile{}, err
	}
	return p, nil
}

// UpdateBusinessName changes only the display name of a merchant's business.
func (s *Store) UpdateBusinessName(merchantID, name string) error {
	return expectOne(s.db.Exec(`UPDATE business_profiles SET business_name = ?, updated_at = ? WHERE merchant_id = ?`,
		name, formatTime(time.Now()), merchantID))
}

// --- Stripe customers ---

func (s *Store) UpsertStripeCustomer(c StripeCustomer) error {
	_, err := s.db.Exec(`
		INSERT INTO stripe_customers (merchant_id, customer_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET customer_id = excluded.customer_id, updated_at = excluded.updated_at`,
		c.MerchantID, c.CustomerID, formatTime(time.Now()))
	return err
}

func (s *Store) GetStripeCustomer(merchantID string) (StripeCustomer, error) {
	var c StripeCustomer
	var updatedAt string
	err := s.db.QueryRow(`SELECT merchant_id, customer_id, updated_at FROM stripe_customers WHERE merchant_id = ?`, merchantID).
		Scan(&c.MerchantID, &c.CustomerID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StripeCustomer{}, ErrNotFound
	}
	if err != nil {
		return StripeCustomer{}, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return StripeCustomer{}, err
	}
	return c, nil
}
