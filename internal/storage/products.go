package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const productColumns = `id, merchant_id, product_id, status, platform, config_json, prompt, subscription_id,
	cancel_at_period_end, expires_at, created_at, updated_at`

func (s *Store) SaveUserProduct(p UserProduct) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.ConfigJSON == "" {
		p.ConfigJSON = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO user_products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MerchantID, p.ProductID, p.Status, p.Platform, p.ConfigJSON, p.Prompt, p.SubscriptionID,
		boolInt(p.CancelAtPeriodEnd), formatNullTime(p.ExpiresAt), formatTime(p.CreatedAt), formatTime(now),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: user product %s", ErrDuplicate, p.ID)
	}
	return err
}

func (s *Store) GetUserProduct(id string) (UserProduct, error) {
	return scanProduct(s.db.QueryRow(`SELECT `+productColumns+` FROM user_products WHERE id = ?`, id))
}

// GetUserProductBySubscription finds the product created for a billing
// subscription.
func (s *Store) GetUserProductBySubscription(subscriptionID string) (UserProduct, error) {
	if subscriptionID == "" {
		return UserProduct{}, ErrNotFound
	}
	return scanProduct(s.db.QueryRow(`SELECT `+productColumns+` FROM user_products WHERE subscription_id = ?`, subscriptionID))
}

// ListUserProducts returns a merchant's products, oldest first.
func (s *Store) ListUserProducts(merchantID string) ([]UserProduct, error) {
	rows, err := s.db.Query(`SELECT `+productColumns+` FROM user_products WHERE merchant_id = ? ORDER BY created_at ASC, id ASC`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []UserProduct{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// UpdateProductConfig stores a product's configuration record and the prompt
// generated from it in a single statement.
func (s *Store) UpdateProductConfig(id, configJSON, prompt string) error {
	return expectOne(s.db.Exec(`UPDATE user_products SET config_json = ?, prompt = ?, updated_at = ? WHERE id = ?`,
		configJSON, prompt, formatTime(time.Now()), id))
}

func (s *Store) UpdateProductPlatform(id, platform string) error {
	return expectOne(s.db.Exec(`UPDATE user_products SET platform = ?, updated_at = ? WHERE id = ?`,
		platform, formatTime(time.Now()), id))
}

func (s *Store) UpdateProductStatus(id, status string) error {
	return expectOne(s.db.Exec(`UPDATE user_products SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), id))
}

// CancelMerchantProducts cancels every product of a merchant. Immediate
// cancellation sets status cancelled and expires the products at at;
// otherwise they are flagged to cancel at the end of the billing period.
// It returns the number of products changed.
func (s *Store) CancelMerchantProducts(merchantID string, immediate bool, at time.Time) (int, error) {
	var res sql.Result
	var err error
	if immediate {
		res, err = s.db.Exec(`UPDATE user_products SET status = ?, expires_at = ?, updated_at = ? WHERE merchant_id = ? AND status != ?`,
			StatusCancelled, formatTime(at), formatTime(at), merchantID, StatusCancelled)
	} else {
		res, err = s.db.Exec(`UPDATE user_products SET cancel_at_period_end = 1, updated_at = ? WHERE merchant_id = ? AND status != ?`,
			formatTime(at), merchantID, StatusCancelled)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanProduct(row scanner) (UserProduct, error) {
	var p UserProduct
	var cancel int
	var expiresAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.MerchantID, &p.ProductID, &p.Status, &p.Platform, &p.ConfigJSON, &p.Prompt,
		&p.SubscriptionID, &cancel, &expiresAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserProduct{}, ErrNotFound
	}
	if err != nil {
		return UserProduct{}, err
	}
	p.CancelAtPeriodEnd = cancel != 0
	if p.ExpiresAt, err = parseNullTime("expires_at", expiresAt); err != nil {
		return UserProduct{}, err
	}
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return UserProduct{}, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return UserProduct{}, err
	}
	return p, nil
}
