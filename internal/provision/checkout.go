package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/agentdesk/internal/catalog"
	"github.com/kalambet/agentdesk/internal/composer"
	"github.com/kalambet/agentdesk/internal/storage"
)

// CheckoutEvent is a completed checkout as reported by the billing webhook.
type CheckoutEvent struct {
	EventID          string
	SessionID        string
	Email            string
	StripeCustomerID string
	SubscriptionID   string
	ProductID        string
	PriceID          string
}

// CheckoutResult describes the account a checkout provisioned.
type CheckoutResult struct {
	MerchantID string `json:"merchant_id"`
	CustomerID string `json:"customer_id"`
	ProductID  string `json:"product_id"`
	UserProdID string `json:"user_product_id"`
	// Duplicate is set when the subscription was already provisioned.
	Duplicate bool `json:"duplicate,omitempty"`
}

var nameSeparators = regexp.MustCompile(`[._-]`)

// DefaultBusinessName derives a placeholder business name from the local
// part of an email address: "jane.doe@x" -> "jane doe".
func DefaultBusinessName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return nameSeparators.ReplaceAllString(local, " ")
}

// HandleCheckout provisions a merchant after a completed checkout: merchant
// record, business profile with customer id, billing customer, a trialing
// product carrying an initial prompt, and a provision_notify job for the
// workflow backend. Replaying the same subscription is a no-op.
func (s *Service) HandleCheckout(ctx context.Context, ev CheckoutEvent) (CheckoutResult, error) {
	if err := ctx.Err(); err != nil {
		return CheckoutResult{}, err
	}
	email := strings.ToLower(strings.TrimSpace(ev.Email))
	if email == "" {
		return CheckoutResult{}, fmt.Errorf("%w: no customer email", ErrInvalidCheckout)
	}

	if existing, err := s.store.GetUserProductBySubscription(ev.SubscriptionID); err == nil {
		return s.duplicateCheckout(existing), nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return CheckoutResult{}, fmt.Errorf("checking subscription: %w", err)
	}

	merchant, err := s.findOrCreateMerchant(email)
	if err != nil {
		return CheckoutResult{}, err
	}

	profile, err := s.store.GetBusinessProfile(merchant.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		profile = storage.BusinessProfile{
			MerchantID: merchant.ID,
			Name:       DefaultBusinessName(email),
			Email:      email,
		}
	case err != nil:
		return CheckoutResult{}, fmt.Errorf("loading business profile: %w", err)
	}
	if profile.CustomerID == "" {
		profile.CustomerID = uuid.New().String()
	}
	profile.PaymentStatus = "paid"
	if err := s.store.UpsertBusinessProfile(profile); err != nil {
		return CheckoutResult{}, err
	}

	if ev.StripeCustomerID != "" {
		if err := s.store.UpsertStripeCustomer(storage.StripeCustomer{MerchantID: merchant.ID, CustomerID: ev.StripeCustomerID}); err != nil {
			return CheckoutResult{}, fmt.Errorf("saving billing customer: %w", err)
		}
	}

	productID := s.checkoutProduct(ev)
	biz := composer.BusinessProfile{Name: profile.Name, Email: profile.Email, Description: profile.Description}
	rec, configJSON, err := s.synthesize(productID, composer.Options{}, biz, ConfigRecord{})
	if err != nil {
		return CheckoutResult{}, err
	}

	product := storage.UserProduct{
		ID:             uuid.New().String(),
		MerchantID:     merchant.ID,
		ProductID:      productID,
		Status:         storage.StatusTrialing,
		Platform:       DefaultPlatform,
		ConfigJSON:     configJSON,
		Prompt:         rec.AIPrompt,
		SubscriptionID: ev.SubscriptionID,
	}
	if err := s.store.SaveUserProduct(product); err != nil {
		// A concurrent delivery of the same subscription got there first.
		if errors.Is(err, storage.ErrDuplicate) {
			if existing, lerr := s.store.GetUserProductBySubscription(ev.SubscriptionID); lerr == nil {
				return s.duplicateCheckout(existing), nil
			}
		}
		return CheckoutResult{}, fmt.Errorf("saving product: %w", err)
	}

	payload := NotifyPayload{
		Event:                "checkout.completed",
		UserID:               merchant.ID,
		Email:                email,
		ProductID:            productID,
		BusinessName:         profile.Name,
		BusinessEmail:        profile.Email,
		Platform:             DefaultPlatform,
		PlatformInstructions: PlatformInstructions(DefaultPlatform),
		PlatformGuideURL:     s.guideURL(),
		CustomerID:           profile.CustomerID,
		StripeCustomerID:     ev.StripeCustomerID,
		StripeSessionID:      ev.SessionID,
		SubscriptionID:       ev.SubscriptionID,
		Status:               storage.StatusTrialing,
	}
	if err := s.enqueue(JobProvisionNotify, payload); err != nil {
		// The account exists; only the backend notification is lost.
		slog.Warn("provision: failed to enqueue notification", "merchant_id", merchant.ID, "error", err)
	}

	slog.Info("provision: checkout provisioned", "merchant_id", merchant.ID, "product_id", productID)
	return CheckoutResult{
		MerchantID: merchant.ID,
		CustomerID: profile.CustomerID,
		ProductID:  productID,
		UserProdID: product.ID,
	}, nil
}

func (s *Service) duplicateCheckout(existing storage.UserProduct) CheckoutResult {
	profile, _ := s.store.GetBusinessProfile(existing.MerchantID)
	return CheckoutResult{
		MerchantID: existing.MerchantID,
		CustomerID: profile.CustomerID,
		ProductID:  existing.ProductID,
		UserProdID: existing.ID,
		Duplicate:  true,
	}
}

func (s *Service) findOrCreateMerchant(email string) (storage.Merchant, error) {
	m, err := s.store.GetMerchantByEmail(email)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Merchant{}, fmt.Errorf("looking up merchant: %w", err)
	}
	m = storage.Merchant{ID: uuid.New().String(), Email: email, CreatedAt: s.now()}
	if err := s.store.CreateMerchant(m); err != nil {
		return storage.Merchant{}, fmt.Errorf("creating merchant: %w", err)
	}
	return m, nil
}

// checkoutProduct picks the product a checkout bought: the explicit product
// id, then the price id, then the default product.
func (s *Service) checkoutProduct(ev CheckoutEvent) string {
	if id := strings.TrimSpace(ev.ProductID); id != "" {
		return id
	}
	if p, ok := s.catalog.ByPriceID(ev.PriceID); ok {
		return p.ID
	}
	return catalog.DefaultProductID
}

func (s *Service) enqueue(jobType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", jobType, err)
	}
	return s.store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		PayloadJSON: string(b),
	})
}
