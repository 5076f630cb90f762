// Package provision runs the account lifecycle of a merchant: provisioning
// after checkout, completing setup, saving agent configuration, managing
// knowledge documents and cancelling.
package provision

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/agentdesk/internal/catalog"
	"github.com/kalambet/agentdesk/internal/composer"
	"github.com/kalambet/agentdesk/internal/storage"
)

var (
	// ErrNotProvisioned is returned when a merchant has no customer id yet,
	// i.e. the checkout webhook has not been processed.
	ErrNotProvisioned = errors.New("account not fully provisioned")
	// ErrInvalidSetup wraps validation failures of setup requests.
	ErrInvalidSetup = errors.New("invalid setup")
	// ErrInvalidCheckout is returned for checkout events that cannot
	// provision an account.
	ErrInvalidCheckout = errors.New("invalid checkout")
	// ErrNoActiveSubscription is returned when there is nothing to cancel.
	ErrNoActiveSubscription = errors.New("no active subscription")
)

// Store is the persistence the service needs.
type Store interface {
	CreateMerchant(m storage.Merchant) error
	GetMerchant(id string) (storage.Merchant, error)
	GetMerchantByEmail(email string) (storage.Merchant, error)

	UpsertBusinessProfile(p storage.BusinessProfile) error
	GetBusinessProfile(merchantID string) (storage.BusinessProfile, error)
	UpdateBusinessName(merchantID, name string) error

	UpsertStripeCustomer(c storage.StripeCustomer) error
	GetStripeCustomer(merchantID string) (storage.StripeCustomer, error)

	SaveUserProduct(p storage.UserProduct) error
	GetUserProduct(id string) (storage.UserProduct, error)
	GetUserProductBySubscription(subscriptionID string) (storage.UserProduct, error)
	ListUserProducts(merchantID string) ([]storage.UserProduct, error)
	UpdateProductConfig(id, configJSON, prompt string) error
	UpdateProductPlatform(id, platform string) error
	UpdateProductStatus(id, status string) error
	CancelMerchantProducts(merchantID string, immediate bool, at time.Time) (int, error)

	SaveKnowledgeDoc(d storage.KnowledgeDoc) error
	ListKnowledgeDocs(merchantID string) ([]storage.KnowledgeDoc, error)
	DeleteKnowledgeDoc(id string) error

	EnqueueJob(job storage.Job) error
}

// Service implements the account lifecycle on top of a Store.
type Service struct {
	store   Store
	catalog *catalog.Catalog
	siteURL string
	now     func() time.Time
}

// NewService creates a Service. siteURL is the public site used to build
// installation guide links.
func NewService(store Store, cat *catalog.Catalog, siteURL string) *Service {
	return &Service{
		store:   store,
		catalog: cat,
		siteURL: strings.TrimRight(siteURL, "/"),
		now:     time.Now,
	}
}

// ConfigRecord is what a product stores as its configuration: the fully
// defaulted agent options plus setup metadata and the prompt generated from
// them.
type ConfigRecord struct {
	composer.Options
	Variant              composer.Variant `json:"variant"`
	PlatformInstructions string           `json:"platform_instructions,omitempty"`
	SetupCompleted       bool             `json:"setup_completed"`
	SetupCompletedAt     *time.Time       `json:"setup_completed_at,omitempty"`
	AIPrompt             string           `json:"ai_prompt"`
}

// DecodeConfig parses a stored configuration record. An empty record
// decodes to the zero value.
func DecodeConfig(configJSON string) (ConfigRecord, error) {
	var rec ConfigRecord
	if strings.TrimSpace(configJSON) == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(configJSON), &rec); err != nil {
		return ConfigRecord{}, fmt.Errorf("decoding product config: %w", err)
	}
	return rec, nil
}

// variantFor resolves a product id to an agent variant, preferring the
// catalog and falling back to name matching.
func (s *Service) variantFor(productID string) composer.Variant {
	if p, ok := s.catalog.ByID(productID); ok {
		return p.Variant
	}
	v, ok := composer.VariantForProduct(productID)
	if !ok {
		slog.Warn("provision: product does not name an agent variant, using sales", "product_id", productID)
	}
	return v
}

// synthesize composes the prompt for a product and returns the record and
// its JSON encoding, ready to be stored together.
func (s *Service) synthesize(productID string, opts composer.Options, biz composer.BusinessProfile, base ConfigRecord) (ConfigRecord, string, error) {
	res := composer.Compose(s.variantFor(productID), opts, biz)
	rec := base
	rec.Options = res.Config
	rec.Variant = res.Variant
	rec.AIPrompt = res.Prompt
	b, err := json.Marshal(rec)
	if err != nil {
		return ConfigRecord{}, "", fmt.Errorf("encoding product config: %w", err)
	}
	return rec, string(b), nil
}

func (s *Service) guideURL() string {
	return s.siteURL + "/docs/installation"
}
