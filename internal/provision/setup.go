package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/agentdesk/internal/composer"
	"github.com/kalambet/agentdesk/internal/knowledge"
	"github.com/kalambet/agentdesk/internal/storage"
)

const (
	// DefaultPlatform is assumed until the merchant picks one.
	DefaultPlatform = "html"
	// fallbackBusinessName is used when neither the request nor the stored
	// profile has a usable name.
	fallbackBusinessName = "Your Business"
	// pendingBusinessName marks a profile created before checkout.
	pendingBusinessName = "Pending Setup"
)

var platformInstructions = map[string]string{
	"html":        "Add the script to your website before the closing </body> tag",
	"shopify":     "Install via Shopify App Store and configure in your admin panel - Coming Soon",
	"woocommerce": "Install the WooCommerce plugin and activate in WordPress admin - Coming Soon",
	"wordpress":   "Install our WordPress plugin for the easiest setup - Coming Soon",
	"wix":         "Add via Custom Code in your Wix dashboard - Coming Soon",
	"squarespace": "Add via Code Injection in your Squarespace settings - Coming Soon",
	"webflow":     "Add to your site-wide footer code in Webflow Project Settings - Coming Soon",
}

// PlatformInstructions returns installation instructions for a website
// platform.
func PlatformInstructions(platform string) string {
	if s, ok := platformInstructions[strings.ToLower(platform)]; ok {
		return s
	}
	return "See our installation guide for detailed instructions"
}

// SetupRequest is the post-checkout setup form.
type SetupRequest struct {
	MerchantID          string `json:"-"`
	ProductID           string `json:"product_id,omitempty"`
	BusinessName        string `json:"business_name"`
	BusinessAddress     string `json:"business_address"`
	BusinessEmail       string `json:"business_email"`
	BusinessDescription string `json:"business_description"`
	Platform            string `json:"platform"`

	WebsiteURL           string `json:"website_url"`
	ContactPhone         string `json:"contact_phone"`
	BusinessHours        string `json:"business_hours"`
	PersonalizedGreeting string `json:"personalized_greeting"`
	Tone                 string `json:"tone"`
	Language             string `json:"language"`
	// AdditionalFields is the comma-separated list typed into the form.
	AdditionalFields string `json:"additional_fields"`
	FollowUpType     string `json:"follow_up_type"`
	FollowUpData     string `json:"follow_up_data"`

	PolicyTemplate    string `json:"policy_template"`
	PolicyContent     string `json:"policy_content"`
	AcceptedLiability bool   `json:"accepted_liability"`
	AcceptedTerms     bool   `json:"accepted_terms"`
}

// Options converts the form's agent settings.
func (r SetupRequest) Options() composer.Options {
	return composer.Options{
		PersonalizedGreeting: r.PersonalizedGreeting,
		Tone:                 composer.Tone(r.Tone),
		Language:             r.Language,
		BusinessOverview:     r.BusinessDescription,
		BusinessHours:        r.BusinessHours,
		WebsiteURL:           r.WebsiteURL,
		ContactPhone:         r.ContactPhone,
		AdditionalFields:     composer.SplitFields(r.AdditionalFields),
		FollowUpType:         composer.FollowUpType(r.FollowUpType),
		FollowUpData:         r.FollowUpData,
	}
}

// SetupResult is returned once setup completes.
type SetupResult struct {
	UserProductID        string `json:"user_product_id"`
	ProductID            string `json:"product_id"`
	Status               string `json:"status"`
	BusinessName         string `json:"business_name"`
	Platform             string `json:"platform"`
	PlatformInstructions string `json:"platform_instructions"`
	PlatformGuideURL     string `json:"platform_guide_url"`
	Prompt               string `json:"ai_prompt"`
	PolicyDocID          string `json:"policy_doc_id,omitempty"`
}

func (s *Service) validateSetup(req SetupRequest, requiresPolicy bool) error {
	if strings.TrimSpace(req.BusinessAddress) == "" {
		return fmt.Errorf("%w: business address is required", ErrInvalidSetup)
	}
	if requiresPolicy {
		if req.PolicyTemplate == "" {
			return fmt.Errorf("%w: please select a policy template", ErrInvalidSetup)
		}
		if strings.TrimSpace(req.PolicyContent) == "" {
			return fmt.Errorf("%w: policy content cannot be empty", ErrInvalidSetup)
		}
		if !req.AcceptedLiability {
			return fmt.Errorf("%w: the AI liability disclaimer must be acknowledged", ErrInvalidSetup)
		}
	}
	if !req.AcceptedTerms {
		return fmt.Errorf("%w: the terms must be accepted", ErrInvalidSetup)
	}
	return nil
}

// CompleteSetup records the merchant's business details and agent settings
// after checkout, generates the agent prompt and, for products that need
// one, saves the certified policy into the knowledge base.
func (s *Service) CompleteSetup(ctx context.Context, req SetupRequest) (SetupResult, error) {
	if err := ctx.Err(); err != nil {
		return SetupResult{}, err
	}

	merchant, err := s.store.GetMerchant(req.MerchantID)
	if errors.Is(err, storage.ErrNotFound) {
		return SetupResult{}, fmt.Errorf("%w: unknown merchant", ErrNotProvisioned)
	}
	if err != nil {
		return SetupResult{}, fmt.Errorf("loading merchant: %w", err)
	}

	product, err := s.setupProduct(req.MerchantID, req.ProductID)
	if err != nil {
		return SetupResult{}, err
	}
	requiresPolicy := s.catalog.RequiresPolicy(product.ProductID)
	if err := s.validateSetup(req, requiresPolicy); err != nil {
		return SetupResult{}, err
	}

	profile, err := s.store.GetBusinessProfile(req.MerchantID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && profile.CustomerID == "") {
		return SetupResult{}, ErrNotProvisioned
	}
	if err != nil {
		return SetupResult{}, fmt.Errorf("loading business profile: %w", err)
	}

	profile.Name = resolveBusinessName(req.BusinessName, profile.Name)
	profile.Address = strings.TrimSpace(req.BusinessAddress)
	profile.Email = firstNonEmpty(req.BusinessEmail, merchant.Email)
	profile.Description = firstNonEmpty(req.BusinessDescription, profile.Description)
	if err := s.store.UpsertBusinessProfile(profile); err != nil {
		return SetupResult{}, err
	}

	platform := strings.ToLower(firstNonEmpty(req.Platform, DefaultPlatform))
	now := s.now()
	base := ConfigRecord{
		PlatformInstructions: PlatformInstructions(platform),
		SetupCompleted:       true,
		SetupCompletedAt:     &now,
	}
	biz := composer.BusinessProfile{Name: profile.Name, Email: profile.Email, Description: profile.Description}
	rec, configJSON, err := s.synthesize(product.ProductID, req.Options(), biz, base)
	if err != nil {
		return SetupResult{}, err
	}
	if err := s.store.UpdateProductConfig(product.ID, configJSON, rec.AIPrompt); err != nil {
		return SetupResult{}, fmt.Errorf("saving product config: %w", err)
	}
	if err := s.store.UpdateProductPlatform(product.ID, platform); err != nil {
		return SetupResult{}, fmt.Errorf("saving platform: %w", err)
	}
	// A configured agent goes live; cancelled products stay cancelled.
	status := product.Status
	if status == storage.StatusTrialing {
		status = storage.StatusActive
		if err := s.store.UpdateProductStatus(product.ID, status); err != nil {
			return SetupResult{}, fmt.Errorf("activating product: %w", err)
		}
	}

	result := SetupResult{
		UserProductID:        product.ID,
		ProductID:            product.ProductID,
		Status:               status,
		BusinessName:         profile.Name,
		Platform:             platform,
		PlatformInstructions: rec.PlatformInstructions,
		PlatformGuideURL:     s.guideURL(),
		Prompt:               rec.AIPrompt,
	}

	if requiresPolicy {
		name := req.PolicyTemplate
		if name == "" {
			name = knowledge.DefaultDocName
		}
		doc := storage.KnowledgeDoc{
			ID:         uuid.New().String(),
			MerchantID: merchant.ID,
			CustomerID: profile.CustomerID,
			DocType:    "policy",
			Name:       name,
			Content:    strings.TrimSpace(req.PolicyContent),
			Source:     "setup",
			Certified:  req.AcceptedLiability,
			CreatedAt:  now,
		}
		if doc.Certified {
			doc.CertifiedAt = &now
		}
		if err := s.store.SaveKnowledgeDoc(doc); err != nil {
			return SetupResult{}, fmt.Errorf("saving policy: %w", err)
		}
		result.PolicyDocID = doc.ID
	}
	return result, nil
}

// setupProduct returns the product being set up: the requested one, or the
// merchant's first product.
func (s *Service) setupProduct(merchantID, productID string) (storage.UserProduct, error) {
	products, err := s.store.ListUserProducts(merchantID)
	if err != nil {
		return storage.UserProduct{}, fmt.Errorf("listing products: %w", err)
	}
	if len(products) == 0 {
		return storage.UserProduct{}, fmt.Errorf("%w: no product yet", ErrNotProvisioned)
	}
	if productID == "" {
		return products[0], nil
	}
	for _, p := range products {
		if p.ID == productID || p.ProductID == productID {
			return p, nil
		}
	}
	return storage.UserProduct{}, fmt.Errorf("%w: product %q not found", storage.ErrNotFound, productID)
}

// resolveBusinessName applies the fallback chain: the submitted name, then
// the stored name unless it is a placeholder, then a generic name.
func resolveBusinessName(submitted, stored string) string {
	if name := strings.TrimSpace(submitted); name != "" {
		return name
	}
	if name := strings.TrimSpace(stored); name != "" && name != pendingBusinessName {
		return name
	}
	return fallbackBusinessName
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// SaveConfig re-synthesizes a product's prompt from edited options and
// stores configuration and prompt together. A non-empty businessName also
// renames the business.
func (s *Service) SaveConfig(ctx context.Context, userProductID string, opts composer.Options, businessName string) (composer.Result, error) {
	if err := ctx.Err(); err != nil {
		return composer.Result{}, err
	}
	product, err := s.store.GetUserProduct(userProductID)
	if err != nil {
		return composer.Result{}, fmt.Errorf("loading product: %w", err)
	}

	profile, err := s.store.GetBusinessProfile(product.MerchantID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return composer.Result{}, fmt.Errorf("loading business profile: %w", err)
	}
	if name := strings.TrimSpace(businessName); name != "" && name != profile.Name {
		if err := s.store.UpdateBusinessName(product.MerchantID, name); err != nil {
			return composer.Result{}, fmt.Errorf("renaming business: %w", err)
		}
		profile.Name = name
	}

	base, err := DecodeConfig(product.ConfigJSON)
	if err != nil {
		return composer.Result{}, err
	}
	biz := composer.BusinessProfile{Name: profile.Name, Email: profile.Email, Description: profile.Description}
	rec, configJSON, err := s.synthesize(product.ProductID, opts, biz, base)
	if err != nil {
		return composer.Result{}, err
	}
	if err := s.store.UpdateProductConfig(product.ID, configJSON, rec.AIPrompt); err != nil {
		return composer.Result{}, fmt.Errorf("saving product config: %w", err)
	}
	return composer.Result{Variant: rec.Variant, Config: rec.Options, Prompt: rec.AIPrompt}, nil
}
