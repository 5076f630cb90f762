package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/agentdesk/internal/knowledge"
	"github.com/kalambet/agentdesk/internal/storage"
)

// Snapshot is everything the dashboard shows about a merchant.
type Snapshot struct {
	MerchantID      string                   `json:"user_id"`
	Email           string                   `json:"email"`
	BusinessProfile *storage.BusinessProfile `json:"business_profile"`
	Products        []storage.UserProduct    `json:"products"`
	ActiveProducts  []storage.UserProduct    `json:"active_products"`
}

// Snapshot loads a merchant's profile and products concurrently.
func (s *Service) Snapshot(ctx context.Context, merchantID string) (Snapshot, error) {
	var (
		merchant storage.Merchant
		profile  *storage.BusinessProfile
		products []storage.UserProduct
	)

	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	var g errgroup.Group
	g.Go(func() error {
		m, err := s.store.GetMerchant(merchantID)
		if err != nil {
			return fmt.Errorf("loading merchant: %w", err)
		}
		merchant = m
		return nil
	})
	g.Go(func() error {
		p, err := s.store.GetBusinessProfile(merchantID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading business profile: %w", err)
		}
		profile = &p
		return nil
	})
	g.Go(func() error {
		list, err := s.store.ListUserProducts(merchantID)
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}
		products = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		MerchantID:      merchant.ID,
		Email:           merchant.Email,
		BusinessProfile: profile,
		Products:        products,
		ActiveProducts:  []storage.UserProduct{},
	}
	if snap.Products == nil {
		snap.Products = []storage.UserProduct{}
	}
	for _, p := range snap.Products {
		if p.Status == storage.StatusActive {
			snap.ActiveProducts = append(snap.ActiveProducts, p)
		}
	}
	return snap, nil
}

// SnapshotByEmail resolves a merchant by email and loads its snapshot.
func (s *Service) SnapshotByEmail(ctx context.Context, email string) (Snapshot, error) {
	m, err := s.store.GetMerchantByEmail(email)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading merchant: %w", err)
	}
	return s.Snapshot(ctx, m.ID)
}

// CancelResult reports how many products a cancellation changed.
type CancelResult struct {
	Immediate bool `json:"immediate"`
	Changed   int  `json:"changed"`
}

// Cancel cancels a merchant's subscription. Immediate cancellation ends
// access now; otherwise products stay active until the period ends.
func (s *Service) Cancel(ctx context.Context, merchantID string, immediate bool) (CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return CancelResult{}, err
	}
	if _, err := s.store.GetStripeCustomer(merchantID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return CancelResult{}, fmt.Errorf("%w: no billing customer", ErrNotProvisioned)
		}
		return CancelResult{}, fmt.Errorf("loading billing customer: %w", err)
	}
	n, err := s.store.CancelMerchantProducts(merchantID, immediate, s.now())
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancelling products: %w", err)
	}
	if n == 0 {
		return CancelResult{}, ErrNoActiveSubscription
	}
	return CancelResult{Immediate: immediate, Changed: n}, nil
}

// Upload is a policy document submitted by a merchant.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
	Certified   bool
}

// AddDocument extracts the text of an uploaded policy and stores it in the
// merchant's knowledge base.
func (s *Service) AddDocument(ctx context.Context, merchantID string, up Upload) (storage.KnowledgeDoc, error) {
	if err := ctx.Err(); err != nil {
		return storage.KnowledgeDoc{}, err
	}
	text, err := knowledge.Extract(up.Name, up.ContentType, up.Data)
	if err != nil {
		return storage.KnowledgeDoc{}, err
	}
	return s.saveDocument(merchantID, up.Name, "upload", text, up.Certified)
}

// AddTemplate stores a built-in policy template, optionally edited.
func (s *Service) AddTemplate(ctx context.Context, merchantID, template, content string, certified bool) (storage.KnowledgeDoc, error) {
	if err := ctx.Err(); err != nil {
		return storage.KnowledgeDoc{}, err
	}
	if strings.TrimSpace(content) == "" {
		body, err := knowledge.Template(template)
		if err != nil {
			return storage.KnowledgeDoc{}, err
		}
		content = body
	}
	return s.saveDocument(merchantID, template, "template", strings.TrimSpace(content), certified)
}

// SaveFetched stores documents downloaded from policy URLs.
func (s *Service) SaveFetched(merchantID string, docs []knowledge.Document, certified bool) error {
	for _, d := range docs {
		if _, err := s.saveDocument(merchantID, d.Name, d.URL, d.Text, certified); err != nil {
			return err
		}
	}
	return nil
}

// ImportURLs schedules a background import of policy pages.
func (s *Service) ImportURLs(ctx context.Context, merchantID string, urls []string, certified bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no urls to import")
	}
	if _, err := s.store.GetMerchant(merchantID); err != nil {
		return fmt.Errorf("loading merchant: %w", err)
	}
	return s.enqueue(JobKnowledgeFetch, KnowledgeFetchPayload{MerchantID: merchantID, URLs: urls, Certified: certified})
}

func (s *Service) saveDocument(merchantID, name, source, text string, certified bool) (storage.KnowledgeDoc, error) {
	profile, err := s.store.GetBusinessProfile(merchantID)
	if err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("loading business profile: %w", err)
	}
	now := s.now()
	doc := storage.KnowledgeDoc{
		ID:         uuid.New().String(),
		MerchantID: merchantID,
		CustomerID: profile.CustomerID,
		DocType:    "policy",
		Name:       firstNonEmpty(name, knowledge.DefaultDocName),
		Content:    text,
		Source:     source,
		Certified:  certified,
		CreatedAt:  now,
	}
	if certified {
		doc.CertifiedAt = &now
	}
	if err := s.store.SaveKnowledgeDoc(doc); err != nil {
		return storage.KnowledgeDoc{}, fmt.Errorf("saving knowledge doc: %w", err)
	}
	return doc, nil
}

func (s *Service) ListDocuments(merchantID string) ([]storage.KnowledgeDoc, error) {
	return s.store.ListKnowledgeDocs(merchantID)
}

func (s *Service) DeleteDocument(id string) error {
	return s.store.DeleteKnowledgeDoc(id)
}
