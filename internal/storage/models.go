package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

// Product statuses.
const (
	StatusTrialing  = "trialing"
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

type Merchant struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type BusinessProfile struct {
	MerchantID    string    `json:"merchant_id"`
	CustomerID    string    `json:"customer_id"`
	Name          string    `json:"business_name"`
	Email         string    `json:"business_email"`
	Address       string    `json:"business_address"`
	Description   string    `json:"business_description"`
	PaymentStatus string    `json:"payment_status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserProduct is one subscribed agent product. ConfigJSON and Prompt are
// always written together.
type UserProduct struct {
	ID                string     `json:"id"`
	MerchantID        string     `json:"merchant_id"`
	ProductID         string     `json:"product_id"`
	Status            string     `json:"status"`
	Platform          string     `json:"platform"`
	ConfigJSON        string     `json:"config_json"`
	Prompt            string     `json:"ai_prompt"`
	SubscriptionID    string     `json:"subscription_id,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type StripeCustomer struct {
	MerchantID string    `json:"merchant_id"`
	CustomerID string    `json:"customer_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// KnowledgeDoc is a policy or reference document the merchant's agent can
// consult.
type KnowledgeDoc struct {
	ID          string     `json:"id"`
	MerchantID  string     `json:"merchant_id"`
	CustomerID  string     `json:"customer_id"`
	DocType     string     `json:"doc_type"`
	Name        string     `json:"doc_name"`
	Content     string     `json:"doc_content"`
	Source      string     `json:"source,omitempty"`
	Certified   bool       `json:"is_certified"`
	CertifiedAt *time.Time `json:"certified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Capture is a lead or support ticket extracted from an agent reply.
type Capture struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchant_id"`
	Kind       string    `json:"kind"`
	AgentType  string    `json:"agent_type,omitempty"`
	FieldsJSON string    `json:"fields_json"`
	Raw        string    `json:"raw"`
	CreatedAt  time.Time `json:"created_at"`
}

type ContactSubmission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
