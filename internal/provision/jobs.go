package provision

// Background job types.
const (
	// JobProvisionNotify posts a NotifyPayload to the workflow backend.
	JobProvisionNotify = "provision_notify"
	// JobKnowledgeFetch downloads policy URLs into a merchant's knowledge base.
	JobKnowledgeFetch = "knowledge_fetch"
)

// NotifyPayload is sent to the workflow backend once an account is
// provisioned.
type NotifyPayload struct {
	Event                string `json:"event"`
	UserID               string `json:"userId"`
	Email                string `json:"email"`
	ProductID            string `json:"productId"`
	BusinessName         string `json:"business_name"`
	BusinessDescription  string `json:"business_description"`
	BusinessAddress      string `json:"business_address"`
	BusinessEmail        string `json:"business_email"`
	Platform             string `json:"platform"`
	PlatformInstructions string `json:"platform_instructions"`
	PlatformGuideURL     string `json:"platform_guide_url"`
	CustomerID           string `json:"customer_id"`
	StripeCustomerID     string `json:"stripeCustomerId,omitempty"`
	StripeSessionID      string `json:"stripeSessionId,omitempty"`
	SubscriptionID       string `json:"subscriptionId,omitempty"`
	Status               string `json:"status"`
}

// KnowledgeFetchPayload names the policy pages to import for a merchant.
type KnowledgeFetchPayload struct {
	MerchantID string   `json:"merchant_id"`
	URLs       []string `json:"urls"`
	Certified  bool     `json:"certified"`
}
