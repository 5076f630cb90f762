// Package webhook authenticates and decodes billing webhooks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/agentdesk/internal/provision"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the maximum accepted age of a signed timestamp.
const DefaultTolerance = 5 * time.Minute

// ErrInvalidSignature is returned when a payload's signature does not verify.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verify checks a "t=<unix>,v1=<hex>" signature header. The signature is
// HMAC-SHA256 over "<t>.<payload>" keyed with secret. Any of several v1
// entries may match. A tolerance of zero disables the timestamp check.
func Verify(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: no signing secret configured", ErrInvalidSignature)
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	expected := Sign(payload, secret, ts)
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign returns the hex v1 signature of payload at timestamp ts.
func Sign(payload []byte, secret, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header builds a signature header for payload, as the sender would.
func Header(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + Sign(payload, secret, ts)
}

// EventCheckoutCompleted is the only event type that provisions a merchant.
const EventCheckoutCompleted = "checkout.session.completed"

// Event is a decoded webhook envelope. Checkout is set for completed
// checkouts.
type Event struct {
	ID       string
	Type     string
	Checkout *provision.CheckoutEvent
}

type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID            string            `json:"id"`
	CustomerEmail string            `json:"customer_email"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
	CustomerInfo  struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// ParseEvent decodes a verified payload.
func ParseEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("decoding event: missing type")
	}
	ev := Event{ID: env.ID, Type: env.Type}
	if env.Type != EventCheckoutCompleted {
		return ev, nil
	}

	var s checkoutSession
	if err := json.Unmarshal(env.Data.Object, &s); err != nil {
		return Event{}, fmt.Errorf("decoding checkout session: %w", err)
	}
	email := s.CustomerEmail
	if email == "" {
		email = s.CustomerInfo.Email
	}
	ev.Checkout = &provision.CheckoutEvent{
		EventID:          env.ID,
		SessionID:        s.ID,
		Email:            email,
		StripeCustomerID: s.Customer,
		SubscriptionID:   s.Subscription,
		ProductID:        s.Metadata["product_id"],
		PriceID:          s.Metadata["price_id"],
	}
	return ev, nil
}
