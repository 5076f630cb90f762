package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/agentdesk/internal/storage"
	"github.com/kalambet/agentdesk/internal/webhook"
	"github.com/kalambet/agentdesk/internal/workflow"
)

const checkoutPayload = `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{
	"id":"cs_1","customer_email":"Owner@Acme.test","customer":"cus_1","subscription":"sub_1",
	"metadata":{"product_id":"customer_service_agent"}}}}`

func webhookReq(payload, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/checkout", strings.NewReader(payload))
	req.Header.Set(webhook.SignatureHeader, signature)
	return req
}

func TestCheckoutWebhook_Provisions(t *testing.T) {
	env := setupHandler(t)

	sig := webhook.Header([]byte(checkoutPayload), testSecret, time.Now())
	rr := env.do(t, webhookReq(checkoutPayload, sig))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Result struct {
			MerchantID string `json:"merchant_id"`
			ProductID  string `json:"product_id"`
		} `json:"result"`
	}
	decodeBody(t, rr, &body)
	if body.Result.ProductID != "customer_service_agent" {
		t.Errorf("unexpected result: %+v", body.Result)
	}

	m, err := env.store.GetMerchantByEmail("owner@acme.test")
	if err != nil || m.ID != body.Result.MerchantID {
		t.Errorf("merchant = %+v, %v", m, err)
	}

	// Redelivery is acknowledged without provisioning twice.
	rr = env.do(t, webhookReq(checkoutPayload, sig))
	if rr.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", rr.Code)
	}
	products, _ := env.store.ListUserProducts(m.ID)
	if len(products) != 1 {
		t.Errorf("products = %d, want 1", len(products))
	}
}

func TestCheckoutWebhook_BadSignature(t *testing.T) {
	env := setupHandler(t)

	tests := map[string]string{
		"missing":    "",
		"wrong key":  webhook.Header([]byte(checkoutPayload), "other", time.Now()),
		"stale":      webhook.Header([]byte(checkoutPayload), testSecret, time.Now().Add(-time.Hour)),
		"other body": webhook.Header([]byte(`{}`), testSecret, time.Now()),
	}
	for name, sig := range tests {
		t.Run(name, func(t *testing.T) {
			rr := env.do(t, webhookReq(checkoutPayload, sig))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
	if _, err := env.store.GetMerchantByEmail("owner@acme.test"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("unsigned delivery must not provision")
	}
}

func TestCheckoutWebhook_IgnoresOtherEvents(t *testing.T) {
	env := setupHandler(t)
	payload := `{"id":"evt_2","type":"invoice.paid","data":{"object":{}}}`
	rr := env.do(t, webhookReq(payload, webhook.Header([]byte(payload), testSecret, time.Now())))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "invoice.paid") {
		t.Errorf("got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutWebhook_NoEmail(t *testing.T) {
	env := setupHandler(t)
	payload := `{"id":"evt_3","type":"checkout.session.completed","data":{"object":{"id":"cs_3","subscription":"sub_3"}}}`
	rr := env.do(t, webhookReq(payload, webhook.Header([]byte(payload), testSecret, time.Now())))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct{ in, want string }{
		{`  <b>Jane</b>  `, "bJane/b"},
		{`javascript:alert('x')`, "alert(x)"},
		{`img onerror=steal()`, "img steal()"},
		{`"quoted"`, "quoted"},
		{strings.Repeat("é", 1200), strings.Repeat("é", 1000)},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContact(t *testing.T) {
	env := setupHandler(t)

	body := `{"name":"Jane <Doe>","email":"jane@acme.test","company":"Acme","product":"integrated_agent","message":"Call me"}`
	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if n, _ := env.store.CountContactSubmissions(); n != 1 {
		t.Errorf("submissions = %d, want 1", n)
	}

	for _, bad := range []string{
		`{"name":"","email":"jane@acme.test"}`,
		`{"name":"Jane","email":"not-an-email"}`,
		`{"name":"<>","email":"jane@acme.test"}`,
	} {
		rr := env.do(t, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(bad)))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", bad, rr.Code)
		}
	}
	if n, _ := env.store.CountContactSubmissions(); n != 1 {
		t.Errorf("invalid submissions were stored: %d", n)
	}
}

func TestAgentGateway_Routes(t *testing.T) {
	env := setupHandler(t)

	tests := []struct {
		body    string
		wantURL string
	}{
		{`{"message":"hi"}`, "https://flows.test/homepage"},
		{`{"agentType":"sales","message":"hi"}`, "https://flows.test/sales"},
		{`{"agentType":"service","message":"hi"}`, "https://flows.test/service"},
	}
	for _, tt := range tests {
		rr := env.do(t, httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader(tt.body)))
		if rr.Code != http.StatusOK || rr.Body.String() != `{"output":"Hello!"}` {
			t.Errorf("%s: got %d %s", tt.body, rr.Code, rr.Body.String())
		}
		if got := env.relay.urls[len(env.relay.urls)-1]; got != tt.wantURL {
			t.Errorf("%s: relayed to %s, want %s", tt.body, got, tt.wantURL)
		}
	}

	forwarded, ok := env.relay.bodies[1].(map[string]any)
	if !ok || forwarded["message"] != "hi" || forwarded["agentType"] != "sales" {
		t.Errorf("body not forwarded as-is: %#v", env.relay.bodies[1])
	}
}

func TestAgentGateway_Errors(t *testing.T) {
	env := setupHandler(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown agent", `{"agentType":"billing"}`, http.StatusBadRequest},
		{"unconfigured agent", `{"agentType":"integrated"}`, http.StatusServiceUnavailable},
		{"not an object", `[1,2]`, http.StatusBadRequest},
		{"null", `null`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader(tt.body)))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
	if len(env.relay.urls) != 0 {
		t.Errorf("rejected requests were relayed: %v", env.relay.urls)
	}
}

func TestAgentGateway_UpstreamStatus(t *testing.T) {
	env := setupHandler(t)
	env.relay.err = &workflow.StatusError{Status: http.StatusNotFound, Body: "workflow not found"}

	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader(`{}`)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	if body["raw"] != "workflow not found" {
		t.Errorf("body = %v", body)
	}

	env.relay.err = errors.New("connection refused")
	rr = env.do(t, httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
}

func TestAgentGateway_SavesCaptures(t *testing.T) {
	env := setupHandler(t)
	if err := env.store.CreateMerchant(storage.Merchant{ID: "m1", Email: "owner@acme.test"}); err != nil {
		t.Fatalf("CreateMerchant: %v", err)
	}
	reply, _ := json.Marshal(map[string]string{
		"output": "Thanks!\nSUPPORT_TICKET: {\"issue\":\"late order\",\"order_number\":\"42\"}\nLEAD_DATA: {broken",
	})
	env.relay.reply = reply

	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/agent",
		strings.NewReader(`{"agentType":"service","user_id":"m1","message":"where is my order"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	captures, err := env.store.ListCaptures("m1", 10)
	if err != nil {
		t.Fatalf("ListCaptures: %v", err)
	}
	if len(captures) != 1 {
		t.Fatalf("captures = %d, want 1 (malformed marker skipped)", len(captures))
	}
	c := captures[0]
	if c.Kind != "support_ticket" || c.AgentType != "service" || !strings.Contains(c.FieldsJSON, `"order_number":"42"`) {
		t.Errorf("unexpected capture: %+v", c)
	}

	// Without a merchant nothing is stored.
	env.do(t, httptest.NewRequest(http.MethodPost, "/agent", strings.NewReader(`{"agentType":"service"}`)))
	if all, _ := env.store.ListCaptures("", 10); len(all) != 0 {
		t.Errorf("anonymous captures stored: %v", all)
	}
}

func TestAgentGateway_UnknownMerchantCapturesDropped(t *testing.T) {
	env := setupHandler(t)
	reply, _ := json.Marshal(map[string]string{"output": `LEAD_DATA: {"name":"Jo","email":"jo@x.test"}`})
	env.relay.reply = reply

	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/agent",
		strings.NewReader(`{"agentType":"sales","user_id":"ghost","message":"hi"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want reply relayed", rr.Code)
	}
	if captures, _ := env.store.ListCaptures("ghost", 10); len(captures) != 0 {
		t.Errorf("captures stored for unknown merchant: %v", captures)
	}
}
