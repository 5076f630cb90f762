package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMerchant(t *testing.T, s *Store, id, email string) {
	t.Helper()
	if err := s.CreateMerchant(Merchant{ID: id, Email: email}); err != nil {
		t.Fatalf("CreateMerchant: %v", err)
	}
}

// TestMigrationsIdempotent runs Open twice on the same directory and verifies
// no migration is applied twice.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_status_run_after", "idx_user_products_merchant", "idx_knowledge_docs_merchant", "idx_captures_merchant_created"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count); err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestMerchantRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seedMerchant(t, s, "m1", "Owner@Acme.test")

	m, err := s.GetMerchant("m1")
	if err != nil {
		t.Fatalf("GetMerchant: %v", err)
	}
	if m.Email != "owner@acme.test" {
		t.Errorf("Email = %q, want lower-cased", m.Email)
	}

	byEmail, err := s.GetMerchantByEmail(" OWNER@acme.test ")
	if err != nil {
		t.Fatalf("GetMerchantByEmail: %v", err)
	}
	if byEmail.ID != "m1" {
		t.Errorf("ID = %q, want m1", byEmail.ID)
	}

	if _, err := s.GetMerchant("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.CreateMerchant(Merchant{ID: "m2", Email: "owner@acme.test"}); err == nil {
		t.Error("expected duplicate email to fail")
	}
}

func TestBusinessProfileUpsert(t *testing.T) {
	s := openTestStore(t)
	seedMerchant(t, s, "m1", "a@b.test")

	if _, err := s.GetBusinessProfile("m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before insert, got %v", err)
	}

	p := BusinessProfile{MerchantID: "m1", CustomerID: "c1", Name: "Acme", Email: "a@b.test"}
	if err := s.UpsertBusinessProfile(p); err != nil {
		t.Fatalf("UpsertBusinessProfile: %v", err)
	}
	p.Address = "1 Main St"
	p.PaymentStatus = "paid"
	if err := s.UpsertBusinessProfile(p); err != nil {
		t.Fatalf("UpsertBusinessProfile (update): %v", err)
	}

	got, err := s.GetBusinessProfile("m1")
	if err != nil {
		t.Fatalf("GetBusinessProfile: %v", err)
	}
	if got.CustomerID != "c1" || got.Address != "1 Main St" || got.PaymentStatus != "paid" {
		t.Errorf("unexpected profile: %+v", got)
	}

	if err := s.UpdateBusinessName("m1", "Acme Corp"); err != nil {
		t.Fatalf("UpdateBusinessName: %v", err)
	}
	got, _ = s.GetBusinessProfile("m1")
	if got.Name != "Acme Corp" {
		t.Errorf("Name = %q, want Acme Corp", got.Name)
	}
	if err := s.UpdateBusinessName("nobody", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStripeCustomerUpsert(t *testing.T) {
	s := openTestStore(t)
	seedMerchant(t, s, "m1", "a@b.test")

	for _, id := range []string{"cus_1", "cus_2"} {
		if err := s.UpsertStripeCustomer(StripeCustomer{MerchantID: "m1", CustomerID: id}); err != nil {
			t.Fatalf("UpsertStripeCustomer: %v", err)
		}
	}
	got, err := s.GetStripeCustomer("m1")
	if err != nil {
		t.Fatalf("GetStripeCustomer: %v", err)
	}
	if got.CustomerID != "cus_2" {
		t.Errorf("CustomerID = %q, want cus_2", got.CustomerID)
	}
}

func TestUserProducts(t *testing.T) {
	s := openTestStore(t)
	seedMerchant(t, s, "m1", "a@b.test")

	p := UserProduct{ID: "p1", MerchantID: "m1", ProductID: "inbound_sales_agent", Status: StatusTrialing, SubscriptionID: "sub_1"}
	if err := s.SaveUserProduct(p); err != nil {
		t.Fatalf("SaveUserProduct: %v", err)
	}
	if err := s.SaveUserProduct(UserProduct{ID: "p2", MerchantID: "m1", ProductID: "other", Status: StatusActive, SubscriptionID: "sub_1"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate subscription id: got %v, want ErrDuplicate", err)
	}

	got, err := s.GetUserProduct("p1")
	if err != nil {
		t.Fatalf("GetUserProduct: %v", err)
	}
	if got.ConfigJSON != "{}" || got.ExpiresAt != nil || got.CancelAtPeriodEnd {
		t.Errorf("unexpected defaults: %+v", got)
	}

	bySub, err := s.GetUserProductBySubscription("sub_1")
	if err != nil || bySub.ID != "p1" {
		t.Fatalf("GetUserProductBySubscription = %+v, %v", bySub, err)
	}
	if _, err := s.GetUserProductBySubscription(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty subscription id should be ErrNotFound, got %v", err)
	}

	if err := s.UpdateProductConfig("p1", `{"tone":"formal"}`, "I am the formal sales assistant"); err != nil {
		t.Fatalf("UpdateProductConfig: %v", err)
	}
	if err := s.UpdateProductPlatform("p1", "shopify"); err != nil {
		t.Fatalf("UpdateProductPlatform: %v", err)
	}
	if err := s.UpdateProductStatus("p1", StatusActive); err != nil {
		t.Fatalf("UpdateProductStatus: %v", err)
	}
	got, _ = s.GetUserProduct("p1")
	if got.ConfigJSON != `{"tone":"formal"}` || got.Prompt != "I am the formal sales assistant" {
		t.Errorf("config/prompt not written together: %+v", got)
	}
	if got.Platform != "shopify" || got.Status != StatusActive {
		t.Errorf("unexpected product: %+v", got)
	}
	if err := s.UpdateProductConfig("missing", "{}", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := s.ListUserProducts("m1")
	if err != nil {
		t.Fatalf("ListUserProducts: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
	empty, err := s.ListUserProducts("nobody")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil list, got %v, %v", empty, err)
	}
}

func TestCancelMerchantProducts(t *testing.T) {
	s := openTestStore(t)
	seedMerchant(t, s, "m1", "a@b.test")
	for _, id := range []string{"p1", "p2"} {
		if err := s.SaveUserProduct(UserProduct{ID: id, MerchantID: "m1", ProductID: "x", Status: StatusActive}); err != nil {
			t.Fatalf("SaveUserProduct: %v", err)
		}
	}

	n, err := s.CancelMerchantProducts("m1", false, time.Now())
	if err != nil {
		t.Fatalf("CancelMerchantProducts: %v", err)
	}
	if n != 2 {
		t.Errorf("changed = %d, want 2", n)
	}
	p, _ := s.GetUserProduct("p1")
	if !p.CancelAtPeriodEnd || p.Status != StatusActive {
		t.Errorf("period-end cancel should keep status: %+v", p)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.CancelMerchantProducts("m1", true, at); err != nil {
		t.Fatalf("CancelMerchantProducts immediate: %v", err)
	}
	p, _ = s.GetUserProduct("p2")
	if p.Status != StatusCancelled {
		t.Errorf("Status = %q, want cancelled", p.Status)
	}
	if p.ExpiresAt == nil || !p.ExpiresAt.Equal(at) {
		t.Errorf("ExpiresAt = %v, want %v", p.ExpiresAt, at)
	}

	n, _ = s.CancelMerchantProducts("m1", true, at)
	if n != 0 {
		t.Errorf("cancelling twice changed %d products", n)
	}
}

func TestKnowledgeDocs(t *testing.T) {
	s := openTestStore(t)
	seedMerchant(t, s, "m1", "a@b.test")

	certified := time.Now().UTC().Truncate(time.Second)
	docs := []KnowledgeDoc{
		{ID: "d1", MerchantID: "m1", DocType: "policy", Name: "return_refund", Content: "30 days", Certified: true, CertifiedAt: &certified, CreatedAt: certified.Add(-time.Hour)},
		{ID: "d2", MerchantID: "m1", DocType: "policy", Name: "shipping", Content: "2 days", CreatedAt: certified},
	}
	for _, d := range docs {
		if err := s.SaveKnowledgeDoc(d); err != nil {
			t.Fatalf("SaveKnowledgeDoc: %v", err)
		}
	}

	list, err := s.ListKnowledgeDocs("m1")
	if err != nil {
		t.Fatalf("ListKnowledgeDocs: %v", err)
	}
	if len(list) != 2 || list[0].ID != "d2" {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if !list[1].Certified || list[1].CertifiedAt == nil || !list[1].CertifiedAt.Equal(certified) {
		t.Errorf("certification not preserved: %+v", list[1])
	}

	if err := s.DeleteKnowledgeDoc("d1"); err != nil {
		t.Fatalf("DeleteKnowledgeDoc: %v", err)
	}
	if err := s.DeleteKnowledgeDoc("d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCaptures(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, kind := range []string{"lead", "support_ticket", "lead"} {
		c := Capture{
			ID:         string(rune('a' + i)),
			MerchantID: "m1",
			Kind:       kind,
			FieldsJSON: `{"name":"Ada"}`,
			Raw:        `LEAD_DATA:{"name":"Ada"}`,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveCapture(c); err != nil {
			t.Fatalf("SaveCapture: %v", err)
		}
	}

	got, err := s.ListCaptures("m1", 2)
	if err != nil {
		t.Fatalf("ListCaptures: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("expected newest first, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestContactSubmissions(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveContactSubmission(ContactSubmission{ID: "c1", Name: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("SaveContactSubmission: %v", err)
	}
	n, err := s.CountContactSubmissions()
	if err != nil {
		t.Fatalf("CountContactSubmissions: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "provision_notify", PayloadJSON: `{"merchant_id":"m1"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"provision_notify"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j1" || got.Status != "running" || got.MaxAttempts != 3 {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.PayloadJSON != `{"merchant_id":"m1"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}

	again, err := s.ClaimNextJob([]string{"provision_notify"})
	if err != nil {
		t.Fatalf("ClaimNextJob again: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %+v", again)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{"provision_notify"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
	if got, _ := s.ClaimNextJob(nil); got != nil {
		t.Errorf("expected nil for no types, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-future", Type: "knowledge_fetch", PayloadJSON: `{}`, RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	got, err := s.ClaimNextJob([]string{"knowledge_fetch"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-a", Type: "a", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob a: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j-b", Type: "b", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob b: %v", err)
	}
	got, err := s.ClaimNextJob([]string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.Type != "b" {
		t.Errorf("expected job of type b, got %+v", got)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-done", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-done"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	counts, err := s.JobCounts()
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts["completed"] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if err := s.CompleteJob("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFailJob_RetriesThenFails(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail", Type: "x", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob("j-fail", "timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, lastError, runAfterStr string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, last_error, run_after FROM jobs WHERE id = 'j-fail'`).
		Scan(&status, &attempts, &lastError, &runAfterStr); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "pending" || attempts != 1 || lastError != "timeout" {
		t.Errorf("after first failure: status=%q attempts=%d last_error=%q", status, attempts, lastError)
	}
	runAfter, err := time.Parse(time.RFC3339, runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}

	if err := s.FailJob("j-fail", "timeout again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j-fail'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}

	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
