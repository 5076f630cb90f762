package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtract_PlainAndMarkdown(t *testing.T) {
	got, err := Extract("policy.md", "", []byte("# Returns\r\n\r\n\r\n\r\nWithin   30 days.  \n"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "# Returns\n\nWithin 30 days." {
		t.Errorf("got %q", got)
	}

	got, err = Extract("notes", "text/plain; charset=utf-8", []byte("hello"))
	if err != nil || got != "hello" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestExtract_HTML(t *testing.T) {
	page := `<html><head><title>x</title><style>p{color:red}</style></head>
<body><h1>Refunds</h1><script>alert("hi")</script><p>Refunds within <b>14</b> days.</p><ul><li>Card</li><li>Cash</li></ul></body></html>`

	got, err := Extract("policy.html", "", []byte(page))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{"Refunds", "Refunds within 14 days.", "Card", "Cash"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	for _, unwanted := range []string{"alert", "color:red", "<p>"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("unexpected %q in %q", unwanted, got)
		}
	}
}

func TestExtract_Errors(t *testing.T) {
	if _, err := Extract("policy.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("x")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("docx: expected ErrUnsupportedType, got %v", err)
	}
	if _, err := Extract("big.txt", "", make([]byte, MaxDocumentSize+1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if _, err := Extract("blank.txt", "", []byte("  \n\t\n")); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := Extract("broken.pdf", "", []byte("not a pdf")); err == nil {
		t.Error("expected error for invalid pdf")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name, contentType string
		want              Format
	}{
		{"a.pdf", "", FormatPDF},
		{"a.bin", "application/pdf", FormatPDF},
		{"a.HTM", "", FormatHTML},
		{"a.txt", "text/markdown", FormatMarkdown},
		{"README", "", FormatText},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.name, tt.contentType)
		if err != nil || got != tt.want {
			t.Errorf("DetectFormat(%q, %q) = %q, %v; want %q", tt.name, tt.contentType, got, err, tt.want)
		}
	}
}

func TestTemplates(t *testing.T) {
	list := Templates()
	if len(list) != 9 {
		t.Fatalf("len(Templates) = %d, want 9", len(list))
	}
	for _, tmpl := range list {
		body, err := Template(tmpl.Name)
		if err != nil {
			t.Errorf("Template(%q): %v", tmpl.Name, err)
			continue
		}
		if !strings.HasPrefix(body, "# ") {
			t.Errorf("Template(%q) does not start with a heading", tmpl.Name)
		}
	}
	if _, err := Template("../go.mod"); err == nil {
		t.Error("expected error for unknown template")
	}
	if IsTemplate(DefaultDocName) {
		t.Error("default doc name should not be a template")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/refunds.html":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<p>Refunds in 30 days</p>")
		case "/shipping.txt":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "Ships in 2 days")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	docs, err := Fetch(context.Background(), srv.Client(), []string{srv.URL + "/refunds.html", srv.URL + "/shipping.txt"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}
	if docs[0].Name != "refunds.html" || docs[0].Text != "Refunds in 30 days" {
		t.Errorf("docs[0] = %+v", docs[0])
	}
	if docs[1].Text != "Ships in 2 days" {
		t.Errorf("docs[1] = %+v", docs[1])
	}

	if _, err := Fetch(context.Background(), srv.Client(), []string{srv.URL + "/missing"}); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := Fetch(context.Background(), srv.Client(), []string{"ftp://example.com/x"}); err == nil {
		t.Error("expected error for non-http url")
	}
	if docs, err := Fetch(context.Background(), nil, nil); err != nil || docs != nil {
		t.Errorf("empty input: %v, %v", docs, err)
	}
}
