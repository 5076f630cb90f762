// Package knowledge prepares policy documents for a merchant's knowledge
// base: text extraction from uploads, built-in templates and URL fetching.
package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// MaxDocumentSize is the largest upload Extract accepts.
const MaxDocumentSize = 5 << 20

var (
	// ErrUnsupportedType is returned for formats that cannot be turned into text.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrTooLarge is returned for documents over MaxDocumentSize.
	ErrTooLarge = errors.New("document too large")
	// ErrEmpty is returned when a document has no extractable text.
	ErrEmpty = errors.New("document has no text")
)

// Format is a document encoding Extract understands.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// DetectFormat picks a format from the content type, falling back to the
// file extension.
func DetectFormat(name, contentType string) (Format, error) {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "text/plain":
			return FormatText, nil
		case "text/markdown", "text/x-markdown":
			return FormatMarkdown, nil
		case "text/html", "application/xhtml+xml":
			return FormatHTML, nil
		case "application/pdf":
			return FormatPDF, nil
		}
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", "":
		return FormatText, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, name)
}

// Extract returns the plain text of a policy document.
func Extract(name, contentType string, data []byte) (string, error) {
	if len(data) > MaxDocumentSize {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(data), MaxDocumentSize)
	}
	format, err := DetectFormat(name, contentType)
	if err != nil {
		return "", err
	}

	var text string
	switch format {
	case FormatText, FormatMarkdown:
		text = string(data)
	case FormatHTML:
		text, err = htmlText(data)
	case FormatPDF:
		text, err = pdfText(data)
	}
	if err != nil {
		return "", err
	}

	text = normalize(text)
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(b), nil
}

// blockElements end a line of extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return b.String(), nil
}

var (
	spaceRun = regexp.MustCompile(`[ \t\f\v]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

// normalize trims each line, collapses runs of spaces and keeps at most one
// blank line between paragraphs.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
