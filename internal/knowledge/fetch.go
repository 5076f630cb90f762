package knowledge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"golang.org/x/sync/errgroup"
)

// Document is a policy downloaded from a URL.
type Document struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// Fetch downloads urls concurrently and extracts their text. Results are in
// input order. The first failure cancels the remaining downloads.
func Fetch(ctx context.Context, client *http.Client, urls []string) ([]Document, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	docs := make([]Document, len(urls))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, u := range urls {
		g.Go(func() error {
			doc, err := fetchOne(gCtx, client, u)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", u, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func fetchOne(ctx context.Context, client *http.Client, rawURL string) (Document, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Document{}, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return Document{}, fmt.Errorf("reading body: %w", err)
	}

	name := path.Base(parsed.Path)
	if name == "/" || name == "." {
		name = parsed.Host
	}
	text, err := Extract(name, resp.Header.Get("Content-Type"), data)
	if err != nil {
		return Document{}, err
	}
	return Document{URL: rawURL, Name: name, Text: text}, nil
}
