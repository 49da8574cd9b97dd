package input

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/go-shiori/go-readability"
)

// maxBodySize limits how much HTML is read from an article URL.
const maxBodySize = 10 * 1024 * 1024

var (
	reRT = regexp.MustCompile(`(?si)<rt\b[^>]*>.*?</rt>`)
	reRP = regexp.MustCompile(`(?si)<rp\b[^>]*>.*?</rp>`)
)

// SanitizeRuby strips furigana (<rt>) and ruby parentheses (<rp>) from HTML,
// so that extracted text reads 漢字 rather than 漢字かんじ.
func SanitizeRuby(content []byte) []byte {
	cleaned := reRT.ReplaceAll(content, nil)
	return reRP.ReplaceAll(cleaned, nil)
}

// Article is the readable text of a web page split into lines.
type Article struct {
	Title string
	Lines []string
}

// Fetcher downloads articles.
type Fetcher struct {
	Client *http.Client
}

// NewFetcher returns a fetcher with a 30 second timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch downloads rawURL, removes ruby annotations and extracts the main
// article text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Article, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Article{}, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Article{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.8,en;q=0.7")

	resp, err := f.Client.Do(req)
	if err != nil {
		return Article{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Article{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > maxBodySize {
		return Article{}, fmt.Errorf("content-length %d exceeds limit of %d bytes", resp.ContentLength, maxBodySize)
	}

	// Read one byte past the limit to tell "exactly at limit" from "too big".
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return Article{}, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return Article{}, fmt.Errorf("response body exceeded %d bytes", maxBodySize)
	}

	article, err := readability.FromReader(bytes.NewReader(SanitizeRuby(body)), u)
	if err != nil {
		return Article{}, fmt.Errorf("extract article: %w", err)
	}
	return Article{Title: article.Title, Lines: SplitSentences(article.TextContent)}, nil
}
