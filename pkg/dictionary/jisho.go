package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultJishoURL = "https://jisho.org/api/v1/search/words"

// Jisho looks terms up with the jisho.org word search API.
type Jisho struct {
	baseURL    string
	httpClient *http.Client
}

// NewJisho creates a client. baseURL may be empty for the public API.
func NewJisho(baseURL string) *Jisho {
	if baseURL == "" {
		baseURL = defaultJishoURL
	}
	return &Jisho{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type jishoResponse struct {
	Meta struct {
		Status int `json:"status"`
	} `json:"meta"`
	Data []json.RawMessage `json:"data"`
}

type jishoWord struct {
	Slug     string `json:"slug"`
	IsCommon bool   `json:"is_common"`
	Japanese []struct {
		Word    string `json:"word"`
		Reading string `json:"reading"`
	} `json:"japanese"`
	Senses []struct {
		EnglishDefinitions []string `json:"english_definitions"`
		PartsOfSpeech      []string `json:"parts_of_speech"`
	} `json:"senses"`
}

// Lookup searches for term and returns Jisho's results in its ranking order.
func (j *Jisho) Lookup(ctx context.Context, term string) ([]Candidate, error) {
	reqURL := j.baseURL + "?keyword=" + url.QueryEscape(term)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("jisho: create request: %w", err)
	}
	req.Header.Set("User-Agent", "tango-cli")
	req.Header.Set("Accept", "application/json")

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jisho: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jisho: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("jisho: read body: %w", err)
	}

	var parsed jishoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: jisho: decode json: %v", ErrUnexpectedResponse, err)
	}
	if parsed.Meta.Status != http.StatusOK {
		return nil, fmt.Errorf("%w: jisho: meta status %d", ErrUnexpectedResponse, parsed.Meta.Status)
	}

	candidates := make([]Candidate, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		var w jishoWord
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: jisho: decode word: %v", ErrUnexpectedResponse, err)
		}
		candidates = append(candidates, w.candidate(raw))
	}
	return candidates, nil
}

func (w jishoWord) candidate(raw json.RawMessage) Candidate {
	c := Candidate{
		Identity: w.Slug,
		Common:   w.IsCommon,
		Raw:      raw,
	}
	if len(w.Japanese) > 0 {
		c.Reading = w.Japanese[0].Reading
	}
	for _, s := range w.Senses {
		c.Definitions = append(c.Definitions, s.EnglishDefinitions...)
		c.PartsOfSpeech = append(c.PartsOfSpeech, s.PartsOfSpeech...)
	}
	return c
}
