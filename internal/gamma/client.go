// Package gamma discovers Polymarket BTC up/down 15-minute markets through
// the Gamma events API and tracks the transition from one window to the next.
package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultURL = "https://gamma-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
		limiter:   rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

type clobTokenIDs []string

func (c *clobTokenIDs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = nil
		return nil
	}

	// Gamma commonly returns clobTokenIds as a JSON string that itself contains a JSON array.
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = nil
			return nil
		}
		var ids []string
		if err := json.Unmarshal([]byte(s), &ids); err != nil {
			return err
		}
		*c = ids
		return nil
	}

	// Some endpoints may return it directly as an array.
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*c = ids
	return nil
}

type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}

	// Gamma sometimes returns lists as a JSON string that itself contains a JSON array.
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return err
		}
		*s = vals
		return nil
	}

	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

type event struct {
	Slug    string   `json:"slug"`
	Markets []market `json:"markets"`
}

type market struct {
	ID           string       `json:"id"`
	Slug         string       `json:"slug"`
	Question     string       `json:"question"`
	Outcomes     stringList   `json:"outcomes"`
	ClobTokenIDs clobTokenIDs `json:"clobTokenIds"`
}

// Market is one binary BTC up/down market with its two outcome tokens.
type Market struct {
	ID          string
	Slug        string
	Question    string
	UpTokenID   string
	DownTokenID string
	Outcomes    []string
}

// FetchMarket resolves an event slug to its binary market. The Up token
// comes from the outcome named "Up" when present, else the first token.
func (c *Client) FetchMarket(ctx context.Context, eventSlug string) (Market, error) {
	if c == nil {
		return Market{}, fmt.Errorf("gamma client nil")
	}
	// Strip any query suffix a pasted URL slug may carry.
	eventSlug, _, _ = strings.Cut(strings.TrimSpace(eventSlug), "?")
	if eventSlug == "" {
		return Market{}, fmt.Errorf("event slug required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Market{}, err
	}

	q := url.Values{}
	q.Set("slug", eventSlug)
	endpoint := c.host + "/events?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Market{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Market{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return Market{}, fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	var events []event
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&events); err != nil {
		return Market{}, fmt.Errorf("gamma decode: %w", err)
	}
	if len(events) == 0 {
		return Market{}, fmt.Errorf("gamma: no event for slug %q", eventSlug)
	}

	// Prefer a market with an exact matching slug, else fallback to the first market.
	var chosen *market
	for i := range events {
		ev := &events[i]
		for j := range ev.Markets {
			m := &ev.Markets[j]
			if strings.TrimSpace(m.Slug) == eventSlug {
				chosen = m
				break
			}
		}
		if chosen != nil {
			break
		}
	}
	if chosen == nil {
		if len(events[0].Markets) == 0 {
			return Market{}, fmt.Errorf("gamma: event %q has no markets", eventSlug)
		}
		chosen = &events[0].Markets[0]
	}

	ids := make([]string, 0, len(chosen.ClobTokenIDs))
	for _, id := range chosen.ClobTokenIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) != 2 {
		return Market{}, fmt.Errorf("gamma: expected 2 clobTokenIds for %q, got %d", eventSlug, len(ids))
	}
	outcomes := append([]string(nil), chosen.Outcomes...)
	if len(outcomes) != 2 {
		return Market{}, fmt.Errorf("gamma: expected binary outcomes for %q, got %d", eventSlug, len(outcomes))
	}

	m := Market{
		ID:          strings.TrimSpace(chosen.ID),
		Slug:        eventSlug,
		Question:    strings.TrimSpace(chosen.Question),
		UpTokenID:   ids[0],
		DownTokenID: ids[1],
		Outcomes:    outcomes,
	}
	if strings.EqualFold(strings.TrimSpace(outcomes[0]), "down") {
		m.UpTokenID, m.DownTokenID = ids[1], ids[0]
	}
	return m, nil
}

// ListOpenEventSlugs queries the tag-filtered events feed and returns the
// slugs of open events.
func (c *Client) ListOpenEventSlugs(ctx context.Context, tag string, limit int) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("tag", tag)
	q.Set("closed", "false")
	q.Set("limit", fmt.Sprintf("%d", limit))
	endpoint := c.host + "/events?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return nil, fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	var events []event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("gamma decode: %w", err)
	}

	slugs := make([]string, 0, len(events))
	for _, ev := range events {
		if s := strings.TrimSpace(ev.Slug); s != "" {
			slugs = append(slugs, s)
		}
	}
	return slugs, nil
}

func readBodyLimit(r io.Reader, max int64) string {
	if r == nil || max <= 0 {
		return ""
	}
	lr := &io.LimitedReader{R: r, N: max}
	b, _ := io.ReadAll(lr)
	return strings.TrimSpace(string(b))
}
