package gamma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSlugWindow(t *testing.T) {
	start, end, ok := SlugWindow("btc-updown-15m-1765791900")
	if !ok {
		t.Fatal("expected match")
	}
	if start != 1765791900 || end != 1765791900+900 {
		t.Fatalf("unexpected window: %d %d", start, end)
	}

	if _, _, ok := SlugWindow("eth-updown-1h-123"); ok {
		t.Fatal("expected no match")
	}
}

func TestFinderComputedSlug(t *testing.T) {
	nowTS := int64(1765791900 + 120)
	active := (nowTS / WindowSeconds) * WindowSeconds

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		if slug != slugPrefix+"1765791900" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[]`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"slug": slug,
			"markets": []map[string]any{{
				"slug":         slug,
				"outcomes":     []string{"Up", "Down"},
				"clobTokenIds": []string{"1", "2"},
			}},
		}})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	f := NewFinder(c, zerolog.Nop())
	f.now = func() time.Time { return time.Unix(nowTS, 0) }

	slug, err := f.ActiveSlug(context.Background())
	if err != nil {
		t.Fatalf("ActiveSlug: %v", err)
	}
	if slug != slugPrefix+"1765791900" {
		t.Fatalf("unexpected slug %q (active window %d)", slug, active)
	}
}

func TestFinderTagSearchFallback(t *testing.T) {
	nowTS := int64(1765791900 + 120)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("tag") == "15M" {
			// Earliest still-open window wins; closed and foreign slugs drop.
			_, _ = w.Write([]byte(`[
  {"slug":"btc-updown-15m-1765791000"},
  {"slug":"btc-updown-15m-1765792800"},
  {"slug":"btc-updown-15m-1765791900"},
  {"slug":"something-else"}
]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	f := NewFinder(c, zerolog.Nop())
	f.now = func() time.Time { return time.Unix(nowTS, 0) }

	slug, err := f.ActiveSlug(context.Background())
	if err != nil {
		t.Fatalf("ActiveSlug: %v", err)
	}
	if slug != "btc-updown-15m-1765791900" {
		t.Fatalf("unexpected slug %q", slug)
	}
}

func TestFinderNoMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	f := NewFinder(c, zerolog.Nop())
	if _, err := f.ActiveSlug(context.Background()); err == nil {
		t.Fatal("expected error when nothing is open")
	}
}

func TestTimeRemainingAndClosed(t *testing.T) {
	f := NewFinder(nil, zerolog.Nop())
	f.now = func() time.Time { return time.Unix(1765791900+65, 0) }

	if got := f.TimeRemaining("btc-updown-15m-1765791900"); got != "13m 55s" {
		t.Fatalf("unexpected remaining %q", got)
	}
	if f.Closed("btc-updown-15m-1765791900") {
		t.Fatal("window should be open")
	}

	f.now = func() time.Time { return time.Unix(1765791900+900, 0) }
	if got := f.TimeRemaining("btc-updown-15m-1765791900"); got != "CLOSED" {
		t.Fatalf("unexpected remaining %q", got)
	}
	if !f.Closed("btc-updown-15m-1765791900") {
		t.Fatal("window should be closed")
	}
	if got := f.TimeRemaining("bogus"); got != "Unknown" {
		t.Fatalf("unexpected remaining %q", got)
	}
}
