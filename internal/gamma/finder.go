package gamma

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// WindowSeconds is the length of one BTC up/down market window.
const WindowSeconds = 900

const slugPrefix = "btc-updown-15m-"

var slugPattern = regexp.MustCompile(`btc-updown-15m-(\d+)`)

// Finder locates the currently active 15-minute window. Slugs encode the
// window start as a unix timestamp aligned to 900 seconds, so the fast path
// just computes candidate slugs; the tag search is the fallback when slug
// construction drifts from what the venue publishes.
type Finder struct {
	client *Client
	now    func() time.Time
	log    zerolog.Logger
}

func NewFinder(client *Client, log zerolog.Logger) *Finder {
	return &Finder{
		client: client,
		now:    time.Now,
		log:    log.With().Str("component", "market_finder").Logger(),
	}
}

// ActiveSlug returns the slug of the market whose window covers now, trying
// computed slugs first and the Gamma tag search second.
func (f *Finder) ActiveSlug(ctx context.Context) (string, error) {
	f.log.Info().Msg("searching for current BTC 15min market")

	if slug, ok := f.findViaComputedSlugs(ctx); ok {
		f.log.Info().Str("slug", slug).Msg("market found via computed slug")
		return slug, nil
	}
	if slug, ok := f.findViaTagSearch(ctx); ok {
		f.log.Info().Str("slug", slug).Msg("market found via tag search")
		return slug, nil
	}
	return "", fmt.Errorf("no active BTC 15min market found; set MARKET_SLUG to override")
}

func (f *Finder) findViaComputedSlugs(ctx context.Context) (string, bool) {
	nowTS := f.now().Unix()
	for i := int64(0); i < 5; i++ {
		ts := nowTS + i*WindowSeconds
		tsRounded := (ts / WindowSeconds) * WindowSeconds
		slug := slugPrefix + strconv.FormatInt(tsRounded, 10)
		if _, err := f.client.FetchMarket(ctx, slug); err != nil {
			continue
		}
		if nowTS < tsRounded+WindowSeconds {
			return slug, true
		}
	}
	return "", false
}

func (f *Finder) findViaTagSearch(ctx context.Context) (string, bool) {
	slugs, err := f.client.ListOpenEventSlugs(ctx, "15M", 10)
	if err != nil {
		f.log.Debug().Err(err).Msg("gamma tag search failed")
		return "", false
	}

	nowTS := f.now().Unix()
	type candidate struct {
		ts   int64
		slug string
	}
	var candidates []candidate
	for _, slug := range slugs {
		start, _, ok := SlugWindow(slug)
		if !ok {
			continue
		}
		if nowTS < start+WindowSeconds {
			candidates = append(candidates, candidate{ts: start, slug: slug})
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ts < candidates[j].ts })
	return candidates[0].slug, true
}

// SlugWindow extracts the window start and end unix timestamps from a slug.
func SlugWindow(slug string) (start, end int64, ok bool) {
	m := slugPattern.FindStringSubmatch(slug)
	if m == nil {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, start + WindowSeconds, true
}

// TimeRemaining formats how long until the slug's window closes.
func (f *Finder) TimeRemaining(slug string) string {
	_, end, ok := SlugWindow(slug)
	if !ok {
		return "Unknown"
	}
	remaining := end - f.now().Unix()
	if remaining <= 0 {
		return "CLOSED"
	}
	return fmt.Sprintf("%dm %ds", remaining/60, remaining%60)
}

// Closed reports whether the slug's window has ended.
func (f *Finder) Closed(slug string) bool {
	_, end, ok := SlugWindow(slug)
	if !ok {
		return false
	}
	return f.now().Unix() >= end
}
