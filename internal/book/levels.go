package book

import "sort"

// Level is one order book price level. Price and size are in micro units.
type Level struct {
	PriceMicros  uint64
	SharesMicros uint64
}

// Book is a two-sided depth snapshot for a single outcome token.
// Asks are ascending by price, bids descending.
type Book struct {
	TokenID string
	Bids    []Level
	Asks    []Level
}

// BestAsk returns the lowest ask level, or false when the ask side is empty.
func (b Book) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// BestBid returns the highest bid level, or false when the bid side is empty.
func (b Book) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// NormalizeAsks returns levels sorted ascending by price, with same-price
// levels merged and zero levels removed.
func NormalizeAsks(levels []Level) []Level {
	return normalize(levels, func(a, b Level) bool {
		if a.PriceMicros == b.PriceMicros {
			return a.SharesMicros < b.SharesMicros
		}
		return a.PriceMicros < b.PriceMicros
	})
}

// NormalizeBids returns levels sorted descending by price, with same-price
// levels merged and zero levels removed.
func NormalizeBids(levels []Level) []Level {
	return normalize(levels, func(a, b Level) bool {
		if a.PriceMicros == b.PriceMicros {
			return a.SharesMicros < b.SharesMicros
		}
		return a.PriceMicros > b.PriceMicros
	})
}

func normalize(levels []Level, less func(a, b Level) bool) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.PriceMicros == 0 || l.SharesMicros == 0 {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	merged := out[:0]
	for _, l := range out {
		if len(merged) == 0 || merged[len(merged)-1].PriceMicros != l.PriceMicros {
			merged = append(merged, l)
			continue
		}
		merged[len(merged)-1].SharesMicros += l.SharesMicros
	}
	return merged
}
