package book

// FillEstimate is the result of walking one side of a book to fill a target
// number of shares. All fields are in micro units.
type FillEstimate struct {
	SharesMicros uint64 // equals the requested size when the estimate exists
	CostMicros   uint64
	VWAPMicros   uint64
	BestMicros   uint64 // first level touched
	WorstMicros  uint64 // last level touched; the limit price for the order
	LevelsUsed   int
}

// EstimateBuy walks the ask side (ascending) and returns the exact cost of
// buying targetSharesMicros shares. The second return is false when the book
// cannot fill the full size; a partial estimate is never returned.
func EstimateBuy(asks []Level, targetSharesMicros uint64) (FillEstimate, bool) {
	if targetSharesMicros == 0 || len(asks) == 0 {
		return FillEstimate{}, false
	}

	remaining := targetSharesMicros
	var est FillEstimate
	for _, lvl := range asks {
		if remaining == 0 {
			break
		}
		if lvl.PriceMicros == 0 || lvl.SharesMicros == 0 {
			continue
		}
		take := lvl.SharesMicros
		if take > remaining {
			take = remaining
		}
		if est.LevelsUsed == 0 {
			est.BestMicros = lvl.PriceMicros
		}
		est.SharesMicros += take
		est.CostMicros += CostMicros(take, lvl.PriceMicros)
		est.WorstMicros = lvl.PriceMicros
		est.LevelsUsed++
		remaining -= take
	}

	if remaining > 0 {
		return FillEstimate{}, false
	}
	est.VWAPMicros = mulDivU64(est.CostMicros, MicrosScale, est.SharesMicros)
	return est, true
}
