// Package bar implements the bar builder (§4.C): folding a stream of ticks
// into fixed-grid OHLCV bars at 1/5/10-minute resolution, left-open/
// right-closed, with strictly enumerated output timestamps.
package bar

import (
	"math"
	"sort"
	"time"

	"github.com/cs7649/surgefactor/internal/tickload"
	"github.com/cs7649/surgefactor/internal/timepolicy"
)

// Bar is one OHLCV aggregation over a (symbol, date, bar_time) triple
// (§3 Bar). VWAP, Ret, and PCls are math.NaN() when the spec defines them as
// null (Vol <= 0, PCls <= 0 or missing, and first-bar-of-symbol for
// trade-built bars respectively; a snap-built first bar keeps the snapshot's
// pcls) — callers must check with math.IsNaN before using them.
type Bar struct {
	Symbol     string
	Date       string
	BarTime    time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Vol        float64
	Amt        float64
	VWAP       float64
	Ret        float64
	PCls       float64
	TradeCount int64
}

// BuildFromTrades implements OPS1: trade-based sum-aggregation into bars.
// Ticks with Flag == 52 (cancellations) are dropped before aggregation.
func BuildFromTrades(rows []tickload.Row, freq timepolicy.Freq) []Bar {
	sorted := append([]tickload.Row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Symbol != sorted[j].Symbol {
			return sorted[i].Symbol < sorted[j].Symbol
		}
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date < sorted[j].Date
		}
		return sorted[i].XTS.Before(sorted[j].XTS)
	})

	type key struct {
		symbol  string
		date    string
		barTime time.Time
	}

	type accum struct {
		open       float64
		high       float64
		low        float64
		close      float64
		vol        float64
		amt        float64
		tradeCount int64
		started    bool
	}

	var order []key
	groups := map[key]*accum{}

	for _, r := range sorted {
		if r.Flag == 52 {
			continue
		}

		barTime := timepolicy.TruncateToBarTime(r.XTS, freq)
		if !timepolicy.IsValidBarTime(freq, barTime) {
			continue
		}

		k := key{r.Symbol, r.Date, barTime}
		a, ok := groups[k]
		if !ok {
			a = &accum{}
			groups[k] = a
			order = append(order, k)
		}

		px := r.Fields["px"]
		qty := r.Fields["qty"]
		amt := r.Fields["amt"]

		if !a.started {
			a.open = px
			a.high = px
			a.low = px
			a.started = true
		} else {
			if px > a.high {
				a.high = px
			}
			if px < a.low {
				a.low = px
			}
		}
		a.close = px
		a.vol += qty
		a.amt += amt
		a.tradeCount++
	}

	bars := make([]Bar, 0, len(order))
	for _, k := range order {
		a := groups[k]
		b := Bar{
			Symbol:     k.symbol,
			Date:       k.date,
			BarTime:    k.barTime,
			Open:       a.open,
			High:       a.high,
			Low:        a.low,
			Close:      a.close,
			Vol:        a.vol,
			Amt:        a.amt,
			TradeCount: a.tradeCount,
			VWAP:       math.NaN(),
			Ret:        math.NaN(),
			PCls:       math.NaN(),
		}
		if a.vol > 0 {
			b.VWAP = a.amt / a.vol
		}
		bars = append(bars, b)
	}

	assignPrevCloseAndReturn(bars)
	return bars
}

// assignPrevCloseAndReturn computes PCls as the prior bar's Close (shifted
// by one, partitioned by symbol, ordered by bar_time) and Ret from it, per
// §4.C's trade-based aggregation rule.
func assignPrevCloseAndReturn(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool {
		if bars[i].Symbol != bars[j].Symbol {
			return bars[i].Symbol < bars[j].Symbol
		}
		if bars[i].Date != bars[j].Date {
			return bars[i].Date < bars[j].Date
		}
		return bars[i].BarTime.Before(bars[j].BarTime)
	})

	var prevSymbol string
	var prevClose float64
	havePrev := false

	for i := range bars {
		if bars[i].Symbol != prevSymbol {
			havePrev = false
			prevSymbol = bars[i].Symbol
		}

		if havePrev {
			bars[i].PCls = prevClose
			if prevClose > 0 {
				bars[i].Ret = bars[i].Close/prevClose - 1
			}
		}

		prevClose = bars[i].Close
		havePrev = true
	}
}
