package bar

import (
	"math"
	"sort"
	"time"

	"github.com/cs7649/surgefactor/internal/tickload"
	"github.com/cs7649/surgefactor/internal/timepolicy"
)

// BuildFromSnaps implements OPS2: snapshot-based cumulative-diff
// aggregation. Snapshot turnover/qty are running cumulatives, so they need
// per-symbol differencing into bar increments before folding into bars.
func BuildFromSnaps(rows []tickload.Row, freq timepolicy.Freq) []Bar {
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

	type increment struct {
		row          tickload.Row
		turnoverIncr float64
		qtyIncr      float64
		intraHigh    float64
		intraLow     float64
	}

	// Steps 2-3: per-symbol diff of turnover/qty, and intra-snap high/low.
	incs := make([]increment, 0, len(sorted))

	var prevSymbol string
	havePrev := false
	var prevTurnover, prevQty, prevHigh, prevLow float64

	for _, r := range sorted {
		turnover := r.Fields["turnover"]
		qty := r.Fields["qty"]
		last := r.Fields["last"]
		high := r.Fields["high"]
		low := r.Fields["low"]

		if r.Symbol != prevSymbol {
			havePrev = false
			prevSymbol = r.Symbol
		}

		var turnoverIncr, qtyIncr, intraHigh, intraLow float64

		if !havePrev {
			turnoverIncr = turnover
			qtyIncr = qty
			intraHigh = high
			intraLow = low
		} else {
			turnoverIncr = turnover - prevTurnover
			qtyIncr = qty - prevQty

			if high > prevHigh {
				intraHigh = high
			} else {
				intraHigh = last
			}
			if low < prevLow {
				intraLow = low
			} else {
				intraLow = last
			}
		}

		incs = append(incs, increment{
			row:          r,
			turnoverIncr: turnoverIncr,
			qtyIncr:      qtyIncr,
			intraHigh:    intraHigh,
			intraLow:     intraLow,
		})

		prevTurnover, prevQty, prevHigh, prevLow = turnover, qty, high, low
		havePrev = true
	}

	// Step 4: group by (symbol, date, bar_time) and aggregate.
	type key struct {
		symbol  string
		date    string
		barTime time.Time
	}

	type accum struct {
		amt       float64
		vol       float64
		close     float64
		high      float64
		low       float64
		firstLast float64
		pclsOrig  float64
		started   bool
	}

	var order []key
	groups := map[key]*accum{}

	for _, inc := range incs {
		barTime := timepolicy.TruncateToBarTime(inc.row.XTS, freq)
		if !timepolicy.IsValidBarTime(freq, barTime) {
			continue
		}

		k := key{inc.row.Symbol, inc.row.Date, barTime}
		a, ok := groups[k]
		if !ok {
			a = &accum{}
			groups[k] = a
			order = append(order, k)
		}

		last := inc.row.Fields["last"]
		pcls := inc.row.Fields["pcls"]

		a.amt += inc.turnoverIncr
		a.vol += inc.qtyIncr
		a.close = last

		if !a.started {
			a.high = inc.intraHigh
			a.low = inc.intraLow
			a.firstLast = last
			a.pclsOrig = pcls
			a.started = true
		} else {
			if inc.intraHigh > a.high {
				a.high = inc.intraHigh
			}
			if inc.intraLow < a.low {
				a.low = inc.intraLow
			}
		}
	}

	bars := make([]Bar, 0, len(order))
	for _, k := range order {
		a := groups[k]
		bars = append(bars, Bar{
			Symbol:  k.symbol,
			Date:    k.date,
			BarTime: k.barTime,
			Amt:     a.amt,
			Vol:     a.vol,
			Close:   a.close,
			High:    a.high,
			Low:     a.low,
			Open:    a.firstLast, // fixed up below, per symbol, to close_{i-1}
			PCls:    a.pclsOrig,  // fixed up below, per symbol, to close_{i-1}
			VWAP:    math.NaN(),
			Ret:     math.NaN(),
		})
	}

	assignSnapOpenPClsAndReturn(bars)
	return bars
}

// assignSnapOpenPClsAndReturn implements §4.C step 5: per symbol, ordered by
// bar_time, open_i and pcls_i both fall back to the prior bar's close; the
// first bar of each symbol keeps its own first-observed last price and
// snapshot-carried pcls respectively. VWAP and Ret are derived the same way
// as the trade-based path.
func assignSnapOpenPClsAndReturn(bars []Bar) {
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
			bars[i].Open = prevClose
			bars[i].PCls = prevClose
		}
		// else: Open stays at the first-observed last price and PCls stays
		// at the snapshot-carried pcls, both already set by the caller.

		if bars[i].PCls > 0 {
			bars[i].Ret = bars[i].Close/bars[i].PCls - 1
		} else {
			bars[i].Ret = math.NaN()
		}

		if bars[i].Vol > 0 {
			bars[i].VWAP = bars[i].Amt / bars[i].Vol
		}

		prevClose = bars[i].Close
		havePrev = true
	}
}
