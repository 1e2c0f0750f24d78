// Package tickload implements the tick loader (§4.B): scan per-date,
// per-exchange tick tables, filter trading hours, remap special-session
// ticks, and attach the exchange-suffixed symbol.
package tickload

import (
	"context"
	"fmt"
	"time"

	"github.com/cs7649/surgefactor/internal/store"
	"github.com/cs7649/surgefactor/internal/tick"
	"github.com/cs7649/surgefactor/internal/timepolicy"
)

// exchanges is the fixed pair of China A-share exchanges every load fans out
// across (§4.B step 1).
var exchanges = []string{string(tick.ExchangeSH), string(tick.ExchangeSZ)}

// Row is one post-processed tick row: symbol-decorated, time-adjusted, and
// filtered to trading hours. Fields/Flag/Ty/Ch/OrderNo/AN/BN carry the
// kind-specific payload through unchanged from the store.
type Row struct {
	Symbol  string
	Date    string
	XTS     time.Time
	Fields  map[string]float64
	Flag    int
	Ty      int
	Ch      string
	OrderNo string
	AN      string
	BN      string
}

// The morning/afternoon window bounds are the generous bounds of §4.B step 3: the right
// bounds are wide enough to preserve late ticks belonging to the 11:30 and
// 15:00 bars.
var (
	morningWindowStart   = mustParseTOD("09:15:00.000")
	morningWindowEnd     = mustParseTOD("11:32:00.000")
	afternoonWindowStart = mustParseTOD("13:00:00.000")
	afternoonWindowEnd   = mustParseTOD("15:15:00.000")
)

func mustParseTOD(s string) time.Time {
	t, err := time.Parse("15:04:05.000", s)
	if err != nil {
		panic(err)
	}
	return t
}

func timeOfDay(t time.Time) time.Time {
	return mustParseTOD(t.Format("15:04:05.000"))
}

func inTradingHours(xts time.Time) bool {
	tod := timeOfDay(xts)
	inMorning := !tod.Before(morningWindowStart) && !tod.After(morningWindowEnd)
	inAfternoon := !tod.Before(afternoonWindowStart) && !tod.After(afternoonWindowEnd)
	return inMorning || inAfternoon
}

// Load implements the §4.B algorithm for one tick kind. kind is one of
// "trade", "quote", "snap". Missing (date, exchange) partitions are
// collected and returned alongside the rows rather than failing outright,
// so the caller can apply the MissingInput policy (§7): if ANY requested
// partition for the required table is missing, the caller must skip the
// whole settlement-day task rather than emit partial results.
func Load(ctx context.Context, ts store.TickStore, kind string, dates []string, cols []string) ([]Row, []store.MissingPartition, error) {
	frame, err := ts.Load(ctx, kind, dates, exchanges, cols)
	if err != nil {
		return nil, nil, fmt.Errorf("tickload: loading %s: %w", kind, err)
	}

	var out []Row
	for _, r := range frame.Rows {
		if !inTradingHours(r.XTS) {
			continue
		}

		symbol, ok := tick.DecorateSymbol(r.InstID)
		if !ok {
			continue
		}

		out = append(out, Row{
			Symbol:  symbol,
			Date:    r.Date,
			XTS:     timepolicy.AdjustSpecialTime(r.XTS),
			Fields:  r.Fields,
			Flag:    r.Flag,
			Ty:      r.Ty,
			Ch:      r.Ch,
			OrderNo: r.OrderNo,
			AN:      r.AN,
			BN:      r.BN,
		})
	}

	return out, frame.MissingFiles, nil
}
