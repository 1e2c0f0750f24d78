// Package tick defines the raw tick data model (§3 DATA MODEL): the three
// input kinds (trade, quote, snapshot) sharing a common envelope, and the
// symbol-decoration rules used by the loader.
package tick

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the three tick variants.
type Kind string

const (
	KindTrade Kind = "trade"
	KindQuote Kind = "quote"
	KindSnap  Kind = "snap"
)

// Exchange is one of the two China A-share exchanges a per-date tick file is
// partitioned by.
type Exchange string

const (
	ExchangeSH Exchange = "SH"
	ExchangeSZ Exchange = "SZ"
)

// Envelope carries the fields common to all tick kinds.
type Envelope struct {
	InstID string    // raw exchange instrument id, not yet symbol-decorated
	Symbol string    // exchange-suffixed symbol as DecorateSymbol returns it; empty until a caller sets it
	XTS    time.Time // tick timestamp, millisecond precision
	Date   string    // YYYYMMDD, inferred from the source file path
}

// Trade is a single executed trade tick.
type Trade struct {
	Envelope
	Px   float64
	Qty  float64
	Amt  float64
	Flag int // 52 = cancel, 70 = fill
	AN   string // SZ-only: linked "ask" order number, present on cancel rows
	BN   string // SZ-only: linked "bid" order number, present on cancel rows
}

// Quote is a single order/cancel quote tick.
type Quote struct {
	Envelope
	Ty      int
	Ch      string
	OrderNo string
	Qty     float64
	AN      string // SZ-only: trade-side linked "ask" order number
	BN      string // SZ-only: trade-side linked "bid" order number
}

// Snap is a single market snapshot tick with cumulative daily fields.
type Snap struct {
	Envelope
	Last     float64
	High     float64
	Low      float64
	Turnover float64
	Qty      float64
	PCls     float64
}

// DecorateSymbol zero-pads instID to 6 characters and appends the
// exchange-suffix inferred from its numeric prefix (§3 Symbol). It returns
// ("", false) if instID does not match any recognized prefix.
func DecorateSymbol(instID string) (string, bool) {
	padded := instID
	if len(padded) < 6 {
		padded = strings.Repeat("0", 6-len(padded)) + padded
	}

	switch {
	case strings.HasPrefix(padded, "60"), strings.HasPrefix(padded, "68"):
		return padded + ".SH", true
	case strings.HasPrefix(padded, "00"), strings.HasPrefix(padded, "30"):
		return padded + ".SZ", true
	case strings.HasPrefix(padded, "8"), strings.HasPrefix(padded, "43"), strings.HasPrefix(padded, "87"):
		return padded + ".BJ", true
	default:
		return "", false
	}
}

// CancelEvent is a supplemental, read-only analytical record pairing a
// cancel quote/trade tick with the order it cancels, used to compute order
// lifetimes. It is not part of the core bar/factor pipeline (see
// SPEC_FULL.md §5.3).
type CancelEvent struct {
	InstID    string
	Ch        string
	OrderNo   string
	XTSNew    time.Time
	XTSCancel time.Time
	Qty       float64
	LifeUS    int64 // microseconds from order to cancel, noon break excluded
}

// PairCancels joins cancel ticks against the order ticks they cancel and
// computes each pair's lifetime in microseconds, excluding the noon-break
// gap from the elapsed time the way high_freq_cancel_M10.py does. For SH,
// cancels are quotes with Ty == 68; for SZ, cancels are trades with
// Flag == 52 whose order number is max(an, bn) on the linked quote stream.
func PairCancels(exchange Exchange, quotes []Quote, trades []Trade) ([]CancelEvent, error) {
	switch exchange {
	case ExchangeSH:
		return pairCancelsSH(quotes)
	case ExchangeSZ:
		return pairCancelsSZ(quotes, trades)
	default:
		return nil, fmt.Errorf("tick: unknown exchange %q", exchange)
	}
}

func pairCancelsSH(quotes []Quote) ([]CancelEvent, error) {
	orders := make(map[orderKey]time.Time)
	for _, q := range quotes {
		if q.Ty == 68 {
			continue
		}
		orders[orderKey{q.InstID, q.Ch, q.OrderNo}] = q.XTS
	}

	var out []CancelEvent
	for _, q := range quotes {
		if q.Ty != 68 {
			continue
		}
		k := orderKey{q.InstID, q.Ch, q.OrderNo}
		xtsNew, ok := orders[k]
		if !ok {
			continue
		}
		out = append(out, CancelEvent{
			InstID:    q.InstID,
			Ch:        q.Ch,
			OrderNo:   q.OrderNo,
			XTSNew:    xtsNew,
			XTSCancel: q.XTS,
			Qty:       q.Qty,
			LifeUS:    lifeMicros(xtsNew, q.XTS),
		})
	}
	return out, nil
}

func pairCancelsSZ(quotes []Quote, trades []Trade) ([]CancelEvent, error) {
	orders := make(map[orderKey]time.Time)
	for _, q := range quotes {
		orders[orderKey{q.InstID, "", q.OrderNo}] = q.XTS
	}

	var out []CancelEvent
	for _, t := range trades {
		if t.Flag != 52 {
			continue
		}
		orderNo := t.AN
		if t.BN > orderNo {
			orderNo = t.BN
		}
		k := orderKey{t.InstID, "", orderNo}
		xtsNew, ok := orders[k]
		if !ok {
			continue
		}
		out = append(out, CancelEvent{
			InstID:    t.InstID,
			OrderNo:   orderNo,
			XTSNew:    xtsNew,
			XTSCancel: t.XTS,
			Qty:       t.Qty,
			LifeUS:    lifeMicros(xtsNew, t.XTS),
		})
	}
	return out, nil
}

type orderKey struct {
	instID  string
	ch      string
	orderNo string
}

const noonBreakMicros = 5_400_000_000 // 11:30 -> 13:00, in microseconds

func lifeMicros(xtsNew, xtsCancel time.Time) int64 {
	life := xtsCancel.Sub(xtsNew).Microseconds()
	newTOD := xtsNew.Format("15:04:05.000")
	cancelTOD := xtsCancel.Format("15:04:05.000")
	if newTOD < "11:30:00.000" && cancelTOD >= "13:00:00.000" {
		life -= noonBreakMicros
	}
	return life
}
