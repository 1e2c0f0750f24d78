// Package factoraggregate implements the factor aggregator (§4.E):
// reducing surge-annotated bars into long-form factor rows, naming them
// deterministically, and classifying names into storage namespaces.
package factoraggregate

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cs7649/surgefactor/internal/surge"
	"github.com/cs7649/surgefactor/internal/timepolicy"
)

// Stat is the reduction statistic applied across a group of bar values.
type Stat string

const (
	StatMean Stat = "mean"
	StatMax  Stat = "max"
	StatMin  Stat = "min"
)

func reduce(stat Stat, xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	switch stat {
	case StatMax:
		m := xs[0]
		for _, x := range xs[1:] {
			if x > m {
				m = x
			}
		}
		return m
	case StatMin:
		m := xs[0]
		for _, x := range xs[1:] {
			if x < m {
				m = x
			}
		}
		return m
	default: // mean
		var sum float64
		for _, x := range xs {
			sum += x
		}
		return sum / float64(len(xs))
	}
}

// Row is one long-form factor observation: (symbol, date, bar_time,
// factor_value), named per FactorName (§3 Factor row).
type Row struct {
	Symbol string
	Date   string
	BarTime time.Time
	Value  float64
}

func endOfDayTime(date string) time.Time {
	d, err := time.Parse("20060102", date)
	if err != nil {
		// Dates are always caller-validated YYYYMMDD strings; a parse
		// failure here means the pipeline is feeding garbage upstream.
		panic(fmt.Sprintf("factoraggregate: invalid date %q: %v", date, err))
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 0, 0, 0, time.UTC)
}

// AggregateSurgeRet implements the surge_ret aggregation (§4.E). For EOD
// output it groups by (symbol, date); for M10 output it first filters to
// is_surge, then projects each row's bar_time through τ_M10 before
// grouping — the filter-then-project order is load-bearing (§4.E note).
func AggregateSurgeRet(bars []surge.Bar, outputFreq string, stat Stat) []Row {
	type key struct {
		symbol  string
		date    string
		barTime time.Time
	}

	groups := map[key][]float64{}
	var order []key

	for _, b := range bars {
		if !b.IsSurge || math.IsNaN(b.BarRet) {
			continue
		}

		var k key
		switch outputFreq {
		case "EOD":
			k = key{b.Symbol, b.Date, time.Time{}}
		case "M10":
			k = key{b.Symbol, b.Date, timepolicy.ProjectM10(b.BarTime)}
		default:
			panic(fmt.Sprintf("factoraggregate: unknown output freq %q", outputFreq))
		}

		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], b.BarRet)
	}

	rows := make([]Row, 0, len(order))
	for _, k := range order {
		barTime := k.barTime
		if outputFreq == "EOD" {
			barTime = endOfDayTime(k.date)
		}
		rows = append(rows, Row{
			Symbol:  k.symbol,
			Date:    k.date,
			BarTime: barTime,
			Value:   reduce(stat, groups[k]),
		})
	}
	return sortRows(rows)
}

// AggregateSurgeVol implements the surge_vol aggregation (§4.E), EOD-only:
// a rolling standard deviation of the chosen value column is computed over
// surge_window bars per (symbol, date), sampled at the surge-start bars,
// then reduced by stat into one value per (symbol, date).
func AggregateSurgeVol(bars []surge.Bar, surgeWindow int, stat Stat, valueOf func(surge.Bar) float64) []Row {
	sorted := append([]surge.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Symbol != sorted[j].Symbol {
			return sorted[i].Symbol < sorted[j].Symbol
		}
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date < sorted[j].Date
		}
		return sorted[i].BarTime.Before(sorted[j].BarTime)
	})

	type dayKey struct{ symbol, date string }
	groups := map[dayKey][]float64{}
	var order []dayKey

	var prevKey dayKey
	var window []float64

	for _, b := range sorted {
		k := dayKey{b.Symbol, b.Date}
		if k != prevKey {
			window = nil
			prevKey = k
		}

		v := valueOf(b)
		window = append(window, v)

		if b.IsSurge && len(window) >= surgeWindow {
			tail := window[len(window)-surgeWindow:]
			_, std := sampleStd(tail)
			if !math.IsNaN(std) {
				if _, ok := groups[k]; !ok {
					order = append(order, k)
				}
				groups[k] = append(groups[k], std)
			}
		}
	}

	rows := make([]Row, 0, len(order))
	for _, k := range order {
		rows = append(rows, Row{
			Symbol:  k.symbol,
			Date:    k.date,
			BarTime: endOfDayTime(k.date),
			Value:   reduce(stat, groups[k]),
		})
	}
	return sortRows(rows)
}

func sampleStd(xs []float64) (mean, std float64) {
	n := float64(len(xs))
	if n < 2 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / n
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / (n - 1))
}

func sortRows(rows []Row) []Row {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Symbol != rows[j].Symbol {
			return rows[i].Symbol < rows[j].Symbol
		}
		if rows[i].Date != rows[j].Date {
			return rows[i].Date < rows[j].Date
		}
		return rows[i].BarTime.Before(rows[j].BarTime)
	})
	return rows
}

// NameParams carries exactly the fields the deterministic factor name
// depends on (§4.E "Factor naming"), decoupled from the engine's full
// configuration so this package never imports factorengine.
type NameParams struct {
	Kind        string // "ret" or "vol"
	BarFreq     string // "1m", "5m", "10m"
	OutputFreq  string // "EOD" or "M10"
	TradingTime string // EOD only
	M10Method   string // "same_time" or "rolling", M10 only
	LookbackDays int   // H, same_time only
	LookbackBars int   // k, rolling only
	Threshold   float64
	Stat        Stat
	SurgeWindow int    // vol only
	PriceType   string // vol only, optional
}

// FactorName builds the deterministic factor name (§4.E): downstream
// routing (Classify) and storage paths depend on this format exactly.
func FactorName(p NameParams) string {
	var mode string
	switch p.OutputFreq {
	case "EOD":
		mode = p.TradingTime
	case "M10":
		switch p.M10Method {
		case "same_time":
			mode = fmt.Sprintf("sametime_d%d", p.LookbackDays)
		case "rolling":
			mode = fmt.Sprintf("rolling_k%d", p.LookbackBars)
		default:
			panic(fmt.Sprintf("factoraggregate: unknown m10 method %q", p.M10Method))
		}
	default:
		panic(fmt.Sprintf("factoraggregate: unknown output freq %q", p.OutputFreq))
	}

	name := fmt.Sprintf("surge_%s_%s_%s_%s_t%s_%s",
		p.Kind, p.BarFreq, strings.ToLower(p.OutputFreq), mode, formatThreshold(p.Threshold), p.Stat)

	if p.Kind == "vol" {
		name += fmt.Sprintf("_w%d", p.SurgeWindow)
		if p.PriceType != "" {
			name += "_" + p.PriceType
		}
	}
	return name
}

func formatThreshold(theta float64) string {
	return strings.TrimSuffix(strings.TrimRight(strconv.FormatFloat(theta, 'f', 2, 64), "0"), ".")
}

// Namespace is a storage routing destination for a factor name (§4.G).
type Namespace string

const (
	NamespaceEOD          Namespace = "EOD"
	NamespaceM10SameTime  Namespace = "M10/Same_Time"
	NamespaceM10Rolling   Namespace = "M10/Rolling"
)

// Classify routes a factor name to its storage namespace per §4.G:
// "_eod_" selects EOD, "sametime" selects M10/Same_Time, "rolling" selects
// M10/Rolling. Names matching none of these are routed to M10/Same_Time,
// matching legion_saver.py's fallback behavior rather than failing
// outright; emit.Emit logs a warning for them.
func Classify(name string) Namespace {
	switch {
	case strings.Contains(name, "_eod_"):
		return NamespaceEOD
	case strings.Contains(name, "sametime"):
		return NamespaceM10SameTime
	case strings.Contains(name, "rolling"):
		return NamespaceM10Rolling
	default:
		return NamespaceM10SameTime
	}
}

// Neutralize applies the optional cross-sectional neutralization
// supplement: within each group (date for EOD, (date, bar_time) for M10),
// subtract the cross-sectional mean of Value from every row's Value.
func Neutralize(rows []Row, outputFreq string) []Row {
	type key struct {
		date    string
		barTime time.Time
	}
	sums := map[key]float64{}
	counts := map[key]int{}

	keyOf := func(r Row) key {
		if outputFreq == "EOD" {
			return key{date: r.Date}
		}
		return key{date: r.Date, barTime: r.BarTime}
	}

	for _, r := range rows {
		k := keyOf(r)
		sums[k] += r.Value
		counts[k]++
	}

	out := make([]Row, len(rows))
	for i, r := range rows {
		k := keyOf(r)
		mean := sums[k] / float64(counts[k])
		out[i] = r
		out[i].Value = r.Value - mean
	}
	return out
}

// AbsValue applies the optional absolute-value transform supplement,
// always the last step when both are enabled.
func AbsValue(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
		out[i].Value = math.Abs(r.Value)
	}
	return out
}
