// Package surge implements the surge detector (§4.D): annotating bars with
// a volume baseline and a boolean is_surge flag, under one of three
// baseline schemes (EOD intraday, M10 same-time, M10 rolling).
package surge

import (
	"fmt"
	"math"
	"sort"

	"github.com/cs7649/surgefactor/internal/bar"
	"github.com/cs7649/surgefactor/internal/calendar"
	"github.com/cs7649/surgefactor/internal/timepolicy"
)

// Bar augments bar.Bar with the surge-detection outputs: BarRet is the
// intrabar return (close-open)/open (NaN when Open <= 0); VolMeanBaseline
// and VolStdBaseline are the baseline mean/std the bar was compared
// against; IsSurge is the coerced boolean decision.
type Bar struct {
	bar.Bar
	BarRet         float64
	VolMeanBaseline float64
	VolStdBaseline  float64
	IsSurge         bool
}

func barRet(b bar.Bar) float64 {
	if b.Open <= 0 {
		return math.NaN()
	}
	return (b.Close - b.Open) / b.Open
}

func meanStd(xs []float64) (mean, std float64) {
	n := float64(len(xs))
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / n
	if n < 2 {
		return mean, math.NaN()
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	std = math.Sqrt(ss / (n - 1))
	return mean, std
}

// decide applies the tie-break rule shared by all three schemes (§4.D): a
// null or zero sigma always yields false, never a propagated null.
func decide(vol, mean, std, theta float64) bool {
	if math.IsNaN(std) || std == 0 || math.IsNaN(mean) {
		return false
	}
	return vol > mean+theta*std
}

// DetectEOD implements the EOD scheme: the baseline is the mean/std of vol
// over all bars of the same (symbol, date) whose bar-time falls within the
// named intraday slice. Bars outside the slice are dropped from the output
// entirely — the detector first filters to the slice before computing
// baselines.
func DetectEOD(bars []bar.Bar, sliceName string, theta float64) []Bar {
	type key struct{ symbol, date string }

	filtered := make([]bar.Bar, 0, len(bars))
	for _, b := range bars {
		if timepolicy.SliceContains(sliceName, b.BarTime) {
			filtered = append(filtered, b)
		}
	}

	groups := map[key][]float64{}
	for _, b := range filtered {
		k := key{b.Symbol, b.Date}
		groups[k] = append(groups[k], b.Vol)
	}

	baselines := map[key][2]float64{}
	for k, vols := range groups {
		mean, std := meanStd(vols)
		baselines[k] = [2]float64{mean, std}
	}

	out := make([]Bar, 0, len(filtered))
	for _, b := range filtered {
		ms := baselines[key{b.Symbol, b.Date}]
		mean, std := ms[0], ms[1]
		out = append(out, Bar{
			Bar:             b,
			BarRet:          barRet(b),
			VolMeanBaseline: mean,
			VolStdBaseline:  std,
			IsSurge:         decide(b.Vol, mean, std, theta),
		})
	}
	return out
}

// DetectM10SameTime implements the M10 same-time scheme: for each target
// date D, the baseline for (symbol, time-of-day) is the mean/std of vol
// over the H business days preceding D, excluding D itself. Dates for
// which fewer than H priors can be assembled are skipped entirely — no
// output rows are emitted for them (InsufficientHistory, §7).
func DetectM10SameTime(bars []bar.Bar, cal calendar.Service, targetDates []string, lookbackDays int, theta float64) ([]Bar, error) {
	type timeKey struct {
		symbol string
		tod    string
	}
	type dayKey struct {
		symbol string
		date   string
	}

	byDay := map[dayKey][]bar.Bar{}
	for _, b := range bars {
		dk := dayKey{b.Symbol, b.Date}
		byDay[dk] = append(byDay[dk], b)
	}

	var out []Bar
	for _, target := range targetDates {
		prior, err := cal.PrevBizDay(target, lookbackDays)
		if err != nil {
			continue // the calendar cannot reach H days back: InsufficientHistory.
		}
		priorDays, err := cal.BizDaysInRange(prior, target)
		if err != nil {
			return nil, fmt.Errorf("surge: enumerating business days for %s: %w", target, err)
		}

		// priorDays spans [prior, target] inclusive; drop target itself.
		var lookbackWindow []string
		for _, d := range priorDays {
			if d != target {
				lookbackWindow = append(lookbackWindow, d)
			}
		}
		if len(lookbackWindow) < lookbackDays {
			continue // InsufficientHistory: skip this target date entirely.
		}

		baseline := map[timeKey][]float64{}
		for _, d := range lookbackWindow {
			for dk, bs := range byDay {
				if dk.date != d {
					continue
				}
				for _, b := range bs {
					tk := timeKey{dk.symbol, b.BarTime.Format("15:04:05.000")}
					baseline[tk] = append(baseline[tk], b.Vol)
				}
			}
		}

		for dk, bs := range byDay {
			if dk.date != target {
				continue
			}
			for _, b := range bs {
				tk := timeKey{dk.symbol, b.BarTime.Format("15:04:05.000")}
				mean, std := meanStd(baseline[tk])
				out = append(out, Bar{
					Bar:             b,
					BarRet:          barRet(b),
					VolMeanBaseline: mean,
					VolStdBaseline:  std,
					IsSurge:         decide(b.Vol, mean, std, theta),
				})
			}
		}
	}

	return out, nil
}

// DetectM10Rolling implements the rolling scheme: per symbol, the baseline
// for a bar is the mean/std of vol over the preceding k bars in (date,
// bar_time) order, shifted by one so the current bar never contributes to
// its own baseline. The first k bars of each symbol have no full window
// and are never surge.
func DetectM10Rolling(bars []bar.Bar, k int, theta float64) []Bar {
	sorted := append([]bar.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Symbol != sorted[j].Symbol {
			return sorted[i].Symbol < sorted[j].Symbol
		}
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date < sorted[j].Date
		}
		return sorted[i].BarTime.Before(sorted[j].BarTime)
	})

	out := make([]Bar, 0, len(sorted))

	var prevSymbol string
	var window []float64

	for _, b := range sorted {
		if b.Symbol != prevSymbol {
			window = nil
			prevSymbol = b.Symbol
		}

		var mean, std float64
		if len(window) < k {
			mean, std = math.NaN(), math.NaN()
		} else {
			mean, std = meanStd(window[len(window)-k:])
		}

		out = append(out, Bar{
			Bar:             b,
			BarRet:          barRet(b),
			VolMeanBaseline: mean,
			VolStdBaseline:  std,
			IsSurge:         decide(b.Vol, mean, std, theta),
		})

		window = append(window, b.Vol)
	}

	return out
}
