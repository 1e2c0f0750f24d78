package factorengine

import (
	"fmt"
	"math"

	"github.com/cs7649/surgefactor/internal/bar"
	"github.com/cs7649/surgefactor/internal/calendar"
	"github.com/cs7649/surgefactor/internal/factoraggregate"
	"github.com/cs7649/surgefactor/internal/surge"
)

// runConfig runs the detector appropriate to cfg against bars, then
// reduces the annotated frame with the appropriate aggregator (§4.D,
// §4.E). targetDates restricts the M10 same-time scheme's outer loop; for
// every other scheme the full bar frame is detected and later filtered by
// the caller.
func runConfig(cfg Config, bars []bar.Bar, cal calendar.Service, targetDates []string) ([]factoraggregate.Row, error) {
	var annotated []surge.Bar
	var err error

	switch {
	case cfg.OutputFreq == "EOD":
		annotated = surge.DetectEOD(bars, cfg.TradingTime, cfg.Threshold)
	case cfg.M10Method == "same_time":
		annotated, err = surge.DetectM10SameTime(bars, cal, targetDates, cfg.LookbackDays, cfg.Threshold)
		if err != nil {
			return nil, fmt.Errorf("detecting m10 same-time surges: %w", err)
		}
	case cfg.M10Method == "rolling":
		annotated = surge.DetectM10Rolling(bars, cfg.LookbackBars, cfg.Threshold)
	default:
		return nil, fmt.Errorf("unreachable: config %q has output_freq %q m10_method %q", cfg.Name, cfg.OutputFreq, cfg.M10Method)
	}

	switch cfg.FactorType {
	case "surge_ret":
		return factoraggregate.AggregateSurgeRet(annotated, cfg.OutputFreq, cfg.IntradayStat), nil
	case "surge_vol":
		return factoraggregate.AggregateSurgeVol(annotated, cfg.SurgeWindow, cfg.IntradayStat, valueColumn(cfg.PriceType)), nil
	default:
		return nil, fmt.Errorf("unknown factor type %q for config %q", cfg.FactorType, cfg.Name)
	}
}

// valueColumn resolves surge_vol's configurable price column (§4.E step
// 2): bar_ret by default, or one of the raw OHLC columns.
func valueColumn(priceType string) func(surge.Bar) float64 {
	switch priceType {
	case "", "bar_ret":
		return func(b surge.Bar) float64 { return b.BarRet }
	case "open":
		return func(b surge.Bar) float64 { return b.Open }
	case "close":
		return func(b surge.Bar) float64 { return b.Close }
	case "high":
		return func(b surge.Bar) float64 { return b.High }
	case "low":
		return func(b surge.Bar) float64 { return b.Low }
	default:
		return func(surge.Bar) float64 { return math.NaN() }
	}
}
