// Package factorengine orchestrates the surge-factor pipeline (§4.F): it
// runs a list of factor configurations over a list of settlement dates,
// sharing one bar-data cache per settlement day across configs that need
// the same bar frequency, and isolating per-date failures from each other.
package factorengine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cs7649/surgefactor/internal/bar"
	"github.com/cs7649/surgefactor/internal/calendar"
	"github.com/cs7649/surgefactor/internal/factoraggregate"
	"github.com/cs7649/surgefactor/internal/store"
	"github.com/cs7649/surgefactor/internal/tickload"
	"github.com/cs7649/surgefactor/internal/timepolicy"
)

// Config is one factor configuration (§4.F, §9 "Configuration"). Not every
// field applies to every FactorType/OutputFreq/M10Method combination; see
// Validate.
type Config struct {
	Name string // used only for logging; the canonical name comes from factoraggregate.FactorName

	BarSource   string // "trade" (OPS1) or "snap" (OPS2)
	BarFreq     timepolicy.Freq
	OutputFreq  string // "EOD" or "M10"
	FactorType  string // "surge_ret" or "surge_vol"
	TradingTime string // EOD detector slice; also EOD aggregation name component
	Threshold   float64

	M10Method    string // "same_time" or "rolling"
	LookbackDays int    // H, same_time only
	LookbackBars int    // k, rolling only

	SurgeWindow  int // surge_vol only
	IntradayStat factoraggregate.Stat
	PriceType    string // surge_vol value column; "" means bar_ret

	Neutralize bool
	AbsValue   bool
}

// Validate rejects configuration combinations the spec calls out as
// invalid (§9 "Configuration"): surge_vol is EOD-only.
func (c Config) Validate() error {
	if c.FactorType == "surge_vol" && c.OutputFreq != "EOD" {
		return fmt.Errorf("factorengine: config %q: surge_vol only supports EOD output, got %q", c.Name, c.OutputFreq)
	}
	if c.OutputFreq == "M10" && c.M10Method != "same_time" && c.M10Method != "rolling" {
		return fmt.Errorf("factorengine: config %q: M10 output requires m10_method same_time or rolling, got %q", c.Name, c.M10Method)
	}
	if c.BarSource != "" && c.BarSource != "trade" && c.BarSource != "snap" {
		return fmt.Errorf("factorengine: config %q: bar_source must be trade or snap, got %q", c.Name, c.BarSource)
	}
	return nil
}

// maxLookbackDays implements §4.F's lookback analysis: 0 for EOD, H for
// M10 same-time, ceil(k / bars_per_day(barfreq)) + 1 for M10 rolling.
func (c Config) maxLookbackDays() int {
	switch {
	case c.OutputFreq == "EOD":
		return 0
	case c.M10Method == "same_time":
		return c.LookbackDays
	case c.M10Method == "rolling":
		perDay := timepolicy.BarsPerDay(c.BarFreq)
		return (c.LookbackBars+perDay-1)/perDay + 1
	default:
		return 0
	}
}

func (c Config) factorName() string {
	kind := "ret"
	if c.FactorType == "surge_vol" {
		kind = "vol"
	}
	return factoraggregate.FactorName(factoraggregate.NameParams{
		Kind:         kind,
		BarFreq:      string(c.BarFreq),
		OutputFreq:   c.OutputFreq,
		TradingTime:  c.TradingTime,
		M10Method:    c.M10Method,
		LookbackDays: c.LookbackDays,
		LookbackBars: c.LookbackBars,
		Threshold:    c.Threshold,
		Stat:         c.IntradayStat,
		SurgeWindow:  c.SurgeWindow,
		PriceType:    c.PriceType,
	})
}

// Engine runs a fixed list of configs against a tick store and calendar
// service, fanning settlement-day tasks out across a bounded worker pool.
type Engine struct {
	TickStore store.TickStore
	Calendar  calendar.Service
	Configs   []Config
	NWorkers  int
	Logger    *slog.Logger
}

// Run executes every configured factor over every settlement date (§4.F).
// One date's failure is logged and excluded from the merged result rather
// than aborting the run — sibling dates still complete.
func (e *Engine) Run(ctx context.Context, dates []string) (map[string][]factoraggregate.Row, error) {
	for _, cfg := range e.Configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxLookback := 0
	for _, cfg := range e.Configs {
		if l := cfg.maxLookbackDays(); l > maxLookback {
			maxLookback = l
		}
	}

	freqsNeeded := map[barCacheKey]bool{}
	for _, cfg := range e.Configs {
		freqsNeeded[barCacheKey{cfg.BarSource, cfg.BarFreq}] = true
	}

	var mu sync.Mutex
	results := map[string][]factoraggregate.Row{}

	g, gctx := errgroup.WithContext(ctx)
	if e.NWorkers > 0 {
		g.SetLimit(e.NWorkers)
	}

	for _, date := range dates {
		date := date
		g.Go(func() error {
			taskID := uuid.NewString()
			taskLog := logger.With("task_id", taskID, "settlement_date", date)

			rows, err := e.runSettlementDay(gctx, taskLog, date, maxLookback, freqsNeeded)
			if err != nil {
				taskLog.Error("settlement day task failed, skipping", "error", err)
				return nil // per §4.F: one date's failure must not abort siblings
			}

			mu.Lock()
			for name, rs := range rows {
				results[name] = append(results[name], rs...)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for name, rows := range results {
		results[name] = sortRows(rows)
	}
	return results, nil
}

// barCacheKey shares one bar build across every config that needs the same
// source (OPS1 trade vs. OPS2 snap) at the same frequency.
type barCacheKey struct {
	source string
	freq   timepolicy.Freq
}

func (e *Engine) runSettlementDay(ctx context.Context, log *slog.Logger, settlementDate string, maxLookback int, freqsNeeded map[barCacheKey]bool) (map[string][]factoraggregate.Row, error) {
	loDate, err := e.Calendar.PrevBizDay(settlementDate, maxLookback)
	if err != nil {
		return nil, fmt.Errorf("resolving lookback start: %w", err)
	}
	dateRange, err := e.Calendar.BizDaysInRange(loDate, settlementDate)
	if err != nil {
		return nil, fmt.Errorf("enumerating date range: %w", err)
	}

	barCache := map[barCacheKey][]bar.Bar{}

	for k := range freqsNeeded {
		bars, err := e.buildBars(ctx, dateRange, k.source, k.freq)
		if err != nil {
			return nil, fmt.Errorf("building bars for source %s freq %s: %w", k.source, k.freq, err)
		}
		barCache[k] = bars
	}

	log.Debug("settlement day bars ready", "date_range_len", len(dateRange))

	out := map[string][]factoraggregate.Row{}
	for _, cfg := range e.Configs {
		rows, err := runConfig(cfg, barCache[barCacheKey{cfg.BarSource, cfg.BarFreq}], e.Calendar, []string{settlementDate})
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", cfg.Name, err)
		}

		filtered := make([]factoraggregate.Row, 0, len(rows))
		for _, r := range rows {
			if r.Date == settlementDate {
				filtered = append(filtered, r)
			}
		}

		if cfg.Neutralize {
			filtered = factoraggregate.Neutralize(filtered, cfg.OutputFreq)
		}
		if cfg.AbsValue {
			filtered = factoraggregate.AbsValue(filtered)
		}

		out[cfg.factorName()] = filtered
	}

	return out, nil
}

// buildBars loads trade or snap ticks across dateRange and folds them into
// bars at freq, per §4.F step 2 (once per required (source, frequency) pair,
// shared across every config needing it). A missing required partition for
// any date in the range skips the whole build for this settlement day (§7
// MissingInput policy) by returning an error, which the caller treats as a
// task-level failure.
func (e *Engine) buildBars(ctx context.Context, dateRange []string, source string, freq timepolicy.Freq) ([]bar.Bar, error) {
	switch source {
	case "", "trade":
		cols := []string{"px", "qty", "amt"}
		rows, missing, err := tickload.Load(ctx, e.TickStore, "trade", dateRange, cols)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("missing %d tick partitions in required date range", len(missing))
		}
		return bar.BuildFromTrades(rows, freq), nil

	case "snap":
		cols := []string{"last", "high", "low", "turnover", "qty", "pcls"}
		rows, missing, err := tickload.Load(ctx, e.TickStore, "snap", dateRange, cols)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("missing %d tick partitions in required date range", len(missing))
		}
		return bar.BuildFromSnaps(rows, freq), nil

	default:
		return nil, fmt.Errorf("factorengine: unknown bar_source %q", source)
	}
}

func sortRows(rows []factoraggregate.Row) []factoraggregate.Row {
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
