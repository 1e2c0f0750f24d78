package factorengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cs7649/surgefactor/internal/calendar"
	"github.com/cs7649/surgefactor/internal/factoraggregate"
	"github.com/cs7649/surgefactor/internal/store"
	"github.com/cs7649/surgefactor/internal/timepolicy"
)

func at(date, hms string) time.Time {
	t, err := time.Parse("20060102 15:04:05.000", date+" "+hms)
	if err != nil {
		panic(err)
	}
	return t
}

// fakeTickStore serves ticks from an in-memory fixture keyed by kind and
// date, reporting no missing partitions for any requested date/exchange
// pair. rowsByDate is used when the requested kind has no dedicated
// rowsByKindDate fixture, so existing trade-only tests keep working.
type fakeTickStore struct {
	rowsByDate     map[string][]store.TickRow
	rowsByKindDate map[string]map[string][]store.TickRow
}

func (f *fakeTickStore) Load(_ context.Context, kind string, dates []string, exchanges []string, _ []string) (*store.TickFrame, error) {
	frame := &store.TickFrame{}
	byDate, ok := f.rowsByKindDate[kind]
	if !ok {
		byDate = f.rowsByDate
	}
	for _, d := range dates {
		frame.Rows = append(frame.Rows, byDate[d]...)
	}
	return frame, nil
}

func tradeTick(date, hms, instID string, px, qty, amt float64) store.TickRow {
	return store.TickRow{
		InstID: instID,
		XTS:    at(date, hms),
		Date:   date,
		Fields: map[string]float64{"px": px, "qty": qty, "amt": amt},
		Flag:   70,
	}
}

func snapTick(date, hms, instID string, last, high, low, turnover, qty, pcls float64) store.TickRow {
	return store.TickRow{
		InstID: instID,
		XTS:    at(date, hms),
		Date:   date,
		Fields: map[string]float64{
			"last": last, "high": high, "low": low,
			"turnover": turnover, "qty": qty, "pcls": pcls,
		},
	}
}

func TestConfigValidateRejectsSurgeVolOnM10(t *testing.T) {
	cfg := Config{Name: "bad", FactorType: "surge_vol", OutputFreq: "M10"}
	require.Error(t, cfg.Validate())
}

func TestMaxLookbackDaysEODIsZero(t *testing.T) {
	cfg := Config{OutputFreq: "EOD"}
	require.Equal(t, 0, cfg.maxLookbackDays())
}

func TestMaxLookbackDaysRolling(t *testing.T) {
	cfg := Config{OutputFreq: "M10", M10Method: "rolling", BarFreq: timepolicy.Freq10m, LookbackBars: 50}
	// ceil(50/24) + 1 = 3 + 1 = 4.
	require.Equal(t, 4, cfg.maxLookbackDays())
}

func TestEngineRunFiltersToSettlementDateAndIsolatesFailures(t *testing.T) {
	dates := []string{"20240102", "20240103", "20240104", "20240105"}
	cal := calendar.NewStaticService(dates)

	ts := &fakeTickStore{rowsByDate: map[string][]store.TickRow{
		"20240104": {
			tradeTick("20240104", "09:35:00.000", "600519", 10, 100, 1000),
			tradeTick("20240104", "09:45:00.000", "600519", 10, 100, 1000),
		},
		"20240105": {
			tradeTick("20240105", "09:35:00.000", "600519", 10, 10, 100),
			tradeTick("20240105", "09:45:00.000", "600519", 50, 1000, 50000),
		},
	}}

	engine := &Engine{
		TickStore: ts,
		Calendar:  cal,
		NWorkers:  2,
		Configs: []Config{
			{
				Name: "eod_ret", BarSource: "trade", BarFreq: timepolicy.Freq5m,
				OutputFreq: "EOD", FactorType: "surge_ret",
				TradingTime: "all_day", Threshold: 0.5, IntradayStat: factoraggregate.StatMean,
			},
		},
	}

	// 20240108 is not in the calendar, so its task fails; the run must still
	// succeed and keep the other dates' rows.
	results, err := engine.Run(context.Background(), []string{"20240104", "20240105", "20240108"})
	require.NoError(t, err)

	rows, ok := results["surge_ret_5m_eod_all_day_t0.5_mean"]
	require.True(t, ok, "missing factor rows in results: %v", mapKeys(results))
	require.NotEmpty(t, rows, "a failing sibling date must not drop the other dates' rows")
	for _, r := range rows {
		require.Containsf(t, []string{"20240104", "20240105"}, r.Date, "unexpected leaked history row")
	}
}

func TestEngineRunBuildsSnapBarsForSnapBarSource(t *testing.T) {
	dates := []string{"20240105"}
	cal := calendar.NewStaticService(dates)

	ts := &fakeTickStore{
		rowsByKindDate: map[string]map[string][]store.TickRow{
			"snap": {
				"20240105": {
					snapTick("20240105", "09:35:00.000", "600519", 10, 10, 10, 100, 100, 10),
					snapTick("20240105", "09:45:00.000", "600519", 11, 11, 10, 1100, 200, 10),
				},
			},
		},
	}

	engine := &Engine{
		TickStore: ts,
		Calendar:  cal,
		NWorkers:  1,
		Configs: []Config{
			{
				Name: "eod_ret_snap", BarSource: "snap", BarFreq: timepolicy.Freq5m,
				OutputFreq: "EOD", FactorType: "surge_ret",
				TradingTime: "all_day", Threshold: 0.1, IntradayStat: factoraggregate.StatMean,
			},
		},
	}

	results, err := engine.Run(context.Background(), dates)
	require.NoError(t, err)
	require.Contains(t, results, "surge_ret_5m_eod_all_day_t0.1_mean")
}

func mapKeys(m map[string][]factoraggregate.Row) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
