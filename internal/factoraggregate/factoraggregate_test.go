package factoraggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cs7649/surgefactor/internal/bar"
	"github.com/cs7649/surgefactor/internal/surge"
)

func at(hms string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05.000", "2024-01-05 "+hms)
	if err != nil {
		panic(err)
	}
	return t
}

func surgeBar(symbol, date, hms string, barRet float64, isSurge bool) surge.Bar {
	return surge.Bar{
		Bar:     bar.Bar{Symbol: symbol, Date: date, BarTime: at(hms)},
		BarRet:  barRet,
		IsSurge: isSurge,
	}
}

func TestAggregateSurgeRetEOD(t *testing.T) {
	bars := []surge.Bar{
		surgeBar("600519.SH", "20240105", "09:35:00.000", 0.01, false),
		surgeBar("600519.SH", "20240105", "09:45:00.000", 0.05, true),
		surgeBar("600519.SH", "20240105", "09:55:00.000", 0.03, true),
	}

	rows := AggregateSurgeRet(bars, "EOD", StatMean)
	require.Len(t, rows, 1)

	want := (0.05 + 0.03) / 2
	require.InDelta(t, want, rows[0].Value, 1e-9)
	require.Equal(t, "15:00:00.000", rows[0].BarTime.Format("15:04:05.000"))
}

// S6: 1m bars identify surges at 10:37 and 10:38 with bar_ret 0.01 and
// 0.02; both project to M10 bucket 10:40, mean => 0.015.
func TestAggregateSurgeRetM10ProjectsAfterFilter(t *testing.T) {
	bars := []surge.Bar{
		surgeBar("600519.SH", "20240105", "10:37:00.000", 0.01, true),
		surgeBar("600519.SH", "20240105", "10:38:00.000", 0.02, true),
		surgeBar("600519.SH", "20240105", "10:39:00.000", 99.0, false), // not surge: must not dilute
	}

	rows := AggregateSurgeRet(bars, "M10", StatMean)
	require.Len(t, rows, 1)
	require.Equal(t, "10:40:00.000", rows[0].BarTime.Format("15:04:05.000"))

	want := (0.01 + 0.02) / 2
	require.InDelta(t, want, rows[0].Value, 1e-9)
}

func TestAggregateSurgeVolReducesOverSurgeStarts(t *testing.T) {
	bars := []surge.Bar{
		{Bar: bar.Bar{Symbol: "600519.SH", Date: "20240105", BarTime: at("09:31:00.000")}, BarRet: 0.01, IsSurge: true},
		{Bar: bar.Bar{Symbol: "600519.SH", Date: "20240105", BarTime: at("09:32:00.000")}, BarRet: 0.02, IsSurge: false},
		{Bar: bar.Bar{Symbol: "600519.SH", Date: "20240105", BarTime: at("09:33:00.000")}, BarRet: 0.03, IsSurge: true},
	}

	rows := AggregateSurgeVol(bars, 2, StatMean, func(b surge.Bar) float64 { return b.BarRet })
	require.Len(t, rows, 1)
	require.Equal(t, "15:00:00.000", rows[0].BarTime.Format("15:04:05.000"))
}

func TestFactorNameEOD(t *testing.T) {
	name := FactorName(NameParams{
		Kind: "ret", BarFreq: "5m", OutputFreq: "EOD",
		TradingTime: "all_day", Threshold: 1.0, Stat: StatMean,
	})
	require.Equal(t, "surge_ret_5m_eod_all_day_t1_mean", name)
}

func TestFactorNameM10Rolling(t *testing.T) {
	name := FactorName(NameParams{
		Kind: "ret", BarFreq: "1m", OutputFreq: "M10",
		M10Method: "rolling", LookbackBars: 48, Threshold: 3.0, Stat: StatMax,
	})
	require.Equal(t, "surge_ret_1m_m10_rolling_k48_t3_max", name)
}

func TestFactorNameSurgeVolAppendsWindowAndPriceType(t *testing.T) {
	name := FactorName(NameParams{
		Kind: "vol", BarFreq: "5m", OutputFreq: "EOD",
		TradingTime: "all_day", Threshold: 1.5, Stat: StatMean,
		SurgeWindow: 10, PriceType: "close",
	})
	require.Equal(t, "surge_vol_5m_eod_all_day_t1.5_mean_w10_close", name)
}

func TestClassify(t *testing.T) {
	eodName := FactorName(NameParams{
		Kind: "ret", BarFreq: "5m", OutputFreq: "EOD",
		TradingTime: "all_day", Threshold: 1.0, Stat: StatMean,
	})
	sameTimeName := FactorName(NameParams{
		Kind: "ret", BarFreq: "1m", OutputFreq: "M10",
		M10Method: "same_time", LookbackDays: 5, Threshold: 1.0, Stat: StatMean,
	})
	rollingName := FactorName(NameParams{
		Kind: "ret", BarFreq: "1m", OutputFreq: "M10",
		M10Method: "rolling", LookbackBars: 48, Threshold: 3.0, Stat: StatMax,
	})

	cases := map[string]Namespace{
		eodName:                     NamespaceEOD,
		sameTimeName:                NamespaceM10SameTime,
		rollingName:                 NamespaceM10Rolling,
		"totally_unrecognized_name": NamespaceM10SameTime,
	}
	for name, want := range cases {
		require.Equalf(t, want, Classify(name), "Classify(%q)", name)
	}
}

func TestNeutralizeSubtractsCrossSectionalMean(t *testing.T) {
	rows := []Row{
		{Symbol: "A", Date: "20240105", BarTime: at("15:00:00.000"), Value: 1.0},
		{Symbol: "B", Date: "20240105", BarTime: at("15:00:00.000"), Value: 3.0},
	}
	out := Neutralize(rows, "EOD")
	require.Equal(t, -1.0, out[0].Value)
	require.Equal(t, 1.0, out[1].Value)
}

func TestAbsValue(t *testing.T) {
	rows := []Row{{Symbol: "A", Date: "20240105", Value: -2.5}}
	out := AbsValue(rows)
	require.Equal(t, 2.5, out[0].Value)
}
