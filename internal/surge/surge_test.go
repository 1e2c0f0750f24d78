package surge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cs7649/surgefactor/internal/bar"
	"github.com/cs7649/surgefactor/internal/calendar"
)

func at(hms string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05.000", "2024-01-05 "+hms)
	if err != nil {
		panic(err)
	}
	return t
}

func barAt(hms string, open, close, vol float64) bar.Bar {
	return bar.Bar{
		Symbol:  "600519.SH",
		Date:    "20240105",
		BarTime: at(hms),
		Open:    open,
		Close:   close,
		Vol:     vol,
	}
}

// S4 from the boundary scenarios: three 5m bars, vol=[10,10,100],
// bar_ret=[0.001,0.002,0.05]. With trading_time=all_day, theta=1.0,
// stat=mean: mean=40, std~=51.96; bar 3 surges and its factor_value is
// 0.05.
func TestDetectEODBoundaryScenario(t *testing.T) {
	bars := []bar.Bar{
		{Symbol: "600519.SH", Date: "20240105", BarTime: at("09:35:00.000"), Open: 1.000, Close: 1.001, Vol: 10},
		{Symbol: "600519.SH", Date: "20240105", BarTime: at("09:40:00.000"), Open: 1.000, Close: 1.002, Vol: 10},
		{Symbol: "600519.SH", Date: "20240105", BarTime: at("09:45:00.000"), Open: 1.000, Close: 1.050, Vol: 100},
	}

	annotated := DetectEOD(bars, "all_day", 1.0)
	require.Len(t, annotated, 3)

	surges := 0
	for _, b := range annotated {
		if b.IsSurge {
			surges++
			require.InDelta(t, 0.05, b.BarRet, 1e-9)
		}
	}
	require.Equal(t, 1, surges)
}

func TestDetectEODZeroSigmaNeverSurges(t *testing.T) {
	bars := []bar.Bar{
		barAt("09:35:00.000", 1, 1, 100),
		barAt("09:40:00.000", 1, 1, 100),
		barAt("09:45:00.000", 1, 1, 100),
	}

	annotated := DetectEOD(bars, "all_day", 0.0001)
	for _, b := range annotated {
		require.False(t, b.IsSurge, "constant volume must never surge, even with a near-zero threshold")
	}
}

// S5: one symbol, 50 consecutive 1m bars, vol=100 for bars 1-48, vol=1000
// for bars 49-50. With k=48, theta=3.0, bar 49 must not surge (its
// baseline sigma is exactly zero).
func TestDetectM10RollingSigmaZeroTieBreak(t *testing.T) {
	var bars []bar.Bar
	base := at("09:31:00.000")
	for i := 0; i < 48; i++ {
		bars = append(bars, bar.Bar{
			Symbol: "600519.SH", Date: "20240105",
			BarTime: base.Add(time.Duration(i) * time.Minute),
			Open: 1, Close: 1, Vol: 100,
		})
	}
	for i := 48; i < 50; i++ {
		bars = append(bars, bar.Bar{
			Symbol: "600519.SH", Date: "20240105",
			BarTime: base.Add(time.Duration(i) * time.Minute),
			Open: 1, Close: 1, Vol: 1000,
		})
	}

	annotated := DetectM10Rolling(bars, 48, 3.0)
	require.Len(t, annotated, 50)
	require.False(t, annotated[48].IsSurge, "bar 49 (index 48) must not surge: its rolling baseline has sigma=0")
}

func TestDetectM10RollingFirstKBarsNeverSurge(t *testing.T) {
	var bars []bar.Bar
	base := at("09:31:00.000")
	for i := 0; i < 5; i++ {
		bars = append(bars, bar.Bar{
			Symbol: "600519.SH", Date: "20240105",
			BarTime: base.Add(time.Duration(i) * time.Minute),
			Open: 1, Close: 1, Vol: 100000, // huge volume, but no full window yet
		})
	}

	annotated := DetectM10Rolling(bars, 10, 0.001)
	for i, b := range annotated {
		require.Falsef(t, b.IsSurge, "bar %d must not surge before a full %d-bar window exists", i, 10)
	}
}

func TestDetectM10SameTimeSkipsInsufficientHistory(t *testing.T) {
	cal := calendar.NewStaticService([]string{"20240102", "20240103", "20240104"})

	bars := []bar.Bar{
		barAt("09:40:00.000", 1, 1, 100),
	}
	// reassign date to 20240104 for the bar above since barAt hardcodes 20240105
	bars[0].Date = "20240104"

	annotated, err := DetectM10SameTime(bars, cal, []string{"20240104"}, 5, 1.0)
	require.NoError(t, err)
	require.Empty(t, annotated, "expected no rows for a date with fewer than H=5 prior business days")
}

func TestDetectM10SameTimeProducesOneRowPerTargetBar(t *testing.T) {
	cal := calendar.NewStaticService([]string{"20240104", "20240105"})

	bars := []bar.Bar{
		{Symbol: "600519.SH", Date: "20240104", BarTime: at("10:37:00.000"), Open: 1, Close: 1, Vol: 10},
		{Symbol: "600519.SH", Date: "20240105", BarTime: at("10:37:00.000"), Open: 1.000, Close: 1.010, Vol: 1000},
		{Symbol: "600519.SH", Date: "20240105", BarTime: at("10:38:00.000"), Open: 1.000, Close: 1.020, Vol: 1000},
	}

	annotated, err := DetectM10SameTime(bars, cal, []string{"20240105"}, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, annotated, 2)
}
