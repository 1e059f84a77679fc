package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortbot/internal/config"
	"shortbot/internal/market"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		DailyLossLimitPct:   5,
		BTCBullLimitPct:     5,
		MaxPositions:        5,
		PositionSizePct:     50,
		MinStopPct:          2,
		MinTPPct:            5,
		TrailingStartPct:    3,
		TrailingDistancePct: 2,
		NewsBlackoutMinutes: 30,
		OISpikePct:          10,
		MarketVolumeSpikeX:  3,
	}
}

func TestCheckDailyLoss(t *testing.T) {
	g := NewGate(testRiskConfig(), nil)

	t.Run("unknown start balance is unsafe", func(t *testing.T) {
		res := g.CheckDailyLoss(0, 1000)
		assert.False(t, res.Passed)
	})

	t.Run("loss over limit fails", func(t *testing.T) {
		res := g.CheckDailyLoss(1000, 940)
		assert.False(t, res.Passed)
	})

	t.Run("small loss passes", func(t *testing.T) {
		res := g.CheckDailyLoss(1000, 980)
		assert.True(t, res.Passed)
	})

	t.Run("profit passes", func(t *testing.T) {
		res := g.CheckDailyLoss(1000, 1100)
		assert.True(t, res.Passed)
	})
}

func TestCheckBTCTrend(t *testing.T) {
	g := NewGate(testRiskConfig(), nil)
	assert.False(t, g.CheckBTCTrend(6.2).Passed)
	assert.False(t, g.CheckBTCTrend(5.0).Passed, "limit itself is a fail")
	assert.True(t, g.CheckBTCTrend(2.0).Passed)
	assert.True(t, g.CheckBTCTrend(-8.0).Passed)
}

func TestCheckNewsBlackout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"events:\n  - date: \"2026-03-05\"\n    time: \"13:30\"\n    event: \"CPI\"\n"), 0o644))
	cal := config.LoadNewsCalendar(path)

	g := NewGate(testRiskConfig(), cal)

	t.Run("inside window fails", func(t *testing.T) {
		g.nowFn = func() time.Time {
			return time.Date(2026, 3, 5, 13, 15, 0, 0, time.UTC)
		}
		res := g.CheckNewsBlackout()
		assert.False(t, res.Passed)
		assert.Contains(t, res.Reason, "CPI")
	})

	t.Run("outside window passes", func(t *testing.T) {
		g.nowFn = func() time.Time {
			return time.Date(2026, 3, 5, 11, 0, 0, 0, time.UTC)
		}
		assert.True(t, g.CheckNewsBlackout().Passed)
	})
}

func TestCheckPositionCount(t *testing.T) {
	g := NewGate(testRiskConfig(), nil)
	assert.True(t, g.CheckPositionCount(4).Passed)
	assert.False(t, g.CheckPositionCount(5).Passed)
	assert.False(t, g.CheckPositionCount(6).Passed)
}

func TestCheckOISpike(t *testing.T) {
	g := NewGate(testRiskConfig(), nil)

	t.Run("reports top offenders", func(t *testing.T) {
		res := g.CheckOISpike([]market.OpenInterestChange{
			{Symbol: "AAAUSDT", ChangePct: 12},
			{Symbol: "BBBUSDT", ChangePct: -25},
			{Symbol: "CCCUSDT", ChangePct: 11},
			{Symbol: "DDDUSDT", ChangePct: 15},
			{Symbol: "EEEUSDT", ChangePct: 2},
		})
		assert.False(t, res.Passed)
		assert.Contains(t, res.Reason, "BBB")
		assert.Contains(t, res.Reason, "DDD")
		assert.Contains(t, res.Reason, "AAA")
		assert.NotContains(t, res.Reason, "CCC", "only top 3 by magnitude")
	})

	t.Run("quiet market passes", func(t *testing.T) {
		res := g.CheckOISpike([]market.OpenInterestChange{
			{Symbol: "AAAUSDT", ChangePct: 3},
		})
		assert.True(t, res.Passed)
	})

	t.Run("no data passes", func(t *testing.T) {
		assert.True(t, g.CheckOISpike(nil).Passed)
	})
}

func TestRunAllGating(t *testing.T) {
	cfg := testRiskConfig()
	g := NewGate(cfg, nil)

	t.Run("volume spike reported but not gating by default", func(t *testing.T) {
		safe, results := g.RunAll(Input{
			StartBalance:   1000,
			CurrentBalance: 1000,
			BTC24hChange:   1,
			OpenPositions:  0,
			VolumeRatio:    9,
			HasVolumeData:  true,
		})
		assert.True(t, safe)
		var volume *CheckResult
		for i := range results {
			if results[i].Name == "market_volume" {
				volume = &results[i]
			}
		}
		require.NotNil(t, volume)
		assert.False(t, volume.Passed)
	})

	t.Run("volume spike gates when enabled", func(t *testing.T) {
		cfg := testRiskConfig()
		cfg.GateOnVolumeSpike = true
		g := NewGate(cfg, nil)
		safe, _ := g.RunAll(Input{
			StartBalance:   1000,
			CurrentBalance: 1000,
			BTC24hChange:   1,
			VolumeRatio:    9,
			HasVolumeData:  true,
		})
		assert.False(t, safe)
	})

	t.Run("position count failure gates", func(t *testing.T) {
		safe, _ := g.RunAll(Input{
			StartBalance:   1000,
			CurrentBalance: 1000,
			BTC24hChange:   1,
			OpenPositions:  5,
		})
		assert.False(t, safe)
	})
}

func TestPositionSize(t *testing.T) {
	g := NewGate(testRiskConfig(), nil)

	assert.InDelta(t, 100.00, g.PositionSize(1000, 4), 1e-9, "1000 * 0.5 / 5")
	assert.Zero(t, g.PositionSize(1000, 5))
	assert.Zero(t, g.PositionSize(1000, 6))
	assert.InDelta(t, 12.35, g.PositionSize(123.456, 0), 1e-9, "rounded to cents")
}

func TestTrailingStop(t *testing.T) {
	g := NewGate(testRiskConfig(), nil)

	t.Run("inactive below start threshold", func(t *testing.T) {
		_, ok := g.TrailingStop(100, 98, 106)
		assert.False(t, ok, "2% profit is below the 3% start")
	})

	t.Run("locks small profit just past the start", func(t *testing.T) {
		sl, ok := g.TrailingStop(100, 96.5, 106)
		require.True(t, ok)
		// profit 3.5%, locked 1.5% -> SL at 98.5
		assert.InDelta(t, 98.5, sl, 1e-9)
	})

	t.Run("breakeven when distance exceeds profit", func(t *testing.T) {
		cfg := testRiskConfig()
		cfg.TrailingStartPct = 1
		cfg.TrailingDistancePct = 2
		g := NewGate(cfg, nil)
		sl, ok := g.TrailingStop(100, 98.5, 106)
		require.True(t, ok)
		assert.InDelta(t, 100, sl, 1e-9)
	})

	t.Run("locks profit beyond distance", func(t *testing.T) {
		sl, ok := g.TrailingStop(100, 90, 106)
		require.True(t, ok)
		// profit 10%, locked 8% -> SL at 92
		assert.InDelta(t, 92, sl, 1e-9)
	})

	t.Run("idempotent at unchanged price", func(t *testing.T) {
		sl, ok := g.TrailingStop(100, 90, 106)
		require.True(t, ok)
		_, again := g.TrailingStop(100, 90, sl)
		assert.False(t, again, "same price must not move the stop again")
	})

	t.Run("never loosens on adverse move", func(t *testing.T) {
		sl, ok := g.TrailingStop(100, 90, 106)
		require.True(t, ok)
		_, loosened := g.TrailingStop(100, 95, sl)
		assert.False(t, loosened, "a bounce must not raise the stop")
	})
}
