package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"shortbot/internal/market"
)

func TestStopTargets(t *testing.T) {
	cfg := StopTargetConfig{MinStopPct: 2, MinTPPct: 5}

	t.Run("atr dominates stop, floor dominates target", func(t *testing.T) {
		sl, tp := StopTargets(100, 4, cfg)
		// sl_pct = max(2, 1.5*4) = 6%, tp_pct = max(5, 0.1*4) = 5%
		assert.InDelta(t, 106.0, sl, 1e-9)
		assert.InDelta(t, 95.0, tp, 1e-9)
	})

	t.Run("quiet market falls back to floors", func(t *testing.T) {
		sl, tp := StopTargets(100, 0.5, cfg)
		assert.InDelta(t, 102.0, sl, 1e-9)
		assert.InDelta(t, 95.0, tp, 1e-9)
	})

	t.Run("short direction: stop above entry, target below", func(t *testing.T) {
		sl, tp := StopTargets(2345.67, 8, cfg)
		assert.Greater(t, sl, 2345.67)
		assert.Less(t, tp, 2345.67)
	})
}

func TestFilterByVolume(t *testing.T) {
	tickers := []market.Ticker{
		{Symbol: "AAAUSDT", QuoteVolume: 12_000_000},
		{Symbol: "BBBUSDT", QuoteVolume: 900_000},
		{Symbol: "CCCUSDT", QuoteVolume: 5_000_000},
	}
	got := FilterByVolume(tickers, 5_000_000)
	assert.Equal(t, []string{"AAAUSDT", "CCCUSDT"}, got)
}
