package strategy

import (
	"fmt"

	"shortbot/internal/market"
)

// Volume 策略：RSI 阈值放宽到 65，用成交量放大替代 MACD。
// EMA 下穿单独出现即视为足够信号（计为 3/4）。
type Volume struct{}

func (Volume) Name() string { return "volume" }

func (Volume) Analyze(series market.Series, funding FundingRate) Result {
	res := Result{Strategy: "volume", MaxSignals: 4}
	if len(series.Closes) < market.MinCandles {
		return res
	}

	res.RSI = latestRSI(series.Closes)
	if res.RSI > 65 {
		res.Signals = append(res.Signals, "RSI")
		res.Details = append(res.Details, fmt.Sprintf("RSI=%.1f (>65)", res.RSI))
	}

	hasEMACross := bearishEMACross(series.Closes)
	if hasEMACross {
		res.Signals = append(res.Signals, "EMA_CROSS")
		res.Details = append(res.Details, "EMA(9)<EMA(21)")
	}

	if volumeSpike(series.Volumes) {
		res.Signals = append(res.Signals, "VOL_SPIKE")
		res.Details = append(res.Details, "Volume >1.5x avg")
	}

	if funding.Known && funding.Rate > fundingThreshold {
		res.Signals = append(res.Signals, "FUNDING")
		res.Details = append(res.Details, fmt.Sprintf("FR=%.4f%%", funding.Rate*100))
	}

	res.ATRPct = ATRPercent(series)
	if hasEMACross && len(res.Signals) < 3 {
		res.Count = 3
	} else {
		res.Count = len(res.Signals)
	}
	return res
}
