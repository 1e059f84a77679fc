package strategy

import (
	"fmt"

	"shortbot/internal/market"
)

// Classic 策略：RSI>70、EMA 下穿、MACD 下穿、资金费率为正，四票制。
type Classic struct{}

func (Classic) Name() string { return "classic" }

func (Classic) Analyze(series market.Series, funding FundingRate) Result {
	res := Result{Strategy: "classic", MaxSignals: 4}
	if len(series.Closes) < market.MinCandles {
		return res
	}

	res.RSI = latestRSI(series.Closes)
	if res.RSI > 70 {
		res.Signals = append(res.Signals, "RSI")
		res.Details = append(res.Details, fmt.Sprintf("RSI=%.1f (>70)", res.RSI))
	}

	if bearishEMACross(series.Closes) {
		res.Signals = append(res.Signals, "EMA_CROSS")
		res.Details = append(res.Details, "EMA(9)<EMA(21)")
	}

	if bearishMACDCross(series.Closes) {
		res.Signals = append(res.Signals, "MACD_CROSS")
		res.Details = append(res.Details, "MACD bearish cross")
	}

	if funding.Known && funding.Rate > fundingThreshold {
		res.Signals = append(res.Signals, "FUNDING")
		res.Details = append(res.Details, fmt.Sprintf("FR=%.4f%%", funding.Rate*100))
	}

	res.ATRPct = ATRPercent(series)
	res.Count = len(res.Signals)
	return res
}
