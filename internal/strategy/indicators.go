package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"shortbot/internal/market"
)

const (
	rsiPeriod      = 14
	atrPeriod      = 14
	emaFastPeriod  = 9
	emaSlowPeriod  = 21
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	volumeLookback = 20
	volumeSpikeX   = 1.5

	// fundingThreshold 为 0.01%：多头付费给空头，利于做空。
	fundingThreshold = 0.0001

	// atrUnusable 在收盘价为 0 时作为哨兵返回，使该合约被波动率上限过滤掉。
	atrUnusable = 999.0
)

func latestRSI(closes []float64) float64 {
	if len(closes) <= rsiPeriod {
		return 0
	}
	return lastValid(talib.Rsi(closes, rsiPeriod))
}

// ATRPercent 返回 ATR(14) 相对最新收盘价的百分比。
func ATRPercent(series market.Series) float64 {
	if len(series.Closes) < atrPeriod+1 {
		return 0
	}
	atr := lastValid(talib.Atr(series.Highs, series.Lows, series.Closes, atrPeriod))
	price := series.LastClose()
	if price == 0 {
		return atrUnusable
	}
	return atr / price * 100
}

// bearishEMACross 检查 EMA(9) 是否在最近两根K线内下穿 EMA(21)。
func bearishEMACross(closes []float64) bool {
	if len(closes) < emaSlowPeriod+2 {
		return false
	}
	fast := talib.Ema(closes, emaFastPeriod)
	slow := talib.Ema(closes, emaSlowPeriod)
	return crossedBelow(fast, slow)
}

// bearishMACDCross 检查 MACD 线是否在最近两根K线内下穿信号线。
func bearishMACDCross(closes []float64) bool {
	if len(closes) < macdSlow+macdSignal {
		return false
	}
	macdLine, signalLine, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	return crossedBelow(macdLine, signalLine)
}

// crossedBelow 在 2 根K线窗口内判定下穿：当前或上一根发生
// fast < slow 且前一根 fast >= slow，避免晚一个周期错过信号。
func crossedBelow(fast, slow []float64) bool {
	n := len(fast)
	if n < 3 || len(slow) != n {
		return false
	}
	for _, v := range []float64{fast[n-1], fast[n-2], fast[n-3], slow[n-1], slow[n-2], slow[n-3]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	crossNow := fast[n-1] < slow[n-1] && fast[n-2] >= slow[n-2]
	crossPrev := fast[n-2] < slow[n-2] && fast[n-3] >= slow[n-3]
	return crossNow || crossPrev
}

// volumeSpike 检查最新一根K线的成交量是否超过前 20 根均值的 1.5 倍。
func volumeSpike(volumes []float64) bool {
	if len(volumes) < volumeLookback+1 {
		return false
	}
	sum := 0.0
	for _, v := range volumes[len(volumes)-volumeLookback-1 : len(volumes)-1] {
		sum += v
	}
	avg := sum / volumeLookback
	if avg <= 0 {
		return false
	}
	return volumes[len(volumes)-1] > volumeSpikeX*avg
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}
