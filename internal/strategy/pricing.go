package strategy

import (
	"github.com/shopspring/decimal"
)

// 中文说明：
// 混合 ATR 止损/止盈：波动大的合约给更宽的止损，
// 但永远不低于配置的最小百分比。做空方向：止损在上方，止盈在下方。

const (
	slATRMultiplier = 1.5
	tpATRMultiplier = 0.1
	pricePrecision  = 8
)

// StopTargetConfig 是目标价计算需要的最小配置。
type StopTargetConfig struct {
	MinStopPct float64
	MinTPPct   float64
}

// StopTargets 按入场价与 ATR% 计算做空的止损/止盈价，
// 精度统一到 8 位小数，交易所网关再按 tick size 二次取整。
func StopTargets(entryPrice, atrPct float64, cfg StopTargetConfig) (stopLoss, takeProfit float64) {
	slPct := cfg.MinStopPct
	if v := slATRMultiplier * atrPct; v > slPct {
		slPct = v
	}
	tpPct := cfg.MinTPPct
	if v := tpATRMultiplier * atrPct; v > tpPct {
		tpPct = v
	}

	entry := decimal.NewFromFloat(entryPrice)
	hundred := decimal.NewFromInt(100)
	sl := entry.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(slPct).Div(hundred)))
	tp := entry.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(tpPct).Div(hundred)))
	stopLoss, _ = sl.Round(pricePrecision).Float64()
	takeProfit, _ = tp.Round(pricePrecision).Float64()
	return stopLoss, takeProfit
}
