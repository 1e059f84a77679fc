package risk

import "github.com/shopspring/decimal"

// 中文说明：
// 做空追踪止损状态机。盈利 = 价格下跌。
// 启动前不动；启动后锁定 (盈利 - 距离)，候选止损只在
// 严格更紧（更低）时生效，因此同一仓位的止损单调不增。

const trailingPrecision = 8

// TrailingStop 根据入场价、现价与当前止损计算新的追踪止损。
// 第二个返回值为 false 表示不需要更新（未启动或不会收紧）。
func (g *Gate) TrailingStop(entryPrice, currentPrice, currentSL float64) (float64, bool) {
	if entryPrice <= 0 {
		return 0, false
	}
	profitPct := (entryPrice - currentPrice) / entryPrice * 100
	if profitPct < g.cfg.TrailingStartPct {
		return 0, false
	}

	lockedPct := profitPct - g.cfg.TrailingDistancePct
	var candidate float64
	if lockedPct <= 0 {
		// 盈利不足以锁定距离之外的部分：移到保本位。
		candidate = entryPrice
	} else {
		candidate = entryPrice * (1 - lockedPct/100)
	}

	// 只收紧不放松：候选必须严格低于当前止损。
	cand := decimal.NewFromFloat(candidate).Round(trailingPrecision)
	if currentSL > 0 && cand.GreaterThanOrEqual(decimal.NewFromFloat(currentSL)) {
		return 0, false
	}
	out, _ := cand.Float64()
	return out, true
}
