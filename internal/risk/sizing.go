package risk

import "github.com/shopspring/decimal"

const marginPrecision = 2

// PositionSize 计算新仓位的保证金：余额按比例均分到所有仓位槽。
// 返回 0 表示本轮不开仓（已满仓），是正常结果而非错误。
func (g *Gate) PositionSize(balance float64, openPositions int) float64 {
	if openPositions >= g.cfg.MaxPositions {
		return 0
	}
	margin := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(g.cfg.PositionSizePct)).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(g.cfg.MaxPositions)))
	out, _ := margin.Round(marginPrecision).Float64()
	return out
}
