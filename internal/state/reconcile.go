package state

import (
	"time"

	"shortbot/internal/gateway/exchange"
	"shortbot/internal/logger"
)

// PlanFetcher 查询某合约挂着的计划委托触发价，补全缺失的止盈/止损。
type PlanFetcher func(symbol string) (exchange.PlanPrices, error)

// ReconcileResult 汇总一次对账的动作，供日志与报表使用。
type ReconcileResult struct {
	Removed    []string `json:"removed"`
	Adopted    []string `json:"adopted"`
	Backfilled []string `json:"backfilled"`
}

// Reconcile 让本地账本收敛到交易所的真实持仓：
//   - 本地有、交易所没有 -> 视为已平仓移除（盈亏不可归因，记 0）；
//   - 交易所有空头、本地没有 -> 收编进账本；
//   - 本地缺止盈/止损价 -> 先从持仓字段、再从计划委托回填。
//
// 账本与交易所一致时不产生任何写入，重复执行是幂等的。
func (s *Store) Reconcile(open []exchange.Position, fetchPlan PlanFetcher) (ReconcileResult, error) {
	var res ReconcileResult

	shorts := make(map[string]exchange.Position, len(open))
	for _, p := range open {
		if p.Side == "short" {
			shorts[p.Symbol] = p
		}
	}

	for _, tracked := range s.Positions() {
		if _, live := shorts[tracked.Symbol]; !live {
			logger.Warnf("对账: %s 已在交易所平仓, 移出账本", tracked.Symbol)
			if err := s.RemovePosition(tracked.Symbol, 0); err != nil {
				return res, err
			}
			res.Removed = append(res.Removed, tracked.Symbol)
		}
	}

	for symbol, live := range shorts {
		tracked, ok := s.Position(symbol)
		if !ok {
			adopted := s.adoptPosition(live, fetchPlan)
			// 收编不是新开仓，不计入当日/历史交易数。
			if err := s.putPosition(adopted); err != nil {
				return res, err
			}
			logger.Warnf("对账: 收编交易所持仓 %s entry=%.8f sl=%.8f tp=%.8f",
				symbol, adopted.EntryPrice, adopted.StopLoss, adopted.TakeProfit)
			res.Adopted = append(res.Adopted, symbol)
			continue
		}
		if tracked.StopLoss > 0 && tracked.TakeProfit > 0 {
			continue
		}
		filled := s.backfillPrices(tracked, live, fetchPlan)
		if filled == tracked {
			continue
		}
		if err := s.putPosition(filled); err != nil {
			return res, err
		}
		logger.Infof("对账: 回填 %s sl=%.8f tp=%.8f", symbol, filled.StopLoss, filled.TakeProfit)
		res.Backfilled = append(res.Backfilled, symbol)
	}
	return res, nil
}

// adoptPosition 从交易所快照构造账本记录。
func (s *Store) adoptPosition(live exchange.Position, fetchPlan PlanFetcher) Position {
	p := Position{
		Symbol:     live.Symbol,
		EntryPrice: live.EntryPrice,
		Amount:     live.Contracts,
		MarginUSD:  live.Margin,
		Leverage:   live.Leverage,
		StopLoss:   live.StopLoss,
		TakeProfit: live.TakeProfit,
		OpenedAt:   s.nowFn().UTC(),
	}
	if p.Leverage <= 0 {
		p.Leverage = s.defaultLeverage
	}
	if p.Leverage <= 0 {
		p.Leverage = 1
	}
	p = s.backfillPrices(p, live, fetchPlan)
	p.CurrentSL = p.StopLoss
	return p
}

// backfillPrices 只补 0 值，已知的价位不动。
func (s *Store) backfillPrices(p Position, live exchange.Position, fetchPlan PlanFetcher) Position {
	if p.StopLoss == 0 {
		p.StopLoss = live.StopLoss
	}
	if p.TakeProfit == 0 {
		p.TakeProfit = live.TakeProfit
	}
	if (p.StopLoss == 0 || p.TakeProfit == 0) && fetchPlan != nil {
		plan, err := fetchPlan(p.Symbol)
		if err != nil {
			logger.Warnf("对账: 查询 %s 计划委托失败: %v", p.Symbol, err)
		} else {
			if p.StopLoss == 0 {
				p.StopLoss = plan.StopLoss
			}
			if p.TakeProfit == 0 {
				p.TakeProfit = plan.TakeProfit
			}
		}
	}
	if p.CurrentSL == 0 {
		p.CurrentSL = p.StopLoss
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	return p
}
