// Package engine 实现交易周期控制器：一轮周期内依次完成
// 余额刷新、持仓对账、追踪止损维护、安全检查、扫描选币与下单。
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"shortbot/internal/config"
	"shortbot/internal/gateway/exchange"
	"shortbot/internal/logger"
	"shortbot/internal/market"
	"shortbot/internal/metrics"
	"shortbot/internal/risk"
	"shortbot/internal/state"
	"shortbot/internal/strategy"
)

// oiBasketSize 限制 OI 检查的合约数量，控制每轮请求预算。
const oiBasketSize = 10

type Controller struct {
	cfg      *config.Config
	ex       exchange.Client
	store    *state.Store
	gate     *risk.Gate
	reporter Reporter

	activeStrategy string
	nowFn          func() time.Time
}

func NewController(cfg *config.Config, ex exchange.Client, store *state.Store, gate *risk.Gate, reporter Reporter) *Controller {
	return &Controller{
		cfg:            cfg,
		ex:             ex,
		store:          store,
		gate:           gate,
		reporter:       reporter,
		activeStrategy: strategy.ByName(cfg.Scan.ActiveStrategy()).Name(),
		nowFn:          time.Now,
	}
}

// Store 暴露账本给 HTTP 层查询。
func (c *Controller) Store() *state.Store { return c.store }

// SetReporter 在组装阶段注入摘要消费者；HTTP 层自身也是消费者，
// 只能在控制器建好之后再挂上来。
func (c *Controller) SetReporter(r Reporter) { c.reporter = r }

// RunCycle 执行一个完整周期。任何一步失败都降级为
// "本步数据不可用"，周期本身总能跑到摘要落盘。
func (c *Controller) RunCycle(ctx context.Context) CycleSummary {
	started := c.nowFn().UTC()
	timer := prometheus.NewTimer(metrics.CycleDuration)
	defer timer.ObserveDuration()

	c.ex.ResetAPICounter()
	summary := CycleSummary{StartedAt: started}

	if _, err := c.store.RolloverIfNewDay(); err != nil {
		logger.Errorf("交易日切换落盘失败: %v", err)
	}

	// 1. 余额：读不到先刷新市场元数据再试一次。
	balance, balanceKnown := c.fetchBalance(ctx)
	summary.Balance = balance
	summary.BalanceKnown = balanceKnown
	if balanceKnown {
		if err := c.store.EnsureStartBalance(balance); err != nil {
			logger.Errorf("记录日初余额失败: %v", err)
		}
	}

	// 2. 对账 + 3. 追踪止损维护。持仓快照拿不到时两者都跳过，
	// 宁可本轮不动也不能基于过期数据改止损。
	live, liveErr := c.ex.OpenPositions(ctx)
	if liveErr != nil {
		logger.Errorf("持仓快照获取失败, 跳过对账与止损维护: %v", liveErr)
	} else {
		rec, err := c.store.Reconcile(live, func(symbol string) (exchange.PlanPrices, error) {
			return c.ex.PlanPrices(ctx, symbol)
		})
		if err != nil {
			logger.Errorf("对账失败: %v", err)
		}
		summary.Reconcile = rec
		summary.StopUpdates = c.maintainTrailingStops(ctx, live)
	}

	// 行情快照一轮只拉一次，安全检查与扫描共用。
	// 先取 USDT 永续合约列表圈定范围，防止交割合约、非 USDT 对混进扫描。
	var tickers []market.Ticker
	if universe, err := c.ex.Symbols(ctx); err != nil {
		logger.Errorf("USDT 永续合约列表获取失败, 本轮无候选: %v", err)
	} else if tickers, err = c.ex.Tickers(ctx, universe); err != nil {
		logger.Errorf("拉取行情失败, 本轮无候选: %v", err)
	}

	// 4. 安全检查。
	summary.Safe, summary.Checks = c.runChecks(ctx, balance, balanceKnown, tickers)

	// 5. 扫描。不安全也照常扫描，结果进报表。
	held := make(map[string]bool)
	for _, p := range c.store.Positions() {
		held[p.Symbol] = true
	}
	summary.Candidates = c.scan(ctx, tickers, held)

	// 6+7. 选币与下单。
	outcome, detail, opened := c.execute(ctx, &summary, balance, balanceKnown)
	summary.Outcome = outcome
	summary.Detail = detail
	summary.Opened = opened

	// 8. 收尾落盘并发布摘要。
	summary.Positions = c.store.Positions()
	summary.APICalls = c.ex.APICallCount()
	summary.FinishedAt = c.nowFn().UTC()
	if err := c.store.MarkCycle(summary.FinishedAt); err != nil {
		logger.Errorf("记录周期时间失败: %v", err)
	}
	summary.State = c.store.Snapshot()
	metrics.CyclesTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
	if c.reporter != nil {
		if err := c.reporter.Publish(summary); err != nil {
			logger.Errorf("发布周期摘要失败: %v", err)
		}
	}
	logger.Infof("周期结束: outcome=%s detail=%s 持仓=%d API调用=%d 耗时=%s",
		outcome, detail, len(summary.Positions), summary.APICalls,
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	return summary
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case OutcomeOpened, OutcomeDryRun, OutcomeNoTrade:
		return "ok"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "error"
	}
}

// fetchBalance 读余额；零值或失败后刷新市场元数据重试一次。
func (c *Controller) fetchBalance(ctx context.Context) (float64, bool) {
	balance, err := c.ex.Balance(ctx)
	if err == nil && balance > 0 {
		return balance, true
	}
	if err != nil {
		logger.Warnf("余额获取失败: %v, 刷新市场后重试", err)
	} else {
		logger.Warnf("余额为 0, 刷新市场后重试")
	}
	if err := c.ex.ReloadMarkets(ctx); err != nil {
		logger.Errorf("市场元数据刷新失败: %v", err)
	}
	balance, err = c.ex.Balance(ctx)
	if err != nil || balance <= 0 {
		logger.Errorf("余额仍不可用 (err=%v), 本轮按未知处理", err)
		return 0, false
	}
	return balance, true
}

// maintainTrailingStops 对每个跟踪中的空头执行追踪止损状态机，
// 交易所更新成功后立即落盘。
func (c *Controller) maintainTrailingStops(ctx context.Context, live []exchange.Position) []StopUpdate {
	markBySymbol := make(map[string]float64, len(live))
	for _, p := range live {
		if p.Side == "short" {
			markBySymbol[p.Symbol] = p.MarkPrice
		}
	}
	var updates []StopUpdate
	for _, tracked := range c.store.Positions() {
		mark, ok := markBySymbol[tracked.Symbol]
		if !ok || mark <= 0 {
			continue
		}
		newSL, move := c.gate.TrailingStop(tracked.EntryPrice, mark, tracked.CurrentSL)
		if !move {
			continue
		}
		if err := c.ex.UpdateStopLoss(ctx, tracked.Symbol, newSL); err != nil {
			logger.Errorf("追踪止损更新失败 %s: %v", tracked.Symbol, err)
			continue
		}
		if err := c.store.UpdateCurrentSL(tracked.Symbol, newSL); err != nil {
			logger.Errorf("追踪止损落盘失败 %s: %v", tracked.Symbol, err)
			continue
		}
		metrics.StopUpdates.Inc()
		logger.Infof("追踪止损收紧 %s: %.8f -> %.8f (entry %.8f, mark %.8f)",
			tracked.Symbol, tracked.CurrentSL, newSL, tracked.EntryPrice, mark)
		updates = append(updates, StopUpdate{Symbol: tracked.Symbol, OldSL: tracked.CurrentSL, NewSL: newSL})
	}
	return updates
}

// runChecks 汇集检查输入并执行全部安全检查。
// 余额未知单独算一条失败检查，强制本轮不安全。
func (c *Controller) runChecks(ctx context.Context, balance float64, balanceKnown bool, tickers []market.Ticker) (bool, []risk.CheckResult) {
	in := risk.Input{
		StartBalance:   c.store.Snapshot().StartBalance,
		CurrentBalance: balance,
		OpenPositions:  c.store.Count(),
	}
	btc, err := c.ex.BTC24hChange(ctx)
	if err != nil {
		logger.Warnf("BTC 行情获取失败, 趋势检查按 0 处理: %v", err)
	} else {
		in.BTC24hChange = btc
	}
	if changes, err := c.ex.OpenInterestChanges(ctx, oiBasket(tickers)); err == nil && len(changes) > 0 {
		in.OIChanges = changes
		in.HasOIData = true
	}
	if ratio, ok := c.marketVolumeRatio(ctx); ok {
		in.VolumeRatio = ratio
		in.HasVolumeData = true
	}

	safe, results := c.gate.RunAll(in)
	if !balanceKnown {
		results = append([]risk.CheckResult{{
			Name:   "balance",
			Passed: false,
			Reason: "Balance unavailable this cycle",
		}}, results...)
		safe = false
	}
	for _, res := range results {
		if !res.Passed {
			metrics.RiskBlocks.WithLabelValues(res.Name).Inc()
		}
	}
	return safe, results
}

// oiBasket 取成交额最高的若干合约做 OI 异常检查。
func oiBasket(tickers []market.Ticker) []string {
	sorted := make([]market.Ticker, len(tickers))
	copy(sorted, tickers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].QuoteVolume > sorted[j].QuoteVolume
	})
	if len(sorted) > oiBasketSize {
		sorted = sorted[:oiBasketSize]
	}
	out := make([]string, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, t.Symbol)
	}
	return out
}

// marketVolumeRatio 用 BTC 最近一根K线成交量对比其 20 根均值，
// 作为市场整体放量的代理指标。
func (c *Controller) marketVolumeRatio(ctx context.Context) (float64, bool) {
	candles, err := c.ex.OHLCV(ctx, "BTCUSDT", c.cfg.Scan.Timeframe, market.MinCandles)
	if err != nil || len(candles) < 21 {
		return 0, false
	}
	last := candles[len(candles)-1].Volume
	sum := 0.0
	for _, cd := range candles[len(candles)-21 : len(candles)-1] {
		sum += cd.Volume
	}
	avg := sum / 20
	if avg <= 0 {
		return 0, false
	}
	return last / avg, true
}

// execute 完成选币、算额、下单与记账。
func (c *Controller) execute(ctx context.Context, summary *CycleSummary, balance float64, balanceKnown bool) (string, string, *state.Position) {
	if !summary.Safe {
		return OutcomeBlocked, "safety checks failed", nil
	}
	if !balanceKnown {
		return OutcomeBlocked, "balance unavailable", nil
	}

	var winner *Candidate
	for i := range summary.Candidates {
		if summary.Candidates[i].Active.Count >= c.cfg.Scan.MinSignals {
			winner = &summary.Candidates[i]
			break
		}
	}
	if winner == nil {
		return OutcomeNoTrade, fmt.Sprintf("no candidate with >= %d signals", c.cfg.Scan.MinSignals), nil
	}

	margin := c.gate.PositionSize(balance, c.store.Count())
	if margin <= 0 {
		return OutcomeNoTrade, "position slots full, size is zero", nil
	}

	ticker, err := c.ex.Ticker(ctx, winner.Symbol)
	if err != nil || ticker.Last <= 0 {
		logger.Warnf("下单前行情获取失败 %s: %v", winner.Symbol, err)
		return OutcomeNoTrade, fmt.Sprintf("ticker unavailable for %s", winner.Symbol), nil
	}

	stopLoss, takeProfit := strategy.StopTargets(ticker.Last, winner.Active.ATRPct, strategy.StopTargetConfig{
		MinStopPct: c.cfg.Risk.MinStopPct,
		MinTPPct:   c.cfg.Risk.MinTPPct,
	})

	if c.cfg.App.DryRun {
		logger.Infof("[空跑] 将开空 %s margin=%.2f entry=%.8f sl=%.8f tp=%.8f (%d 信号: %v)",
			winner.Symbol, margin, ticker.Last, stopLoss, takeProfit,
			winner.Active.Count, winner.Active.Signals)
		// 入账一笔合成仓位走完整个记账路径；交易所没有对应持仓，
		// 下一轮对账会自动把它清掉。
		pos := c.syntheticPosition(winner.Symbol, margin, ticker.Last, stopLoss, takeProfit)
		if err := c.store.AddPosition(pos); err != nil {
			logger.Errorf("空跑记账失败 %s: %v", pos.Symbol, err)
		}
		return OutcomeDryRun, fmt.Sprintf("would short %s with %.2f USDT", winner.Symbol, margin), &pos
	}

	placed, err := c.ex.OpenShort(ctx, winner.Symbol, margin, stopLoss, takeProfit)
	if err != nil {
		logger.Errorf("开空失败 %s: %v", winner.Symbol, err)
		metrics.TradeFailures.WithLabelValues("place_order").Inc()
		return OutcomeFailed, fmt.Sprintf("order failed for %s: %v", winner.Symbol, err), nil
	}

	pos := state.Position{
		Symbol:     placed.Symbol,
		OrderID:    placed.OrderID,
		EntryPrice: placed.EntryPrice,
		Amount:     placed.Amount,
		MarginUSD:  placed.MarginUSD,
		Leverage:   placed.Leverage,
		StopLoss:   placed.StopLoss,
		TakeProfit: placed.TakeProfit,
		CurrentSL:  placed.StopLoss,
		OpenedAt:   placed.Timestamp,
	}
	if err := c.store.AddPosition(pos); err != nil {
		logger.Errorf("开仓记账失败 %s: %v (仓位已在交易所)", pos.Symbol, err)
	}
	metrics.TradesOpened.Inc()
	logger.Infof("开空成功 %s margin=%.2f entry=%.8f sl=%.8f tp=%.8f",
		pos.Symbol, pos.MarginUSD, pos.EntryPrice, pos.StopLoss, pos.TakeProfit)
	return OutcomeOpened, fmt.Sprintf("opened short %s with %.2f USDT", pos.Symbol, pos.MarginUSD), &pos
}

// syntheticPosition 构造空跑模式的账面仓位，订单号固定为 dry-run。
func (c *Controller) syntheticPosition(symbol string, margin, entry, stopLoss, takeProfit float64) state.Position {
	leverage := float64(c.cfg.Exchange.Leverage)
	if leverage <= 0 {
		leverage = 1
	}
	return state.Position{
		Symbol:     symbol,
		OrderID:    "dry-run",
		EntryPrice: entry,
		Amount:     margin * leverage / entry,
		MarginUSD:  margin,
		Leverage:   leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		CurrentSL:  stopLoss,
		OpenedAt:   c.nowFn().UTC(),
	}
}

// ManualShort 供 HTTP 端点手动开空：跳过自动选币，
// 但沿用同一套仓位计算与下单路径。
func (c *Controller) ManualShort(ctx context.Context, symbol string) (state.Position, error) {
	var zero state.Position
	if _, held := c.store.Position(symbol); held {
		return zero, fmt.Errorf("already holding %s", symbol)
	}
	balance, err := c.ex.Balance(ctx)
	if err != nil {
		return zero, fmt.Errorf("fetch balance: %w", err)
	}
	margin := c.gate.PositionSize(balance, c.store.Count())
	if margin <= 0 {
		return zero, fmt.Errorf("position slots full")
	}
	candles, err := c.ex.OHLCV(ctx, symbol, c.cfg.Scan.Timeframe, c.cfg.Scan.CandleLimit)
	if err != nil {
		return zero, fmt.Errorf("fetch candles: %w", err)
	}
	series, ok := market.ToSeries(candles)
	if !ok {
		return zero, fmt.Errorf("not enough history for %s", symbol)
	}
	ticker, err := c.ex.Ticker(ctx, symbol)
	if err != nil || ticker.Last <= 0 {
		return zero, fmt.Errorf("ticker unavailable for %s", symbol)
	}
	atrPct := strategy.ATRPercent(series)
	stopLoss, takeProfit := strategy.StopTargets(ticker.Last, atrPct, strategy.StopTargetConfig{
		MinStopPct: c.cfg.Risk.MinStopPct,
		MinTPPct:   c.cfg.Risk.MinTPPct,
	})
	if c.cfg.App.DryRun {
		return zero, fmt.Errorf("dry-run mode, order not placed")
	}
	placed, err := c.ex.OpenShort(ctx, symbol, margin, stopLoss, takeProfit)
	if err != nil {
		metrics.TradeFailures.WithLabelValues("manual_order").Inc()
		return zero, fmt.Errorf("open short %s: %w", symbol, err)
	}
	pos := state.Position{
		Symbol:     placed.Symbol,
		OrderID:    placed.OrderID,
		EntryPrice: placed.EntryPrice,
		Amount:     placed.Amount,
		MarginUSD:  placed.MarginUSD,
		Leverage:   placed.Leverage,
		StopLoss:   placed.StopLoss,
		TakeProfit: placed.TakeProfit,
		CurrentSL:  placed.StopLoss,
		OpenedAt:   placed.Timestamp,
	}
	if err := c.store.AddPosition(pos); err != nil {
		logger.Errorf("手动开仓记账失败 %s: %v", symbol, err)
	}
	metrics.TradesOpened.Inc()
	return pos, nil
}
