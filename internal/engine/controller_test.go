package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortbot/internal/config"
	"shortbot/internal/gateway/exchange"
	"shortbot/internal/market"
	"shortbot/internal/risk"
	"shortbot/internal/state"
)

// fakeExchange 用函数字段可编程的假交易所，默认返回空市场。
type fakeExchange struct {
	balance    float64
	balanceErr error
	positions  []exchange.Position
	tickers    []market.Ticker
	universe   []string // USDT 永续名单；为空时从 tickers 推导
	candles    map[string][]market.Candle
	funding    map[string]float64

	placed      []exchange.PlacedPosition
	openErr     error
	stopUpdates map[string]float64
	reloads     int
	apiCalls    int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		candles:     make(map[string][]market.Candle),
		funding:     make(map[string]float64),
		stopUpdates: make(map[string]float64),
	}
}

func (f *fakeExchange) Balance(context.Context) (float64, error) {
	f.apiCalls++
	return f.balance, f.balanceErr
}

func (f *fakeExchange) ReloadMarkets(context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeExchange) Symbols(context.Context) ([]string, error) {
	if len(f.universe) > 0 {
		return f.universe, nil
	}
	out := make([]string, 0, len(f.tickers))
	for _, t := range f.tickers {
		out = append(out, t.Symbol)
	}
	return out, nil
}

func (f *fakeExchange) OpenPositions(context.Context) ([]exchange.Position, error) {
	return f.positions, nil
}

func (f *fakeExchange) OHLCV(_ context.Context, symbol, _ string, _ int) ([]market.Candle, error) {
	c, ok := f.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("no candles for %s", symbol)
	}
	return c, nil
}

func (f *fakeExchange) Ticker(_ context.Context, symbol string) (market.Ticker, error) {
	for _, t := range f.tickers {
		if t.Symbol == symbol {
			return t, nil
		}
	}
	return market.Ticker{}, fmt.Errorf("no ticker for %s", symbol)
}

func (f *fakeExchange) Tickers(_ context.Context, symbols []string) ([]market.Ticker, error) {
	if len(symbols) == 0 {
		return f.tickers, nil
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make([]market.Ticker, 0, len(symbols))
	for _, t := range f.tickers {
		if want[t.Symbol] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeExchange) FundingRate(_ context.Context, symbol string) (float64, bool) {
	rate, ok := f.funding[symbol]
	return rate, ok
}

func (f *fakeExchange) OpenInterestChanges(context.Context, []string) ([]market.OpenInterestChange, error) {
	return nil, nil
}

func (f *fakeExchange) BTC24hChange(context.Context) (float64, error) {
	t, err := f.Ticker(context.Background(), "BTCUSDT")
	if err != nil {
		return 0, err
	}
	return t.ChangePct, nil
}

func (f *fakeExchange) OpenShort(_ context.Context, symbol string, marginUSD, stopLoss, takeProfit float64) (exchange.PlacedPosition, error) {
	if f.openErr != nil {
		return exchange.PlacedPosition{}, f.openErr
	}
	t, err := f.Ticker(context.Background(), symbol)
	if err != nil {
		return exchange.PlacedPosition{}, err
	}
	p := exchange.PlacedPosition{
		OrderID:    fmt.Sprintf("fake-%d", len(f.placed)+1),
		Symbol:     symbol,
		Side:       "short",
		EntryPrice: t.Last,
		Amount:     marginUSD * 10 / t.Last,
		MarginUSD:  marginUSD,
		Leverage:   10,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
	f.placed = append(f.placed, p)
	return p, nil
}

func (f *fakeExchange) UpdateStopLoss(_ context.Context, symbol string, newStop float64) error {
	f.stopUpdates[symbol] = newStop
	return nil
}

func (f *fakeExchange) PlanPrices(context.Context, string) (exchange.PlanPrices, error) {
	return exchange.PlanPrices{}, nil
}

func (f *fakeExchange) APICallCount() int { return f.apiCalls }

func (f *fakeExchange) ResetAPICounter() { f.apiCalls = 0 }

var _ exchange.Client = (*fakeExchange)(nil)

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{CycleMinutes: 15},
		Exchange: config.ExchangeConfig{Leverage: 10},
		Risk: config.RiskConfig{
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
		},
		Scan: config.ScanConfig{
			Timeframe:    "15m",
			CandleLimit:  100,
			MinVolumeUSD: 1_000_000,
			MaxATRPct:    15,
			MinSignals:   3,
			Strategy:     "volume",
			TopN:         20,
			MaxSymbols:   50,
		},
	}
}

// crashCandles 缓涨后末两根暴跌，EMA 下穿落在 2 根K线窗口内，
// volume 策略的 tie-break 保证信号数为 3。
func crashCandles() []market.Candle {
	closes := make([]float64, 40)
	for i := 0; i < 38; i++ {
		closes[i] = 100 + float64(i)*0.27
	}
	closes[38] = 90
	closes[39] = 85
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{Open: c, High: c * 1.005, Low: c * 0.995, Close: c, Volume: 1000}
	}
	return out
}

// flatCandles 无信号的横盘序列。
func flatCandles() []market.Candle {
	out := make([]market.Candle, 40)
	for i := range out {
		out[i] = market.Candle{Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000}
	}
	return out
}

func newTestController(t *testing.T, cfg *config.Config, ex exchange.Client) (*Controller, *state.Store) {
	t.Helper()
	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	gate := risk.NewGate(cfg.Risk, nil)
	return NewController(cfg, ex, store, gate, nil), store
}

func TestRunCycleOpensShort(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 500
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 2, QuoteVolume: 5_000_000_000},
		{Symbol: "DOGEUSDT", Last: 85, ChangePct: -4, QuoteVolume: 80_000_000},
	}
	ex.candles["BTCUSDT"] = flatCandles()
	ex.candles["DOGEUSDT"] = crashCandles()

	ctrl, store := newTestController(t, cfg, ex)
	summary := ctrl.RunCycle(context.Background())

	assert.True(t, summary.Safe, "checks: %+v", summary.Checks)
	require.Equal(t, OutcomeOpened, summary.Outcome, "detail: %s", summary.Detail)
	require.Len(t, ex.placed, 1)
	assert.Equal(t, "DOGEUSDT", ex.placed[0].Symbol)
	assert.InDelta(t, 50.0, ex.placed[0].MarginUSD, 1e-9, "500 * 0.5 / 5")
	assert.Greater(t, ex.placed[0].StopLoss, 85.0, "short stop sits above entry")
	assert.Less(t, ex.placed[0].TakeProfit, 85.0, "short target sits below entry")

	assert.Equal(t, 1, store.Count())
	p, ok := store.Position("DOGEUSDT")
	require.True(t, ok)
	assert.Equal(t, p.StopLoss, p.CurrentSL)
	assert.Equal(t, 500.0, store.Snapshot().StartBalance)
}

func TestRunCycleBlockedAtCapacityStillTrails(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 1000
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 2, QuoteVolume: 5_000_000_000},
	}
	ex.candles["BTCUSDT"] = flatCandles()

	// 5 个在管空头，其中一个已有 10% 盈利，应触发追踪止损。
	for i := 0; i < 5; i++ {
		symbol := fmt.Sprintf("AAA%dUSDT", i)
		mark := 100.0
		if i == 0 {
			mark = 90
		}
		ex.positions = append(ex.positions, exchange.Position{
			Symbol: symbol, Side: "short", Contracts: 1,
			EntryPrice: 100, MarkPrice: mark, Margin: 10, Leverage: 10,
			StopLoss: 106, TakeProfit: 95,
		})
	}

	ctrl, store := newTestController(t, cfg, ex)

	// 预先入账，模拟此前周期开的仓。
	for _, p := range ex.positions {
		require.NoError(t, store.AddPosition(state.Position{
			Symbol: p.Symbol, EntryPrice: p.EntryPrice,
			StopLoss: p.StopLoss, TakeProfit: p.TakeProfit, CurrentSL: p.StopLoss,
		}))
	}

	summary := ctrl.RunCycle(context.Background())

	assert.False(t, summary.Safe)
	assert.Equal(t, OutcomeBlocked, summary.Outcome)
	assert.Empty(t, ex.placed, "no order may be placed at capacity")

	// 盈利 10%, 锁定 8% -> 止损 92。
	require.Contains(t, ex.stopUpdates, "AAA0USDT")
	assert.InDelta(t, 92.0, ex.stopUpdates["AAA0USDT"], 1e-9)
	p, _ := store.Position("AAA0USDT")
	assert.InDelta(t, 92.0, p.CurrentSL, 1e-9, "tightened stop must be persisted")
	assert.Len(t, ex.stopUpdates, 1, "flat positions keep their stop")
}

func TestRunCycleNoCandidate(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 500
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 2, QuoteVolume: 5_000_000_000},
	}
	ex.candles["BTCUSDT"] = flatCandles()

	ctrl, _ := newTestController(t, cfg, ex)
	summary := ctrl.RunCycle(context.Background())

	assert.True(t, summary.Safe)
	assert.Equal(t, OutcomeNoTrade, summary.Outcome)
	assert.Empty(t, ex.placed)
}

func TestRunCycleBalanceRetry(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 0 // 第一次读为 0，重试后依旧为 0
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 2, QuoteVolume: 5_000_000_000},
	}
	ex.candles["BTCUSDT"] = flatCandles()

	ctrl, _ := newTestController(t, cfg, ex)
	summary := ctrl.RunCycle(context.Background())

	assert.Equal(t, 1, ex.reloads, "zero balance must trigger exactly one metadata reload")
	assert.False(t, summary.BalanceKnown)
	assert.False(t, summary.Safe, "unknown balance forces unsafe")
	assert.Equal(t, OutcomeBlocked, summary.Outcome)
}

func TestRunCycleOrderFailure(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 500
	ex.openErr = fmt.Errorf("insufficient margin")
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 2, QuoteVolume: 5_000_000_000},
		{Symbol: "DOGEUSDT", Last: 85, ChangePct: -4, QuoteVolume: 80_000_000},
	}
	ex.candles["BTCUSDT"] = flatCandles()
	ex.candles["DOGEUSDT"] = crashCandles()

	ctrl, store := newTestController(t, cfg, ex)
	summary := ctrl.RunCycle(context.Background())

	assert.Equal(t, OutcomeFailed, summary.Outcome)
	assert.Zero(t, store.Count(), "failed order must not be booked")
}

func TestRunCycleDryRun(t *testing.T) {
	cfg := testConfig()
	cfg.App.DryRun = true
	ex := newFakeExchange()
	ex.balance = 500
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 2, QuoteVolume: 5_000_000_000},
		{Symbol: "DOGEUSDT", Last: 85, ChangePct: -4, QuoteVolume: 80_000_000},
	}
	ex.candles["BTCUSDT"] = flatCandles()
	ex.candles["DOGEUSDT"] = crashCandles()

	ctrl, store := newTestController(t, cfg, ex)
	summary := ctrl.RunCycle(context.Background())

	assert.Equal(t, OutcomeDryRun, summary.Outcome)
	assert.Empty(t, ex.placed, "dry-run must not touch the exchange")

	// 合成仓位入账，走与实盘相同的记账路径。
	require.Equal(t, 1, store.Count())
	pos, ok := store.Position("DOGEUSDT")
	require.True(t, ok)
	assert.Equal(t, "dry-run", pos.OrderID)
	assert.InDelta(t, 50.0, pos.MarginUSD, 1e-9)
	assert.Equal(t, pos.StopLoss, pos.CurrentSL)

	// 交易所没有这笔持仓，下一轮对账应把它清掉。
	ex.candles["DOGEUSDT"] = flatCandles() // 信号消失，避免再次空跑开仓
	next := ctrl.RunCycle(context.Background())
	assert.Contains(t, next.Reconcile.Removed, "DOGEUSDT")
	assert.Zero(t, store.Count())
}

func TestRunCycleScanLimitedToPerpUniverse(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 500
	// 交割合约的行情也会出现在 24h 统计里，但不在永续名单内。
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 2, QuoteVolume: 5_000_000_000},
		{Symbol: "DOGEUSDT", Last: 85, ChangePct: -4, QuoteVolume: 80_000_000},
		{Symbol: "BTCUSDT_250926", Last: 61000, ChangePct: -6, QuoteVolume: 900_000_000},
	}
	ex.universe = []string{"BTCUSDT", "DOGEUSDT"}
	ex.candles["BTCUSDT"] = flatCandles()
	ex.candles["DOGEUSDT"] = crashCandles()
	ex.candles["BTCUSDT_250926"] = crashCandles()

	ctrl, _ := newTestController(t, cfg, ex)
	summary := ctrl.RunCycle(context.Background())

	require.Equal(t, OutcomeOpened, summary.Outcome, "detail: %s", summary.Detail)
	require.Len(t, ex.placed, 1)
	assert.Equal(t, "DOGEUSDT", ex.placed[0].Symbol, "delivery contract must never be shorted")
	for _, cand := range summary.Candidates {
		assert.NotEqual(t, "BTCUSDT_250926", cand.Symbol)
	}
}

func TestNewControllerUnknownStrategyFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Scan.Strategy = "exotic"
	ctrl, _ := newTestController(t, cfg, newFakeExchange())
	assert.Equal(t, "volume", ctrl.activeStrategy)
}

func TestRunCycleBTCBullBlocks(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 500
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 7, QuoteVolume: 5_000_000_000},
		{Symbol: "DOGEUSDT", Last: 85, ChangePct: -4, QuoteVolume: 80_000_000},
	}
	ex.candles["BTCUSDT"] = flatCandles()
	ex.candles["DOGEUSDT"] = crashCandles()

	ctrl, _ := newTestController(t, cfg, ex)
	summary := ctrl.RunCycle(context.Background())

	assert.False(t, summary.Safe)
	assert.Equal(t, OutcomeBlocked, summary.Outcome)
	assert.Empty(t, ex.placed)
	assert.NotEmpty(t, summary.Candidates, "scan still runs for observability")
}

func TestRunCycleReconcilesBeforeDecision(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 500
	ex.tickers = []market.Ticker{
		{Symbol: "BTCUSDT", Last: 60000, ChangePct: 2, QuoteVolume: 5_000_000_000},
	}
	ex.candles["BTCUSDT"] = flatCandles()
	ex.positions = []exchange.Position{{
		Symbol: "XRPUSDT", Side: "short", Contracts: 100,
		EntryPrice: 0.6, MarkPrice: 0.6, Margin: 12, Leverage: 5,
		StopLoss: 0.63, TakeProfit: 0.55,
	}}

	ctrl, store := newTestController(t, cfg, ex)
	// 本地记着一个交易所已没有的仓位。
	require.NoError(t, store.AddPosition(state.Position{
		Symbol: "ETHUSDT", EntryPrice: 3000, StopLoss: 3100, CurrentSL: 3100,
	}))

	summary := ctrl.RunCycle(context.Background())

	assert.Equal(t, []string{"ETHUSDT"}, summary.Reconcile.Removed)
	assert.Equal(t, []string{"XRPUSDT"}, summary.Reconcile.Adopted)
	_, tracked := store.Position("XRPUSDT")
	assert.True(t, tracked)
	_, gone := store.Position("ETHUSDT")
	assert.False(t, gone)
}

func TestManualShort(t *testing.T) {
	cfg := testConfig()
	ex := newFakeExchange()
	ex.balance = 1000
	ex.tickers = []market.Ticker{
		{Symbol: "DOGEUSDT", Last: 85, ChangePct: -4, QuoteVolume: 80_000_000},
	}
	ex.candles["DOGEUSDT"] = crashCandles()

	ctrl, store := newTestController(t, cfg, ex)

	pos, err := ctrl.ManualShort(context.Background(), "DOGEUSDT")
	require.NoError(t, err)
	assert.Equal(t, "DOGEUSDT", pos.Symbol)
	assert.InDelta(t, 100.0, pos.MarginUSD, 1e-9, "1000 * 0.5 / 5")
	assert.Equal(t, 1, store.Count())

	_, err = ctrl.ManualShort(context.Background(), "DOGEUSDT")
	assert.Error(t, err, "holding the symbol already")
}
