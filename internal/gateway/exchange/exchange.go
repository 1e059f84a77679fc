// Package exchange 定义核心逻辑依赖的交易所能力边界。
// 具体实现（gateway/binance）可以替换，核心不感知。
package exchange

import (
	"context"
	"time"

	"shortbot/internal/market"
)

// Position 是交易所报告的持仓快照。
type Position struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"` // "long" | "short"
	Contracts        float64 `json:"contracts"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	Margin           float64 `json:"margin"`
	Leverage         float64 `json:"leverage"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	Percentage       float64 `json:"percentage"`
	TakeProfit       float64 `json:"take_profit"` // 0 表示未设置
	StopLoss         float64 `json:"stop_loss"`   // 0 表示未设置
	LiquidationPrice float64 `json:"liquidation_price"`
}

// PlacedPosition 是下单成功后交易所返回的成交信息。
type PlacedPosition struct {
	OrderID    string
	Symbol     string
	Side       string
	EntryPrice float64
	Amount     float64
	MarginUSD  float64
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
	Timestamp  time.Time
}

// PlanPrices 是某合约挂着的计划委托触发价；0 表示没有对应委托。
type PlanPrices struct {
	TakeProfit float64
	StopLoss   float64
}

// Client 是核心消费的交易所能力集合。
// 网络失败以 error 返回，由调用方按"本轮数据不可用"处理。
type Client interface {
	// Balance 返回计价币总余额。
	Balance(ctx context.Context) (float64, error)
	// ReloadMarkets 重新加载市场元数据（精度、合约列表）。
	ReloadMarkets(ctx context.Context) error
	// Symbols 返回全部 USDT 永续合约。
	Symbols(ctx context.Context) ([]string, error)
	// OpenPositions 返回全部持仓。
	OpenPositions(ctx context.Context) ([]Position, error)
	// OHLCV 拉取K线，时间升序。
	OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error)
	// Ticker 返回单个合约行情。
	Ticker(ctx context.Context, symbol string) (market.Ticker, error)
	// Tickers 批量返回行情（用于流动性过滤）。
	Tickers(ctx context.Context, symbols []string) ([]market.Ticker, error)
	// FundingRate 返回资金费率；第二个返回值为 false 表示交易所未提供。
	FundingRate(ctx context.Context, symbol string) (float64, bool)
	// OpenInterestChanges 返回各合约 OI 的近期变化。
	OpenInterestChanges(ctx context.Context, symbols []string) ([]market.OpenInterestChange, error)
	// BTC24hChange 返回 BTC 24 小时涨跌幅（百分比）。
	BTC24hChange(ctx context.Context) (float64, error)

	// OpenShort 市价开空并同时挂止损/止盈计划委托。
	OpenShort(ctx context.Context, symbol string, marginUSD, stopLoss, takeProfit float64) (PlacedPosition, error)
	// UpdateStopLoss 把某持仓的止损移动到新价格。
	UpdateStopLoss(ctx context.Context, symbol string, newStop float64) error
	// PlanPrices 查询某合约当前挂着的止损/止盈触发价。
	PlanPrices(ctx context.Context, symbol string) (PlanPrices, error)

	// APICallCount / ResetAPICounter 用于每轮的请求预算核算。
	APICallCount() int
	ResetAPICounter()
}
