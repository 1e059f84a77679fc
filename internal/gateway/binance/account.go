package binance

import (
	"context"
	"fmt"
	"math"

	"shortbot/internal/gateway/exchange"
)

const quoteAsset = "USDT"

// Balance 返回 USDT 钱包余额。
func (c *Client) Balance(ctx context.Context) (float64, error) {
	c.track()
	balances, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset == quoteAsset {
			return parseFloat(b.Balance), nil
		}
	}
	return 0, fmt.Errorf("no %s balance in account", quoteAsset)
}

// OpenPositions 返回全部非零持仓。
// position risk 接口不带止盈/止损，留 0 交给对账回填。
func (c *Client) OpenPositions(ctx context.Context) ([]exchange.Position, error) {
	c.track()
	rows, err := c.api.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	out := make([]exchange.Position, 0, len(rows))
	for _, row := range rows {
		amt := parseFloat(row.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
		}
		leverage := parseFloat(row.Leverage)
		if leverage <= 0 {
			leverage = 1
		}
		mark := parseFloat(row.MarkPrice)
		notional := math.Abs(amt) * mark
		margin := notional / leverage
		pnl := parseFloat(row.UnRealizedProfit)
		pct := 0.0
		if margin > 0 {
			pct = pnl / margin * 100
		}
		out = append(out, exchange.Position{
			Symbol:           row.Symbol,
			Side:             side,
			Contracts:        math.Abs(amt),
			EntryPrice:       parseFloat(row.EntryPrice),
			MarkPrice:        mark,
			Margin:           margin,
			Leverage:         leverage,
			UnrealizedPnL:    pnl,
			Percentage:       pct,
			LiquidationPrice: parseFloat(row.LiquidationPrice),
		})
	}
	return out, nil
}

// BTC24hChange 返回 BTCUSDT 的 24 小时涨跌幅。
func (c *Client) BTC24hChange(ctx context.Context) (float64, error) {
	t, err := c.Ticker(ctx, "BTCUSDT")
	if err != nil {
		return 0, err
	}
	return t.ChangePct, nil
}
