package binance

import (
	"context"
	"fmt"
	"strings"

	"shortbot/internal/logger"
	"shortbot/internal/market"
)

const maxKlineLimit = 1500

// oiPeriod 与扫描周期对齐，两个点即可算出变化率。
const oiPeriod = "15m"

// OHLCV 拉取K线，时间升序。
func (c *Client) OHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	c.track()
	kls, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(strings.ToLower(strings.TrimSpace(timeframe))).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch klines %s: %w", symbol, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// Ticker 返回单个合约的 24h 行情。
func (c *Client) Ticker(ctx context.Context, symbol string) (market.Ticker, error) {
	c.track()
	stats, err := c.api.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return market.Ticker{}, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	if len(stats) == 0 || stats[0] == nil {
		return market.Ticker{}, fmt.Errorf("no ticker for %s", symbol)
	}
	return convertTicker(stats[0].Symbol, stats[0].LastPrice, stats[0].PriceChangePercent, stats[0].QuoteVolume), nil
}

// Tickers 一次拉取全市场行情，再按需过滤；
// 比逐个合约请求省一个数量级的 API 配额。
func (c *Client) Tickers(ctx context.Context, symbols []string) ([]market.Ticker, error) {
	c.track()
	stats, err := c.api.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make([]market.Ticker, 0, len(symbols))
	for _, st := range stats {
		if st == nil {
			continue
		}
		if len(want) > 0 && !want[st.Symbol] {
			continue
		}
		out = append(out, convertTicker(st.Symbol, st.LastPrice, st.PriceChangePercent, st.QuoteVolume))
	}
	return out, nil
}

func convertTicker(symbol, last, changePct, quoteVolume string) market.Ticker {
	return market.Ticker{
		Symbol:      symbol,
		Last:        parseFloat(last),
		ChangePct:   parseFloat(changePct),
		QuoteVolume: parseFloat(quoteVolume),
	}
}

// FundingRate 返回当前资金费率；拿不到时按未知处理，不报错。
func (c *Client) FundingRate(ctx context.Context, symbol string) (float64, bool) {
	c.track()
	rows, err := c.api.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		logger.Debugf("资金费率获取失败 %s: %v", symbol, err)
		return 0, false
	}
	if len(rows) == 0 || rows[0] == nil {
		return 0, false
	}
	return parseFloat(rows[0].LastFundingRate), true
}

// OpenInterestChanges 用最近两个 OI 统计点计算变化率。
// 单个合约失败只跳过，不让整批失败。
func (c *Client) OpenInterestChanges(ctx context.Context, symbols []string) ([]market.OpenInterestChange, error) {
	out := make([]market.OpenInterestChange, 0, len(symbols))
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		c.track()
		rows, err := c.api.NewOpenInterestStatisticsService().
			Symbol(symbol).
			Period(oiPeriod).
			Limit(2).
			Do(ctx)
		if err != nil {
			logger.Debugf("OI 统计获取失败 %s: %v", symbol, err)
			continue
		}
		if len(rows) < 2 || rows[0] == nil || rows[1] == nil {
			continue
		}
		prev := parseFloat(rows[0].SumOpenInterest)
		curr := parseFloat(rows[1].SumOpenInterest)
		if prev <= 0 {
			continue
		}
		out = append(out, market.OpenInterestChange{
			Symbol:    symbol,
			ChangePct: (curr - prev) / prev * 100,
		})
	}
	return out, nil
}
