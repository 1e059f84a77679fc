package engine

import (
	"context"
	"sort"
	"time"

	"shortbot/internal/logger"
	"shortbot/internal/market"
	"shortbot/internal/strategy"
)

// scan 扫描流动性足够的合约并按信号强度排序。
// 单个合约的数据失败只跳过该合约，不让整轮失败。
func (c *Controller) scan(ctx context.Context, tickers []market.Ticker, held map[string]bool) []Candidate {
	symbols := strategy.FilterByVolume(tickers, c.cfg.Scan.MinVolumeUSD)
	if max := c.cfg.Scan.MaxSymbols; max > 0 && len(symbols) > max {
		symbols = symbols[:max]
	}
	logger.Infof("扫描开始: %d 个合约通过流动性过滤 (>= %.0f USDT)", len(symbols), c.cfg.Scan.MinVolumeUSD)

	lastBySymbol := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		lastBySymbol[t.Symbol] = t.Last
	}

	delay := time.Duration(c.cfg.Scan.SymbolDelayMs) * time.Millisecond
	candidates := make([]Candidate, 0, len(symbols))
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			logger.Warnf("扫描被取消, 已完成 %d/%d", len(candidates), len(symbols))
			break
		}
		if held[symbol] {
			continue
		}
		cand, ok := c.evaluate(ctx, symbol, lastBySymbol[symbol])
		if ok {
			candidates = append(candidates, cand)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	// 信号数优先，RSI 其次。
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Active, candidates[j].Active
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.RSI > b.RSI
	})
	if top := c.cfg.Scan.TopN; top > 0 && len(candidates) > top {
		candidates = candidates[:top]
	}
	return candidates
}

// evaluate 对单个合约跑指标与全部策略。
func (c *Controller) evaluate(ctx context.Context, symbol string, lastPrice float64) (Candidate, bool) {
	candles, err := c.ex.OHLCV(ctx, symbol, c.cfg.Scan.Timeframe, c.cfg.Scan.CandleLimit)
	if err != nil {
		logger.Debugf("K线获取失败 %s: %v", symbol, err)
		return Candidate{}, false
	}
	series, ok := market.ToSeries(candles)
	if !ok {
		return Candidate{}, false
	}

	// 波动过大的合约在进入信号引擎前就剔除。
	atrPct := strategy.ATRPercent(series)
	if atrPct > c.cfg.Scan.MaxATRPct {
		logger.Debugf("剔除 %s: ATR %.1f%% 超过上限 %.1f%%", symbol, atrPct, c.cfg.Scan.MaxATRPct)
		return Candidate{}, false
	}

	funding := strategy.FundingRate{}
	if rate, known := c.ex.FundingRate(ctx, symbol); known {
		funding = strategy.FundingRate{Rate: rate, Known: true}
	}

	results := strategy.AnalyzeAll(series, funding)
	if len(results) == 0 {
		return Candidate{}, false
	}
	active := results[0]
	for _, r := range results {
		if r.Strategy == c.activeStrategy {
			active = r
			break
		}
	}
	price := lastPrice
	if price <= 0 {
		price = series.LastClose()
	}
	return Candidate{
		Symbol:     symbol,
		Price:      price,
		Funding:    funding,
		FundingPct: funding.Rate * 100,
		Active:     active,
		All:        results,
	}, true
}
