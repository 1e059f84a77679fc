package strategy

import "shortbot/internal/market"

// FilterByVolume 按 24h 成交额过滤出流动性足够的合约。
func FilterByVolume(tickers []market.Ticker, minVolumeUSD float64) []string {
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t.QuoteVolume >= minVolumeUSD && t.QuoteVolume > 0 {
			out = append(out, t.Symbol)
		}
	}
	return out
}
