package market

// Ticker 是单个合约的行情快照。
type Ticker struct {
	Symbol      string  `json:"symbol"`
	Last        float64 `json:"last"`
	ChangePct   float64 `json:"change_pct"`    // 24h 涨跌幅（百分比）
	QuoteVolume float64 `json:"quote_volume"` // 24h 成交额（计价币）
}

// OpenInterestChange 描述某合约 OI 的近期变化幅度。
type OpenInterestChange struct {
	Symbol    string  `json:"symbol"`
	ChangePct float64 `json:"change_pct"`
}
