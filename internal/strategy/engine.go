package strategy

import (
	"strings"

	"shortbot/internal/market"
)

// 中文说明：
// 信号引擎：对单个合约的K线序列运行全部注册策略，产出做空投票。
// 策略之间互相独立，扫描器按配置选择"生效策略"参与排序，
// 其余策略结果仅用于展示对比。

// Result 是单个策略对单个合约的一次分析输出，不落盘。
type Result struct {
	Strategy   string   `json:"strategy"`
	Signals    []string `json:"signals"`
	Count      int      `json:"signal_count"`
	MaxSignals int      `json:"max_signals"`
	RSI        float64  `json:"rsi"`
	ATRPct     float64  `json:"atr_pct"`
	Details    []string `json:"details"`
}

// FundingRate 区分"无数据"与数值为 0：Known=false 表示交易所未提供。
type FundingRate struct {
	Rate  float64
	Known bool
}

// Strategy 是单个投票策略的能力边界。
type Strategy interface {
	Name() string
	Analyze(series market.Series, funding FundingRate) Result
}

// All 返回固定顺序的策略注册表。
func All() []Strategy {
	return []Strategy{Classic{}, Volume{}}
}

// ByName 按名字查找策略；未知名字回退到 volume。
func ByName(name string) Strategy {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range All() {
		if s.Name() == name {
			return s
		}
	}
	return Volume{}
}

// AnalyzeAll 对序列运行全部策略，结果按注册顺序返回。
// 序列长度不足时返回 nil，由调用方在进入引擎前过滤。
func AnalyzeAll(series market.Series, funding FundingRate) []Result {
	if len(series.Closes) < market.MinCandles {
		return nil
	}
	out := make([]Result, 0, len(All()))
	for _, s := range All() {
		out = append(out, s.Analyze(series, funding))
	}
	return out
}
