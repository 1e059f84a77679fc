package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"shortbot/internal/config"
	"shortbot/internal/logger"
	"shortbot/internal/market"
)

// 中文说明：
// 风控闸门：每轮全部检查都会执行并输出结果（便于观察），
// 但只有"拦截型"检查失败才会阻止开新仓。OI/成交量检查
// 默认只报告，由配置开关决定是否参与拦截。

// CheckResult 是单项安全检查的结论。
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Gate 聚合所有安全检查与仓位计算。
type Gate struct {
	cfg      config.RiskConfig
	calendar *config.NewsCalendar
	nowFn    func() time.Time
}

func NewGate(cfg config.RiskConfig, calendar *config.NewsCalendar) *Gate {
	return &Gate{cfg: cfg, calendar: calendar, nowFn: time.Now}
}

// Input 汇集一轮检查需要的外部数据。OI/成交量数据可能缺失。
type Input struct {
	StartBalance   float64
	CurrentBalance float64
	BTC24hChange   float64
	OpenPositions  int

	OIChanges     []market.OpenInterestChange
	HasOIData     bool
	VolumeRatio   float64
	HasVolumeData bool
}

// RunAll 执行全部检查，返回 (all_safe, 有序结果列表)。
func (g *Gate) RunAll(in Input) (bool, []CheckResult) {
	results := []CheckResult{
		g.CheckDailyLoss(in.StartBalance, in.CurrentBalance),
		g.CheckBTCTrend(in.BTC24hChange),
		g.CheckNewsBlackout(),
		g.CheckPositionCount(in.OpenPositions),
	}
	allSafe := true
	for _, res := range results {
		if !res.Passed {
			allSafe = false
		}
	}
	if in.HasOIData {
		res := g.CheckOISpike(in.OIChanges)
		results = append(results, res)
		if g.cfg.GateOnOISpike && !res.Passed {
			allSafe = false
		}
	}
	if in.HasVolumeData {
		res := g.CheckMarketVolume(in.VolumeRatio)
		results = append(results, res)
		if g.cfg.GateOnVolumeSpike && !res.Passed {
			allSafe = false
		}
	}
	return allSafe, results
}

// CheckDailyLoss 比较当日起始余额与当前余额；起始余额未知视为不安全。
func (g *Gate) CheckDailyLoss(startBalance, currentBalance float64) CheckResult {
	if startBalance <= 0 {
		return CheckResult{Name: "daily_loss", Passed: false, Reason: "Start balance is zero or negative"}
	}
	lossPct := (startBalance - currentBalance) / startBalance * 100
	if lossPct >= g.cfg.DailyLossLimitPct {
		msg := fmt.Sprintf("Daily loss limit reached: -%.2f%% (limit: -%.1f%%)", lossPct, g.cfg.DailyLossLimitPct)
		logger.Warnf("%s", msg)
		return CheckResult{Name: "daily_loss", Passed: false, Reason: msg}
	}
	return CheckResult{Name: "daily_loss", Passed: true, Reason: fmt.Sprintf("Daily P&L: %.2f%%", -lossPct)}
}

// CheckBTCTrend 在 BTC 强势上涨时禁止做空。
func (g *Gate) CheckBTCTrend(btc24hChange float64) CheckResult {
	if btc24hChange >= g.cfg.BTCBullLimitPct {
		msg := fmt.Sprintf("BTC bull market detected: +%.2f%% (limit: +%.1f%%)", btc24hChange, g.cfg.BTCBullLimitPct)
		logger.Warnf("%s", msg)
		return CheckResult{Name: "btc_trend", Passed: false, Reason: msg}
	}
	return CheckResult{Name: "btc_trend", Passed: true, Reason: fmt.Sprintf("BTC 24h: %+.2f%%", btc24hChange)}
}

// CheckNewsBlackout 检查当前时间是否落在任一事件的前后封锁窗口内。
func (g *Gate) CheckNewsBlackout() CheckResult {
	if g.calendar == nil {
		return CheckResult{Name: "news_blackout", Passed: true, Reason: "No news blackout"}
	}
	now := g.nowFn().UTC()
	window := time.Duration(g.cfg.NewsBlackoutMinutes) * time.Minute
	for _, ev := range g.calendar.Events() {
		at, err := ev.At()
		if err != nil {
			continue
		}
		if !now.Before(at.Add(-window)) && !now.After(at.Add(window)) {
			msg := fmt.Sprintf("News blackout: %s at %s %s UTC", ev.Event, ev.Date, ev.Time)
			logger.Warnf("%s", msg)
			return CheckResult{Name: "news_blackout", Passed: false, Reason: msg}
		}
	}
	return CheckResult{Name: "news_blackout", Passed: true, Reason: "No news blackout"}
}

// CheckPositionCount 检查持仓数量上限。
func (g *Gate) CheckPositionCount(openPositions int) CheckResult {
	if openPositions >= g.cfg.MaxPositions {
		msg := fmt.Sprintf("Max positions reached: %d/%d", openPositions, g.cfg.MaxPositions)
		return CheckResult{Name: "position_count", Passed: false, Reason: msg}
	}
	return CheckResult{Name: "position_count", Passed: true, Reason: fmt.Sprintf("Positions: %d/%d", openPositions, g.cfg.MaxPositions)}
}

// CheckOISpike 检查是否有合约 OI 异常变动，失败时报告幅度最大的前 3 个。
func (g *Gate) CheckOISpike(changes []market.OpenInterestChange) CheckResult {
	spiked := make([]market.OpenInterestChange, 0)
	for _, c := range changes {
		if math.Abs(c.ChangePct) >= g.cfg.OISpikePct {
			spiked = append(spiked, c)
		}
	}
	if len(spiked) > 0 {
		sort.Slice(spiked, func(i, j int) bool {
			return math.Abs(spiked[i].ChangePct) > math.Abs(spiked[j].ChangePct)
		})
		if len(spiked) > 3 {
			spiked = spiked[:3]
		}
		parts := make([]string, 0, len(spiked))
		for _, c := range spiked {
			parts = append(parts, fmt.Sprintf("%s %+.1f%%", baseAsset(c.Symbol), c.ChangePct))
		}
		msg := fmt.Sprintf("OI spike detected: %s (limit: %.1f%%)", strings.Join(parts, ", "), g.cfg.OISpikePct)
		logger.Warnf("%s", msg)
		return CheckResult{Name: "oi_spike", Passed: false, Reason: msg}
	}
	if len(changes) > 0 {
		sum := 0.0
		for _, c := range changes {
			sum += c.ChangePct
		}
		avg := sum / float64(len(changes))
		return CheckResult{Name: "oi_spike", Passed: true, Reason: fmt.Sprintf("OI avg change: %+.1f%% (%d pairs)", avg, len(changes))}
	}
	return CheckResult{Name: "oi_spike", Passed: true, Reason: "OI: no data"}
}

// CheckMarketVolume 检查市场整体成交量是否异常放大。
func (g *Gate) CheckMarketVolume(ratio float64) CheckResult {
	if ratio >= g.cfg.MarketVolumeSpikeX {
		msg := fmt.Sprintf("Market volume spike: %.1fx avg (limit: %.1fx)", ratio, g.cfg.MarketVolumeSpikeX)
		logger.Warnf("%s", msg)
		return CheckResult{Name: "market_volume", Passed: false, Reason: msg}
	}
	return CheckResult{Name: "market_volume", Passed: true, Reason: fmt.Sprintf("Market volume: %.1fx avg", ratio)}
}

func baseAsset(symbol string) string {
	if idx := strings.IndexAny(symbol, "/:"); idx > 0 {
		return symbol[:idx]
	}
	return strings.TrimSuffix(symbol, "USDT")
}
