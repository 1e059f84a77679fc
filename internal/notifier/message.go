package notifier

import (
	"fmt"
	"strings"

	"shortbot/internal/engine"
)

// FormatCycle 把周期摘要压成一条适合手机阅读的 Markdown 消息。
// 只在有动作（开仓/失败/拦截）时值得推送，由调用方决定。
func FormatCycle(s engine.CycleSummary) string {
	var b strings.Builder

	switch s.Outcome {
	case engine.OutcomeOpened:
		b.WriteString("🚀 *开空成功*\n")
		if s.Opened != nil {
			fmt.Fprintf(&b, "`%s` 保证金 %.2f USDT\n", s.Opened.Symbol, s.Opened.MarginUSD)
			fmt.Fprintf(&b, "入场 %.6f · 止损 %.6f · 止盈 %.6f\n",
				s.Opened.EntryPrice, s.Opened.StopLoss, s.Opened.TakeProfit)
		}
	case engine.OutcomeFailed:
		b.WriteString("❌ *下单失败*\n")
		b.WriteString(s.Detail + "\n")
	case engine.OutcomeBlocked:
		b.WriteString("🛑 *本轮被风控拦截*\n")
		for _, check := range s.Checks {
			if !check.Passed {
				fmt.Fprintf(&b, "· %s\n", check.Reason)
			}
		}
	default:
		fmt.Fprintf(&b, "ℹ️ %s\n", s.Detail)
	}

	for _, u := range s.StopUpdates {
		fmt.Fprintf(&b, "🔒 `%s` 止损收紧 %.6f → %.6f\n", u.Symbol, u.OldSL, u.NewSL)
	}
	fmt.Fprintf(&b, "持仓 %d · 余额 %.2f · API %d 次", len(s.Positions), s.Balance, s.APICalls)
	return b.String()
}

// Notable 判断本轮是否值得推送：有动作或有止损移动。
func Notable(s engine.CycleSummary) bool {
	switch s.Outcome {
	case engine.OutcomeOpened, engine.OutcomeFailed, engine.OutcomeBlocked:
		return true
	}
	return len(s.StopUpdates) > 0
}
