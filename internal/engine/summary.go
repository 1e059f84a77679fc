package engine

import (
	"time"

	"shortbot/internal/risk"
	"shortbot/internal/state"
	"shortbot/internal/strategy"
)

// 每轮的最终结论，写进摘要并暴露给报表/通知。
const (
	OutcomeOpened  = "opened"   // 成功开仓
	OutcomeDryRun  = "dry_run"  // 空跑模式，只记录不下单
	OutcomeBlocked = "blocked"  // 安全检查未通过
	OutcomeNoTrade = "no_trade" // 无合格候选或仓位额度为 0
	OutcomeFailed  = "failed"   // 下单失败
)

// Candidate 是扫描阶段的单个候选：生效策略的结果参与排序，
// 全部策略结果保留用于展示对比。
type Candidate struct {
	Symbol     string               `json:"symbol"`
	Price      float64              `json:"price"`
	Funding    strategy.FundingRate `json:"-"`
	FundingPct float64              `json:"funding_rate"`
	Active     strategy.Result      `json:"active"`
	All        []strategy.Result    `json:"all_strategies"`
}

// StopUpdate 记录一次成功的追踪止损移动。
type StopUpdate struct {
	Symbol string  `json:"symbol"`
	OldSL  float64 `json:"old_sl"`
	NewSL  float64 `json:"new_sl"`
}

// CycleSummary 是一轮完整周期的观测输出，交给报表协作方。
type CycleSummary struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Balance      float64   `json:"balance"`
	BalanceKnown bool      `json:"balance_known"`

	Safe   bool               `json:"safe"`
	Checks []risk.CheckResult `json:"checks"`

	Reconcile   state.ReconcileResult `json:"reconcile"`
	StopUpdates []StopUpdate          `json:"stop_updates"`

	Candidates []Candidate `json:"candidates"`

	Outcome string          `json:"outcome"`
	Detail  string          `json:"detail"`
	Opened  *state.Position `json:"opened,omitempty"`

	Positions []state.Position `json:"positions"`
	State     state.BotState   `json:"state"`
	APICalls  int              `json:"api_calls"`
}

// Reporter 消费每轮摘要；实现方决定落盘、渲染还是推送。
type Reporter interface {
	Publish(summary CycleSummary) error
}
