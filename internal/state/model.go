package state

import "time"

// Position 是本地账本里跟踪的一笔空头仓位。
// StopLoss/TakeProfit 是开仓时的计划价，CurrentSL 随追踪止损下移。
type Position struct {
	Symbol     string    `gorm:"primaryKey;column:symbol" json:"symbol"`
	OrderID    string    `gorm:"column:order_id" json:"order_id"`
	EntryPrice float64   `gorm:"column:entry_price" json:"entry_price"`
	Amount     float64   `gorm:"column:amount" json:"amount"`
	MarginUSD  float64   `gorm:"column:margin_usd" json:"margin_usd"`
	Leverage   float64   `gorm:"column:leverage" json:"leverage"`
	StopLoss   float64   `gorm:"column:stop_loss" json:"stop_loss"`
	TakeProfit float64   `gorm:"column:take_profit" json:"take_profit"`
	CurrentSL  float64   `gorm:"column:current_sl" json:"current_sl"`
	OpenedAt   time.Time `gorm:"column:opened_at" json:"opened_at"`
}

func (Position) TableName() string { return "positions" }

// BotState 是单行（id=1）的全局运行状态。
type BotState struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	TradingDay   string    `gorm:"column:trading_day" json:"trading_day"` // UTC 日期 2006-01-02
	StartBalance float64   `gorm:"column:start_balance" json:"start_balance"`
	DailyPnL     float64   `gorm:"column:daily_pnl" json:"daily_pnl"`
	TradesToday  int       `gorm:"column:trades_today" json:"trades_today"`
	TotalTrades  int       `gorm:"column:total_trades" json:"total_trades"`
	TotalWins    int       `gorm:"column:total_wins" json:"total_wins"`
	TotalLosses  int       `gorm:"column:total_losses" json:"total_losses"`
	TotalPnL     float64   `gorm:"column:total_pnl" json:"total_pnl"`
	LastCycleAt  time.Time `gorm:"column:last_cycle_at" json:"last_cycle_at"`
}

func (BotState) TableName() string { return "bot_states" }

// WinRate 返回历史胜率（百分比）；没有已结束交易时为 0。
func (b BotState) WinRate() float64 {
	closed := b.TotalWins + b.TotalLosses
	if closed == 0 {
		return 0
	}
	return float64(b.TotalWins) / float64(closed) * 100
}
