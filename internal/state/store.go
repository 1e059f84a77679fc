// Package state 负责持仓账本与运行状态的本地持久化。
// 所有修改都在持锁内同步落盘，进程随时被杀也不会丢账。
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shortbot/internal/logger"
)

const stateRowID = 1

const tradingDayLayout = "2006-01-02"

type Store struct {
	mu        sync.RWMutex
	db        *gorm.DB
	state     BotState
	positions map[string]*Position

	defaultLeverage float64          // 收编时交易所没报杠杆的兜底值
	nowFn           func() time.Time // 测试注入
}

// SetDefaultLeverage 设置收编持仓时的兜底杠杆（通常取配置的下单杠杆）。
func (s *Store) SetDefaultLeverage(lev float64) {
	s.mu.Lock()
	s.defaultLeverage = lev
	s.mu.Unlock()
}

// NewStore 打开（或创建）sqlite 状态库并加载现有账本。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("state path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// NewStoreFromDB 用已有连接构建，测试用。
func NewStoreFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&BotState{}, &Position{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	s := &Store{
		db:        db,
		positions: make(map[string]*Position),
		nowFn:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	var st BotState
	err := s.db.First(&st, stateRowID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		st = BotState{ID: stateRowID, TradingDay: s.today()}
		if err := s.db.Create(&st).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	}
	s.state = st

	var rows []Position
	if err := s.db.Find(&rows).Error; err != nil {
		return err
	}
	for i := range rows {
		p := rows[i]
		s.positions[p.Symbol] = &p
	}
	logger.Infof("状态库加载完成: %d 个持仓, 交易日 %s", len(rows), st.TradingDay)
	return nil
}

func (s *Store) today() string {
	return s.nowFn().UTC().Format(tradingDayLayout)
}

// RolloverIfNewDay 在 UTC 日期切换时重置当日统计。
// 返回 true 表示发生了切换。
func (s *Store) RolloverIfNewDay() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := s.today()
	if s.state.TradingDay == today {
		return false, nil
	}
	logger.Infof("交易日切换 %s -> %s, 重置当日统计", s.state.TradingDay, today)
	s.state.TradingDay = today
	s.state.StartBalance = 0
	s.state.DailyPnL = 0
	s.state.TradesToday = 0
	return true, s.saveState()
}

// EnsureStartBalance 在当日首次观察到余额时记为日初余额。
// 已有日初余额时不覆盖。
func (s *Store) EnsureStartBalance(balance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.StartBalance > 0 {
		return nil
	}
	s.state.StartBalance = balance
	return s.saveState()
}

// Snapshot 返回运行状态的副本。
func (s *Store) Snapshot() BotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Positions 按 symbol 排序返回持仓副本。
func (s *Store) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position 按 symbol 查询单个持仓。
func (s *Store) Position(symbol string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Count 返回当前持仓数。
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// AddPosition 记录一笔新开仓并累加当日/历史计数。
func (s *Store) AddPosition(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Symbol == "" {
		return fmt.Errorf("position symbol 不能为空")
	}
	if p.CurrentSL == 0 {
		p.CurrentSL = p.StopLoss
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = s.nowFn().UTC()
	}
	_, existed := s.positions[p.Symbol]
	s.positions[p.Symbol] = &p
	if err := s.db.Save(&p).Error; err != nil {
		return err
	}
	if !existed {
		s.state.TradesToday++
		s.state.TotalTrades++
	}
	return s.saveState()
}

// putPosition 写入持仓但不动交易计数，对账收编用。
func (s *Store) putPosition(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Symbol == "" {
		return fmt.Errorf("position symbol 不能为空")
	}
	s.positions[p.Symbol] = &p
	return s.db.Save(&p).Error
}

// RemovePosition 把已结束的仓位移出账本并计入盈亏统计。
// pnl 为 0 表示平仓发生在视野之外、无法归因。
func (s *Store) RemovePosition(symbol string, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[symbol]; !ok {
		return nil
	}
	delete(s.positions, symbol)
	if err := s.db.Delete(&Position{}, "symbol = ?", symbol).Error; err != nil {
		return err
	}
	s.state.DailyPnL += pnl
	s.state.TotalPnL += pnl
	switch {
	case pnl > 0:
		s.state.TotalWins++
	case pnl < 0:
		s.state.TotalLosses++
	}
	return s.saveState()
}

// UpdateCurrentSL 落盘追踪止损的新位置。
func (s *Store) UpdateCurrentSL(symbol string, newSL float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return fmt.Errorf("未跟踪的持仓: %s", symbol)
	}
	p.CurrentSL = newSL
	return s.db.Save(p).Error
}

// MarkCycle 记录最近一轮完成时间。
func (s *Store) MarkCycle(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastCycleAt = t.UTC()
	return s.saveState()
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// saveState 调用方必须持有写锁。
func (s *Store) saveState() error {
	s.state.ID = stateRowID
	return s.db.Save(&s.state).Error
}
