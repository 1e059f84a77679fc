// Package app 负责把配置、交易所、账本、风控、引擎和外围服务组装起来。
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"shortbot/internal/config"
	"shortbot/internal/engine"
	"shortbot/internal/gateway/binance"
	"shortbot/internal/logger"
	"shortbot/internal/notifier"
	"shortbot/internal/report"
	"shortbot/internal/risk"
	"shortbot/internal/scheduler"
	"shortbot/internal/state"
	httpapi "shortbot/internal/transport/http"
)

type App struct {
	cfg      *config.Config
	store    *state.Store
	calendar *config.NewsCalendar
	ctrl     *engine.Controller
	httpSrv  *httpapi.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	ex, err := binance.New(cfg.Exchange)
	if err != nil {
		return nil, err
	}
	store, err := state.NewStore(cfg.App.StatePath)
	if err != nil {
		return nil, err
	}
	store.SetDefaultLeverage(float64(cfg.Exchange.Leverage))
	calendar := config.LoadNewsCalendar(cfg.Risk.NewsCalendarPath)
	gate := risk.NewGate(cfg.Risk, calendar)

	ctrl := engine.NewController(cfg, ex, store, gate, nil)
	httpSrv := httpapi.NewServer(cfg.App.HTTPAddr, ctrl, cfg.Report)

	reporters := []engine.Reporter{report.NewWriter(cfg.Report), httpSrv}

	if cfg.Notify.Telegram.Enabled {
		tg := notifier.NewTelegram(cfg.Notify.Telegram)
		if tg.Configured() {
			reporters = append(reporters, telegramReporter{tg: tg})
		} else {
			logger.Warnf("telegram 已启用但 token/chat_id 不完整, 跳过推送")
		}
	}
	ctrl.SetReporter(multiReporter(reporters))

	return &App{
		cfg:      cfg,
		store:    store,
		calendar: calendar,
		ctrl:     ctrl,
		httpSrv:  httpSrv,
	}, nil
}

// Run 启动 HTTP 服务、日历热加载与周期循环，直到 ctx 取消。
// 退出前关闭账本，保证最后一轮的落盘完整。
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Errorf("关闭状态库失败: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.httpSrv.Start(gctx)
	})
	if err := a.calendar.Watch(gctx); err != nil {
		logger.Warnf("新闻日历监听启动失败: %v", err)
	}
	g.Go(func() error {
		interval := time.Duration(a.cfg.App.CycleMinutes) * time.Minute
		logger.InfoBlock(fmt.Sprintf(
			"周期循环启动\n间隔: %s\n策略: %s\ndry_run: %v\n最大持仓: %d\nHTTP: %s",
			interval, a.cfg.Scan.ActiveStrategy(), a.cfg.App.DryRun,
			a.cfg.Risk.MaxPositions, a.cfg.App.HTTPAddr))
		scheduler.Run(gctx, interval, func(cctx context.Context) {
			a.ctrl.RunCycle(cctx)
		})
		return nil
	})
	return g.Wait()
}

// multiReporter 把一轮摘要扇出给全部消费者，单个失败不影响其他。
type multiReporter []engine.Reporter

func (m multiReporter) Publish(summary engine.CycleSummary) error {
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Publish(summary); err != nil {
			logger.Warnf("摘要发布失败: %v", err)
		}
	}
	return nil
}

// telegramReporter 只推送有动作的周期，避免刷屏。
type telegramReporter struct {
	tg *notifier.Telegram
}

func (t telegramReporter) Publish(summary engine.CycleSummary) error {
	if !notifier.Notable(summary) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return t.tg.SendText(ctx, notifier.FormatCycle(summary))
}
