// Package report 把每轮周期摘要渲染成 HTML 报表落盘。
// 纯展示层：渲染失败只记日志，绝不影响交易周期。
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"shortbot/internal/config"
	"shortbot/internal/engine"
	"shortbot/internal/logger"
)

const (
	latestFileName = "latest.html"
	timeLayout     = "20060102_150405"
)

// balancePoint 是一轮周期结束时的余额采样。
type balancePoint struct {
	At      time.Time
	Balance float64
}

type Writer struct {
	cfg     config.ReportConfig
	nowFn   func() time.Time
	history []balancePoint // 进程生命周期内的余额曲线
}

var _ engine.Reporter = (*Writer)(nil)

func NewWriter(cfg config.ReportConfig) *Writer {
	return &Writer{cfg: cfg, nowFn: time.Now}
}

// Publish 渲染摘要并写入报表目录，同时刷新 latest.html。
func (w *Writer) Publish(summary engine.CycleSummary) error {
	if !w.cfg.Enabled {
		return nil
	}
	if summary.BalanceKnown {
		w.history = append(w.history, balancePoint{At: summary.FinishedAt, Balance: summary.Balance})
	}
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("shortbot cycle %s", summary.FinishedAt.Format(time.RFC3339))
	page.AddCharts(w.balanceChart(summary), w.candidateChart(summary), w.checksChart(summary))

	name := fmt.Sprintf("cycle_%s.html", w.nowFn().UTC().Format(timeLayout))
	path := filepath.Join(w.cfg.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	// latest.html 永远指向最近一轮，方便 HTTP 层直接回源。
	latest := filepath.Join(w.cfg.Dir, latestFileName)
	if lf, err := os.Create(latest); err == nil {
		defer lf.Close()
		if err := page.Render(lf); err != nil {
			logger.Warnf("刷新 latest 报表失败: %v", err)
		}
	}
	logger.Infof("周期报表已写入 %s", path)
	return nil
}

// balanceChart 余额历史折线图，标题里带胜率与盈亏汇总。
func (w *Writer) balanceChart(summary engine.CycleSummary) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Balance history",
			Subtitle: fmt.Sprintf("balance %.2f · win rate %.1f%% · daily P&L %+.2f · total P&L %+.2f · trades today %d",
				summary.Balance, summary.State.WinRate(), summary.State.DailyPnL,
				summary.State.TotalPnL, summary.State.TradesToday),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	times := make([]string, 0, len(w.history))
	values := make([]opts.LineData, 0, len(w.history))
	for _, p := range w.history {
		times = append(times, p.At.Format("15:04"))
		values = append(values, opts.LineData{Value: p.Balance})
	}
	line.SetXAxis(times).AddSeries("balance", values)
	return line
}

// candidateChart 候选合约的信号强度柱状图，RSI 叠加展示。
func (w *Writer) candidateChart(summary engine.CycleSummary) components.Charter {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Scan candidates",
			Subtitle: fmt.Sprintf("outcome: %s · %s", summary.Outcome, summary.Detail),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	symbols := make([]string, 0, len(summary.Candidates))
	counts := make([]opts.BarData, 0, len(summary.Candidates))
	rsi := make([]opts.BarData, 0, len(summary.Candidates))
	for _, c := range summary.Candidates {
		symbols = append(symbols, c.Symbol)
		counts = append(counts, opts.BarData{Value: c.Active.Count})
		rsi = append(rsi, opts.BarData{Value: fmt.Sprintf("%.1f", c.Active.RSI)})
	}
	bar.SetXAxis(symbols).
		AddSeries("signals", counts).
		AddSeries("RSI", rsi)
	return bar
}

// checksChart 安全检查通过情况。
func (w *Writer) checksChart(summary engine.CycleSummary) components.Charter {
	bar := charts.NewBar()
	verdict := "SAFE"
	if !summary.Safe {
		verdict = "UNSAFE"
	}
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Safety checks: " + verdict,
			Subtitle: fmt.Sprintf("balance %.2f · positions %d · api calls %d", summary.Balance, len(summary.Positions), summary.APICalls),
		}),
	)
	names := make([]string, 0, len(summary.Checks))
	values := make([]opts.BarData, 0, len(summary.Checks))
	for _, check := range summary.Checks {
		names = append(names, check.Name)
		v := 0
		if check.Passed {
			v = 1
		}
		values = append(values, opts.BarData{Value: v, Name: check.Reason})
	}
	bar.SetXAxis(names).AddSeries("passed", values)
	return bar
}
