// Package metrics 暴露 Prometheus 指标，/metrics 由 HTTP 服务挂载。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CyclesTotal - 已完成的扫描轮数（按结果区分）
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shortbot",
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Completed trading cycles by outcome (ok|blocked|error)",
	},
	[]string{"outcome"},
)

// CycleDuration - 单轮耗时
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "shortbot",
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of a full trading cycle",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
)

// APICalls - 每轮交易所请求数
var APICalls = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "shortbot",
		Subsystem: "exchange",
		Name:      "api_calls_total",
		Help:      "REST calls issued to the exchange",
	},
)

// TradesOpened - 成功开仓数
var TradesOpened = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "shortbot",
		Subsystem: "trading",
		Name:      "trades_opened_total",
		Help:      "Short positions opened",
	},
)

// TradeFailures - 下单失败数（按阶段区分）
var TradeFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shortbot",
		Subsystem: "trading",
		Name:      "trade_failures_total",
		Help:      "Order placement failures by stage",
	},
	[]string{"stage"},
)

// RiskBlocks - 风控拦截数（按检查项区分）
var RiskBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "shortbot",
		Subsystem: "risk",
		Name:      "blocks_total",
		Help:      "Cycles blocked by a safety check",
	},
	[]string{"check"},
)

// StopUpdates - 追踪止损移动次数
var StopUpdates = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "shortbot",
		Subsystem: "trading",
		Name:      "stop_updates_total",
		Help:      "Trailing stop tightenings pushed to the exchange",
	},
)
