package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "logs/shortbot.log"
	defaultAppHTTPAddr     = ":8432"
	defaultAppStatePath    = "data/state.db"
	defaultAppCycleMinutes = 15

	defaultExchangeREST    = "https://fapi.binance.com"
	defaultExchangeLev     = 10
	defaultExchangeTimeout = 15

	defaultRiskDailyLoss     = 5.0
	defaultRiskBTCBull       = 5.0
	defaultRiskMaxPositions  = 5
	defaultRiskPositionSize  = 50.0
	defaultRiskMinStop       = 2.0
	defaultRiskMinTP         = 5.0
	defaultRiskTrailStart    = 3.0
	defaultRiskTrailDistance = 2.0
	defaultRiskNewsBlackout  = 30
	defaultRiskOISpike       = 10.0
	defaultRiskVolumeSpikeX  = 3.0

	defaultScanTimeframe   = "15m"
	defaultScanCandleLimit = 100
	defaultScanMinVolume   = 5_000_000
	defaultScanMaxATR      = 15.0
	defaultScanMinSignals  = 3
	defaultScanStrategy    = "volume"
	defaultScanTopN        = 20
	defaultScanMaxSymbols  = 100
	defaultScanSymbolDelay = 100

	defaultReportDir = "reports"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Scan.applyDefaults(keys)
	c.Report.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.state_path", &a.StatePath, defaultAppStatePath),
		fieldDefault{
			key:   "app.cycle_minutes",
			need:  func() bool { return a.CycleMinutes <= 0 },
			apply: func() { a.CycleMinutes = defaultAppCycleMinutes },
		},
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, defaultExchangeREST),
		fieldDefault{
			key:   "exchange.leverage",
			need:  func() bool { return e.Leverage <= 0 },
			apply: func() { e.Leverage = defaultExchangeLev },
		},
		fieldDefault{
			key:   "exchange.timeout_seconds",
			need:  func() bool { return e.TimeoutSeconds <= 0 },
			apply: func() { e.TimeoutSeconds = defaultExchangeTimeout },
		},
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.daily_loss_limit_pct",
			need:  func() bool { return r.DailyLossLimitPct <= 0 },
			apply: func() { r.DailyLossLimitPct = defaultRiskDailyLoss },
		},
		fieldDefault{
			key:   "risk.btc_bull_limit_pct",
			need:  func() bool { return r.BTCBullLimitPct <= 0 },
			apply: func() { r.BTCBullLimitPct = defaultRiskBTCBull },
		},
		fieldDefault{
			key:   "risk.max_positions",
			need:  func() bool { return r.MaxPositions <= 0 },
			apply: func() { r.MaxPositions = defaultRiskMaxPositions },
		},
		fieldDefault{
			key:   "risk.position_size_pct",
			need:  func() bool { return r.PositionSizePct <= 0 },
			apply: func() { r.PositionSizePct = defaultRiskPositionSize },
		},
		fieldDefault{
			key:   "risk.min_stop_pct",
			need:  func() bool { return r.MinStopPct <= 0 },
			apply: func() { r.MinStopPct = defaultRiskMinStop },
		},
		fieldDefault{
			key:   "risk.min_tp_pct",
			need:  func() bool { return r.MinTPPct <= 0 },
			apply: func() { r.MinTPPct = defaultRiskMinTP },
		},
		fieldDefault{
			key:   "risk.trailing_start_pct",
			need:  func() bool { return r.TrailingStartPct <= 0 },
			apply: func() { r.TrailingStartPct = defaultRiskTrailStart },
		},
		fieldDefault{
			key:   "risk.trailing_distance_pct",
			need:  func() bool { return r.TrailingDistancePct <= 0 },
			apply: func() { r.TrailingDistancePct = defaultRiskTrailDistance },
		},
		fieldDefault{
			key:   "risk.news_blackout_minutes",
			need:  func() bool { return r.NewsBlackoutMinutes <= 0 },
			apply: func() { r.NewsBlackoutMinutes = defaultRiskNewsBlackout },
		},
		fieldDefault{
			key:   "risk.oi_spike_pct",
			need:  func() bool { return r.OISpikePct <= 0 },
			apply: func() { r.OISpikePct = defaultRiskOISpike },
		},
		fieldDefault{
			key:   "risk.market_volume_spike_multiplier",
			need:  func() bool { return r.MarketVolumeSpikeX <= 0 },
			apply: func() { r.MarketVolumeSpikeX = defaultRiskVolumeSpikeX },
		},
	)
}

func (s *ScanConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("scan.timeframe", &s.Timeframe, defaultScanTimeframe),
		stringFieldDefault("scan.signal_strategy", &s.Strategy, defaultScanStrategy),
		fieldDefault{
			key:   "scan.candle_limit",
			need:  func() bool { return s.CandleLimit <= 0 },
			apply: func() { s.CandleLimit = defaultScanCandleLimit },
		},
		fieldDefault{
			key:   "scan.min_volume_usd",
			need:  func() bool { return s.MinVolumeUSD <= 0 },
			apply: func() { s.MinVolumeUSD = defaultScanMinVolume },
		},
		fieldDefault{
			key:   "scan.max_atr_pct",
			need:  func() bool { return s.MaxATRPct <= 0 },
			apply: func() { s.MaxATRPct = defaultScanMaxATR },
		},
		fieldDefault{
			key:   "scan.min_signals",
			need:  func() bool { return s.MinSignals <= 0 },
			apply: func() { s.MinSignals = defaultScanMinSignals },
		},
		fieldDefault{
			key:   "scan.top_n",
			need:  func() bool { return s.TopN <= 0 },
			apply: func() { s.TopN = defaultScanTopN },
		},
		fieldDefault{
			key:   "scan.max_symbols",
			need:  func() bool { return s.MaxSymbols <= 0 },
			apply: func() { s.MaxSymbols = defaultScanMaxSymbols },
		},
		fieldDefault{
			key:   "scan.symbol_delay_ms",
			need:  func() bool { return s.SymbolDelayMs <= 0 },
			apply: func() { s.SymbolDelayMs = defaultScanSymbolDelay },
		},
	)
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("report.dir", &r.Dir, defaultReportDir),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
