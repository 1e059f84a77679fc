package config

import "strings"

// Config 是 shortbot 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Risk     RiskConfig     `toml:"risk"`
	Scan     ScanConfig     `toml:"scan"`
	Report   ReportConfig   `toml:"report"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	LogPath      string `toml:"log_path"`
	HTTPAddr     string `toml:"http_addr"`
	StatePath    string `toml:"state_path"`
	CycleMinutes int    `toml:"cycle_minutes"`
	DryRun       bool   `toml:"dry_run"`
}

// ExchangeConfig 描述交易所访问方式与下单参数。
type ExchangeConfig struct {
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	RESTBaseURL    string `toml:"rest_base_url"`
	Demo           bool   `toml:"demo"`
	Leverage       int    `toml:"leverage"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// RiskConfig 集中所有风控阈值；下游组件只接收自己需要的字段。
type RiskConfig struct {
	DailyLossLimitPct   float64 `toml:"daily_loss_limit_pct"`
	BTCBullLimitPct     float64 `toml:"btc_bull_limit_pct"`
	MaxPositions        int     `toml:"max_positions"`
	PositionSizePct     float64 `toml:"position_size_pct"`
	MinStopPct          float64 `toml:"min_stop_pct"`
	MinTPPct            float64 `toml:"min_tp_pct"`
	TrailingStartPct    float64 `toml:"trailing_start_pct"`
	TrailingDistancePct float64 `toml:"trailing_distance_pct"`
	NewsBlackoutMinutes int     `toml:"news_blackout_minutes"`
	NewsCalendarPath    string  `toml:"news_calendar_path"`
	OISpikePct          float64 `toml:"oi_spike_pct"`
	MarketVolumeSpikeX  float64 `toml:"market_volume_spike_multiplier"`
	// OI/成交量检查每轮都会执行并输出，但只有开关打开时才拦截开仓。
	GateOnOISpike     bool `toml:"gate_on_oi_spike"`
	GateOnVolumeSpike bool `toml:"gate_on_volume_spike"`
}

// ScanConfig 控制扫描范围与策略选择。
type ScanConfig struct {
	Timeframe     string  `toml:"timeframe"`
	CandleLimit   int     `toml:"candle_limit"`
	MinVolumeUSD  float64 `toml:"min_volume_usd"`
	MaxATRPct     float64 `toml:"max_atr_pct"`
	MinSignals    int     `toml:"min_signals"`
	Strategy      string  `toml:"signal_strategy"` // "classic" | "volume"
	TopN          int     `toml:"top_n"`
	MaxSymbols    int     `toml:"max_symbols"`
	SymbolDelayMs int     `toml:"symbol_delay_ms"`
}

type ReportConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// ActiveStrategy 返回归一化后的策略名，未知值回退到 volume。
func (s ScanConfig) ActiveStrategy() string {
	name := strings.ToLower(strings.TrimSpace(s.Strategy))
	switch name {
	case "classic", "volume":
		return name
	default:
		return "volume"
	}
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
