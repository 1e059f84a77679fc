package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验；致命问题直接返回错误，进程不会进入循环。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(c.App.DryRun); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Scan.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	if a.CycleMinutes <= 0 {
		return fmt.Errorf("app.cycle_minutes must be > 0")
	}
	return nil
}

func (e *ExchangeConfig) validate(dryRun bool) error {
	// 空跑模式不真正下单，可以没有密钥。
	if dryRun {
		return nil
	}
	if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
		return fmt.Errorf("exchange.api_key / exchange.api_secret are required outside dry-run mode")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.PositionSizePct > 100 {
		return fmt.Errorf("risk.position_size_pct cannot exceed 100")
	}
	return nil
}

func (s *ScanConfig) validate() error {
	name := strings.ToLower(strings.TrimSpace(s.Strategy))
	switch name {
	case "", "classic", "volume":
	default:
		return fmt.Errorf("scan.signal_strategy must be one of classic|volume, got %q", s.Strategy)
	}
	if s.CandleLimit < 30 {
		return fmt.Errorf("scan.candle_limit must be >= 30 (indicators need history)")
	}
	return nil
}
