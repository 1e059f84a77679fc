// Package binance 基于 go-binance SDK 实现 exchange.Client。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"shortbot/internal/config"
	"shortbot/internal/gateway/exchange"
	"shortbot/internal/logger"
	"shortbot/internal/metrics"
)

const defaultHTTPTimeout = 20 * time.Second

// marketInfo 缓存每个合约的数量/价格精度。
type marketInfo struct {
	quantityPrecision int
	pricePrecision    int
}

type Client struct {
	cfg config.ExchangeConfig
	api *futures.Client

	marketsMu sync.RWMutex
	markets   map[string]marketInfo
	symbols   []string

	leverageMu sync.Mutex
	leveraged  map[string]bool // 已设置过杠杆的合约

	apiCalls atomic.Int64
}

var _ exchange.Client = (*Client)(nil)

func New(cfg config.ExchangeConfig) (*Client, error) {
	if cfg.Demo {
		futures.UseTestnet = true
	}
	api := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		api.BaseURL = base
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	api.HTTPClient = &http.Client{Timeout: timeout}

	c := &Client{
		cfg:       cfg,
		api:       api,
		markets:   make(map[string]marketInfo),
		leveraged: make(map[string]bool),
	}
	return c, nil
}

// track 记一次 REST 请求。
func (c *Client) track() {
	c.apiCalls.Add(1)
	metrics.APICalls.Inc()
}

func (c *Client) APICallCount() int { return int(c.apiCalls.Load()) }

func (c *Client) ResetAPICounter() { c.apiCalls.Store(0) }

// ReloadMarkets 拉取交易规则，刷新合约列表与精度缓存。
func (c *Client) ReloadMarkets(ctx context.Context) error {
	c.track()
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("load exchange info: %w", err)
	}
	markets := make(map[string]marketInfo, len(info.Symbols))
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || s.QuoteAsset != "USDT" || s.ContractType != "PERPETUAL" {
			continue
		}
		markets[s.Symbol] = marketInfo{
			quantityPrecision: s.QuantityPrecision,
			pricePrecision:    s.PricePrecision,
		}
		symbols = append(symbols, s.Symbol)
	}
	c.marketsMu.Lock()
	c.markets = markets
	c.symbols = symbols
	c.marketsMu.Unlock()
	logger.Infof("市场元数据刷新完成: %d 个 USDT 永续合约", len(symbols))
	return nil
}

// Symbols 返回缓存的合约列表，为空时先加载。
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	c.marketsMu.RLock()
	cached := c.symbols
	c.marketsMu.RUnlock()
	if len(cached) > 0 {
		out := make([]string, len(cached))
		copy(out, cached)
		return out, nil
	}
	if err := c.ReloadMarkets(ctx); err != nil {
		return nil, err
	}
	c.marketsMu.RLock()
	defer c.marketsMu.RUnlock()
	out := make([]string, len(c.symbols))
	copy(out, c.symbols)
	return out, nil
}

func (c *Client) market(symbol string) (marketInfo, bool) {
	c.marketsMu.RLock()
	defer c.marketsMu.RUnlock()
	m, ok := c.markets[symbol]
	return m, ok
}

// formatQuantity 按合约精度格式化数量，未知合约退化为 3 位。
func (c *Client) formatQuantity(symbol string, qty float64) string {
	precision := 3
	if m, ok := c.market(symbol); ok {
		precision = m.quantityPrecision
	}
	return strconv.FormatFloat(qty, 'f', precision, 64)
}

// formatPrice 按合约精度格式化价格，未知合约退化为 8 位。
func (c *Client) formatPrice(symbol string, price float64) string {
	precision := 8
	if m, ok := c.market(symbol); ok {
		precision = m.pricePrecision
	}
	return strconv.FormatFloat(price, 'f', precision, 64)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
