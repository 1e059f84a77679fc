package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"shortbot/internal/gateway/exchange"
	"shortbot/internal/logger"
)

// newClientOrderID 生成可追溯的自定义订单号。
func newClientOrderID() string {
	return "sb-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// ensureLeverage 每个合约只设置一次杠杆，重复设置浪费配额。
func (c *Client) ensureLeverage(ctx context.Context, symbol string) error {
	c.leverageMu.Lock()
	done := c.leveraged[symbol]
	c.leverageMu.Unlock()
	if done {
		return nil
	}
	c.track()
	_, err := c.api.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(c.cfg.Leverage).
		Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "No need to change") {
		return fmt.Errorf("set leverage %s: %w", symbol, err)
	}
	c.track()
	if err := c.api.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginTypeIsolated).
		Do(ctx); err != nil {
		// 已是逐仓或联合保证金账户都不算错误。
		if !strings.Contains(err.Error(), "No need to change") &&
			!strings.Contains(err.Error(), "-4168") {
			return fmt.Errorf("set margin type %s: %w", symbol, err)
		}
	}
	c.leverageMu.Lock()
	c.leveraged[symbol] = true
	c.leverageMu.Unlock()
	return nil
}

// OpenShort 市价开空，成交后立刻挂止损/止盈计划委托。
// 计划委托失败只告警：仓位已经存在，留给对账回补。
func (c *Client) OpenShort(ctx context.Context, symbol string, marginUSD, stopLoss, takeProfit float64) (exchange.PlacedPosition, error) {
	var placed exchange.PlacedPosition
	if marginUSD <= 0 {
		return placed, fmt.Errorf("margin must be positive, got %.2f", marginUSD)
	}
	if err := c.ensureLeverage(ctx, symbol); err != nil {
		return placed, err
	}

	ticker, err := c.Ticker(ctx, symbol)
	if err != nil {
		return placed, err
	}
	if ticker.Last <= 0 {
		return placed, fmt.Errorf("no usable price for %s", symbol)
	}
	leverage := float64(c.cfg.Leverage)
	qty := marginUSD * leverage / ticker.Last
	qtyStr := c.formatQuantity(symbol, qty)
	if parseFloat(qtyStr) <= 0 {
		return placed, fmt.Errorf("quantity %.10f rounds to zero for %s", qty, symbol)
	}

	// 先清掉旧的计划委托，避免新仓位挂着前一笔的止损。
	c.track()
	if err := c.api.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		logger.Warnf("清理 %s 旧委托失败: %v", symbol, err)
	}

	clientID := newClientOrderID()
	c.track()
	order, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideTypeSell).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return placed, fmt.Errorf("open short %s: %w", symbol, err)
	}

	entry := parseFloat(order.AvgPrice)
	if entry <= 0 {
		entry = ticker.Last
	}
	logger.Infof("开空成功 %s qty=%s entry=%.8f order=%d", symbol, qtyStr, entry, order.OrderID)

	if err := c.placeStopMarket(ctx, symbol, futures.OrderTypeStopMarket, stopLoss); err != nil {
		logger.Warnf("挂止损失败 %s: %v (仓位已开)", symbol, err)
	}
	if err := c.placeStopMarket(ctx, symbol, futures.OrderTypeTakeProfitMarket, takeProfit); err != nil {
		logger.Warnf("挂止盈失败 %s: %v (仓位已开)", symbol, err)
	}

	return exchange.PlacedPosition{
		OrderID:    clientID,
		Symbol:     symbol,
		Side:       "short",
		EntryPrice: entry,
		Amount:     parseFloat(qtyStr),
		MarginUSD:  marginUSD,
		Leverage:   leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// placeStopMarket 挂平仓方向的触发市价单，价格为 0 时跳过。
func (c *Client) placeStopMarket(ctx context.Context, symbol string, orderType futures.OrderType, price float64) error {
	if price <= 0 {
		return nil
	}
	c.track()
	_, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideTypeBuy).
		Type(orderType).
		StopPrice(c.formatPrice(symbol, price)).
		WorkingType(futures.WorkingTypeContractPrice).
		ClosePosition(true).
		Do(ctx)
	return err
}

// UpdateStopLoss 撤掉旧止损再挂新的。两步之间没有止损保护，
// 所以先挂新单失败时旧单已不在，必须让调用方知道。
func (c *Client) UpdateStopLoss(ctx context.Context, symbol string, newStop float64) error {
	if newStop <= 0 {
		return fmt.Errorf("stop price must be positive")
	}
	c.track()
	orders, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return fmt.Errorf("list open orders %s: %w", symbol, err)
	}
	for _, o := range orders {
		if o == nil || o.Type != futures.OrderTypeStopMarket {
			continue
		}
		c.track()
		if _, err := c.api.NewCancelOrderService().
			Symbol(symbol).
			OrderID(o.OrderID).
			Do(ctx); err != nil {
			return fmt.Errorf("cancel old stop %s: %w", symbol, err)
		}
	}
	if err := c.placeStopMarket(ctx, symbol, futures.OrderTypeStopMarket, newStop); err != nil {
		return fmt.Errorf("place new stop %s: %w", symbol, err)
	}
	logger.Infof("止损更新 %s -> %.8f", symbol, newStop)
	return nil
}

// PlanPrices 读取挂着的止损/止盈触发价，没有对应委托时为 0。
func (c *Client) PlanPrices(ctx context.Context, symbol string) (exchange.PlanPrices, error) {
	c.track()
	orders, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.PlanPrices{}, fmt.Errorf("list open orders %s: %w", symbol, err)
	}
	var out exchange.PlanPrices
	for _, o := range orders {
		if o == nil {
			continue
		}
		switch o.Type {
		case futures.OrderTypeStopMarket:
			out.StopLoss = parseFloat(o.StopPrice)
		case futures.OrderTypeTakeProfitMarket:
			out.TakeProfit = parseFloat(o.StopPrice)
		}
	}
	return out, nil
}
