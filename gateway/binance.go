package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// BinanceGateway 基于 go-binance 合约客户端的 ExchangeGateway 实现。
// 限流与价格缓存可选注入；PriceFeed 命中时 CurrentPrice 不走 REST。
type BinanceGateway struct {
	client  *futures.Client
	limiter RateLimiter
	feed    *PriceFeed
}

// NewBinanceGateway 创建网关。limiter 为 nil 时不限流。
func NewBinanceGateway(apiKey, secret string, limiter RateLimiter) *BinanceGateway {
	if limiter == nil {
		limiter = NopLimiter{}
	}
	return &BinanceGateway{
		client:  futures.NewClient(apiKey, secret),
		limiter: limiter,
	}
}

// SetBaseURL 覆盖 REST 地址（testnet / httptest）。
func (g *BinanceGateway) SetBaseURL(url string) {
	g.client.BaseURL = url
}

// SetPriceFeed 注入 WS 价格缓存。
func (g *BinanceGateway) SetPriceFeed(feed *PriceFeed) {
	g.feed = feed
}

// Place 下单并返回交易所 orderId。
func (g *BinanceGateway) Place(ctx context.Context, req PlaceRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	svc := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(formatFloat(req.Quantity))

	switch req.Type {
	case TypeLimit:
		svc = svc.Price(formatFloat(req.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	case TypeStopLimit:
		svc = svc.Price(formatFloat(req.Price)).
			StopPrice(formatFloat(req.StopPrice)).
			TimeInForce(futures.TimeInForceTypeGTC)
	case TypeStopMarket:
		svc = svc.StopPrice(formatFloat(req.StopPrice))
	case TypeMarket:
		// 市价单无价格参数。
	default:
		return "", fmt.Errorf("unsupported order type %s", req.Type)
	}
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return "", classifyError(err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// Cancel 撤单。订单已终态时返回 ErrAlreadyTerminal。
func (g *BinanceGateway) Cancel(ctx context.Context, symbol, orderID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad order id %q: %w", orderID, err)
	}
	if _, err := g.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// Status 查询订单状态与已成交数量。
func (g *BinanceGateway) Status(ctx context.Context, symbol, orderID string) (OrderSnapshot, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return OrderSnapshot{}, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return OrderSnapshot{}, fmt.Errorf("bad order id %q: %w", orderID, err)
	}
	o, err := g.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return OrderSnapshot{}, classifyError(err)
	}
	filled, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	return OrderSnapshot{
		OrderID:   orderID,
		Status:    OrderStatus(o.Status),
		FilledQty: filled,
		AvgPrice:  avg,
	}, nil
}

// CurrentPrice 优先取 WS 缓存，缓存不可用时回退 REST。
func (g *BinanceGateway) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if g.feed != nil {
		if p, ok := g.feed.Last(symbol); ok {
			return p, nil
		}
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classifyError(err)
	}
	if len(prices) == 0 {
		return 0, ErrPriceUnavailable
	}
	p, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", prices[0].Price, err)
	}
	return p, nil
}

// Binance 错误码参考：-2011 撤单失败（通常已终态），-2013 订单不存在。
const (
	codeCancelRejected = -2011
	codeNoSuchOrder    = -2013
)

func classifyError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case codeCancelRejected:
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, apiErr.Message)
	case codeNoSuchOrder:
		return fmt.Errorf("%w: %s", ErrUnknownOrder, apiErr.Message)
	default:
		return &RejectionError{Code: int(apiErr.Code), Reason: apiErr.Message}
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
