package gateway

import "context"

// Side 交易方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向（网格翻转使用）。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型。STOP 为止损限价，STOP_MARKET 为止损市价。
type OrderType string

const (
	TypeLimit      OrderType = "LIMIT"
	TypeMarket     OrderType = "MARKET"
	TypeStopLimit  OrderType = "STOP"
	TypeStopMarket OrderType = "STOP_MARKET"
)

// OrderStatus 交易所侧订单状态（Binance 合约语义）。
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// IsTerminal 判断交易所状态是否终态。
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// PlaceRequest 下单请求。Price/StopPrice 按类型选用：
// LIMIT 用 Price，STOP 用两者，STOP_MARKET 只用 StopPrice，MARKET 都不用。
type PlaceRequest struct {
	Symbol    string
	Side      Side
	Type      OrderType
	Quantity  float64
	Price     float64
	StopPrice float64
	ClientID  string
}

// OrderSnapshot 查询返回的订单快照。
type OrderSnapshot struct {
	OrderID   string
	Status    OrderStatus
	FilledQty float64
	AvgPrice  float64
}

// ExchangeGateway 交易所网关抽象：下单、撤单、查单、取价。
// 核心只依赖该接口；真实实现见 BinanceGateway，测试用 fake 注入。
// 实现必须可被多个策略并发调用。
type ExchangeGateway interface {
	Place(ctx context.Context, req PlaceRequest) (string, error)
	Cancel(ctx context.Context, symbol, orderID string) error
	Status(ctx context.Context, symbol, orderID string) (OrderSnapshot, error)
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}
