package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strategy-engine-go/gateway"
)

// FakeGateway 模拟交易所网关（用于集成测试）。
// 确定性：成交/拒单/查询失败全部由测试显式注入，没有随机行为。
type FakeGateway struct {
	mu sync.RWMutex

	orders map[string]*FakeOrder
	prices map[string]float64
	nextID int

	// 故障注入
	placeErrs   []error          // 依次消耗，nil 表示该次成功
	statusFails map[string]int   // orderID -> 剩余失败次数
	priceErr    error

	// 统计
	placeCount  int
	cancelCount int
	statusCount int
}

// FakeOrder 模拟订单
type FakeOrder struct {
	OrderID    string
	ClientID   string
	Symbol     string
	Side       gateway.Side
	Type       gateway.OrderType
	Price      float64
	StopPrice  float64
	Quantity   float64
	Status     gateway.OrderStatus
	FilledQty  float64
	AvgPrice   float64
	UpdateTime time.Time
}

// NewFakeGateway 创建 FakeGateway
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		orders:      make(map[string]*FakeOrder),
		prices:      make(map[string]float64),
		statusFails: make(map[string]int),
	}
}

// SetPrice 设置某交易对的当前市场价
func (f *FakeGateway) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

// SetPriceError 让 CurrentPrice 返回指定错误（nil 恢复正常）
func (f *FakeGateway) SetPriceError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceErr = err
}

// QueuePlaceError 注入下一批下单结果：nil 表示成功，非 nil 表示该次失败
func (f *FakeGateway) QueuePlaceError(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeErrs = append(f.placeErrs, errs...)
}

// FailStatus 让指定订单接下来 n 次状态查询失败
func (f *FakeGateway) FailStatus(orderID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusFails[orderID] = n
}

// Place 下单（实现 gateway.ExchangeGateway 接口）
func (f *FakeGateway) Place(ctx context.Context, req gateway.PlaceRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.placeCount++
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}

	f.nextID++
	orderID := fmt.Sprintf("F%06d", f.nextID)
	f.orders[orderID] = &FakeOrder{
		OrderID:    orderID,
		ClientID:   req.ClientID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		Quantity:   req.Quantity,
		Status:     gateway.OrderNew,
		UpdateTime: time.Now(),
	}
	return orderID, nil
}

// Cancel 撤单（实现 gateway.ExchangeGateway 接口）
func (f *FakeGateway) Cancel(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelCount++
	o, ok := f.orders[orderID]
	if !ok {
		return gateway.ErrUnknownOrder
	}
	if o.Status.IsTerminal() {
		return gateway.ErrAlreadyTerminal
	}
	o.Status = gateway.OrderCanceled
	o.UpdateTime = time.Now()
	return nil
}

// Status 查询订单状态（实现 gateway.ExchangeGateway 接口）
func (f *FakeGateway) Status(ctx context.Context, symbol, orderID string) (gateway.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.statusCount++
	if n := f.statusFails[orderID]; n > 0 {
		f.statusFails[orderID] = n - 1
		return gateway.OrderSnapshot{}, fmt.Errorf("simulated status query failure for %s", orderID)
	}
	o, ok := f.orders[orderID]
	if !ok {
		return gateway.OrderSnapshot{}, gateway.ErrUnknownOrder
	}
	return gateway.OrderSnapshot{
		OrderID:   o.OrderID,
		Status:    o.Status,
		FilledQty: o.FilledQty,
		AvgPrice:  o.AvgPrice,
	}, nil
}

// CurrentPrice 查询当前市场价（实现 gateway.ExchangeGateway 接口）
func (f *FakeGateway) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	p, ok := f.prices[symbol]
	if !ok {
		return 0, gateway.ErrPriceUnavailable
	}
	return p, nil
}

// SimulateFill 把订单推进指定成交量；达到总量即 FILLED。
func (f *FakeGateway) SimulateFill(orderID string, qty, price float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if o.Status != gateway.OrderNew && o.Status != gateway.OrderPartiallyFilled {
		return fmt.Errorf("cannot fill order in %s state", o.Status)
	}
	prevNotional := o.FilledQty * o.AvgPrice
	o.FilledQty += qty
	if o.FilledQty >= o.Quantity {
		o.FilledQty = o.Quantity
		o.Status = gateway.OrderFilled
	} else {
		o.Status = gateway.OrderPartiallyFilled
	}
	if o.FilledQty > 0 {
		o.AvgPrice = (prevNotional + qty*price) / o.FilledQty
	}
	o.UpdateTime = time.Now()
	return nil
}

// SimulateFullFill 一次性全部成交
func (f *FakeGateway) SimulateFullFill(orderID string, price float64) error {
	f.mu.RLock()
	o, ok := f.orders[orderID]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	return f.SimulateFill(orderID, o.Quantity, price)
}

// Order 返回订单副本（测试断言用）
func (f *FakeGateway) Order(orderID string) (FakeOrder, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	o, ok := f.orders[orderID]
	if !ok {
		return FakeOrder{}, false
	}
	return *o, true
}

// OrderByClientID 通过客户端 ID 查找订单
func (f *FakeGateway) OrderByClientID(clientID string) (FakeOrder, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, o := range f.orders {
		if o.ClientID == clientID {
			return *o, true
		}
	}
	return FakeOrder{}, false
}

// OpenOrders 返回指定交易对的全部非终态订单
func (f *FakeGateway) OpenOrders(symbol string) []FakeOrder {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []FakeOrder
	for _, o := range f.orders {
		if (symbol == "" || o.Symbol == symbol) && !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

// Statistics 获取调用统计
func (f *FakeGateway) Statistics() map[string]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return map[string]int{
		"place_count":  f.placeCount,
		"cancel_count": f.cancelCount,
		"status_count": f.statusCount,
		"total_orders": len(f.orders),
	}
}

// Reset 清空全部状态
func (f *FakeGateway) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = make(map[string]*FakeOrder)
	f.statusFails = make(map[string]int)
	f.placeErrs = nil
	f.placeCount = 0
	f.cancelCount = 0
	f.statusCount = 0
	f.nextID = 0
}
