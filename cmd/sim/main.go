package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"strategy-engine-go/gateway"
	"strategy-engine-go/internal/sched"
	"strategy-engine-go/leg"
	"strategy-engine-go/strategy"
)

// 一个极简的本地模拟：随机游走生成价格并自动撮合挂单，
// 驱动 Grid 与 TWAP 策略跑完整个生命周期。仅用于演示，不连接真实交易所。
func main() {
	symbol := flag.String("symbol", "BTCUSDT", "trading symbol")
	startPrice := flag.Float64("price", 30000, "initial mid price")
	ticks := flag.Int("ticks", 200, "number of random ticks to simulate")
	tickMs := flag.Int("tickMs", 20, "wall-clock interval between ticks in ms")
	gridLower := flag.Float64("gridLower", 29000, "grid lower bound")
	gridUpper := flag.Float64("gridUpper", 31000, "grid upper bound")
	gridLevels := flag.Int("gridLevels", 5, "grid level count")
	gridQty := flag.Float64("gridQty", 0.01, "grid quantity per level")
	twapQty := flag.Float64("twapQty", 0.3, "twap total quantity")
	twapChunks := flag.Int("twapChunks", 3, "twap chunk count")
	flag.Parse()

	gw := newSimGateway(*symbol, *startPrice)
	sink := func(event string, fields map[string]interface{}) {
		parts := make([]string, 0, len(fields))
		for k, v := range fields {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		fmt.Printf("[event] %-20s %s\n", event, strings.Join(parts, " "))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := leg.NewTracker(gw, nil, leg.TrackerConfig{
		PollInterval: 10 * time.Millisecond,
		MaxFailures:  5,
	}, sink)
	tracker.Start(ctx)
	defer tracker.Stop()

	coord := strategy.NewCoordinator(strategy.Env{
		Gateway: gw,
		Tracker: tracker,
		Sched:   sched.Real(),
		Sink:    sink,
	})

	gridID, err := coord.StartGrid(ctx, strategy.GridParams{
		ID:               "sim-grid",
		Symbol:           *symbol,
		LowerPrice:       *gridLower,
		UpperPrice:       *gridUpper,
		Levels:           *gridLevels,
		QuantityPerLevel: *gridQty,
	})
	if err != nil {
		fmt.Printf("grid start failed: %v\n", err)
		return
	}
	twapID, err := coord.StartTWAP(ctx, strategy.TWAPParams{
		ID:            "sim-twap",
		Symbol:        *symbol,
		Side:          gateway.SideBuy,
		TotalQuantity: *twapQty,
		Duration:      time.Duration(*ticks**tickMs/2) * time.Millisecond,
		Intervals:     *twapChunks,
	})
	if err != nil {
		fmt.Printf("twap start failed: %v\n", err)
	}
	ocoID, err := coord.StartOCO(ctx, strategy.OCOParams{
		ID:              "sim-oco",
		Symbol:          *symbol,
		Side:            gateway.SideSell,
		Quantity:        *gridQty,
		TakeProfitPrice: *startPrice * 1.01,
		StopLossPrice:   *startPrice * 0.99,
	})
	if err != nil {
		fmt.Printf("oco start failed: %v\n", err)
	}

	rand.Seed(time.Now().UnixNano())
	for i := 0; i < *ticks; i++ {
		gw.tick()
		time.Sleep(time.Duration(*tickMs) * time.Millisecond)
	}

	for _, id := range []string{gridID, twapID, ocoID} {
		if id == "" {
			continue
		}
		_ = coord.Cancel(id)
	}
	coord.Shutdown()

	for _, snap := range coord.List() {
		fmt.Printf("strategy %s kind=%s state=%s degraded=%v\n", snap.ID, snap.Kind, snap.State, snap.Degraded)
	}
	fmt.Printf("total orders placed: %d, final price: %.2f\n", gw.placed, gw.price)
}

// simGateway 随机游走价格并自动撮合穿价挂单。
type simGateway struct {
	mu     sync.Mutex
	symbol string
	price  float64
	seq    int
	placed int
	orders map[string]*gateway.OrderSnapshot
	specs  map[string]gateway.PlaceRequest
}

func newSimGateway(symbol string, price float64) *simGateway {
	return &simGateway{
		symbol: symbol,
		price:  price,
		orders: make(map[string]*gateway.OrderSnapshot),
		specs:  make(map[string]gateway.PlaceRequest),
	}
}

func (g *simGateway) tick() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.price *= 1 + rand.NormFloat64()*0.002
	for id, snap := range g.orders {
		if snap.Status.IsTerminal() {
			continue
		}
		req := g.specs[id]
		var crossed bool
		switch req.Type {
		case gateway.TypeMarket:
			crossed = true
		case gateway.TypeStopLimit, gateway.TypeStopMarket:
			// 止损单：卖单价格跌破触发价、买单价格突破触发价成交。
			crossed = (req.Side == gateway.SideSell && g.price <= req.StopPrice) ||
				(req.Side == gateway.SideBuy && g.price >= req.StopPrice)
		default:
			crossed = (req.Side == gateway.SideBuy && g.price <= req.Price) ||
				(req.Side == gateway.SideSell && g.price >= req.Price)
		}
		if crossed {
			snap.Status = gateway.OrderFilled
			snap.FilledQty = req.Quantity
			snap.AvgPrice = req.Price
			if req.Price == 0 {
				snap.AvgPrice = g.price
			}
		}
	}
}

func (g *simGateway) Place(ctx context.Context, req gateway.PlaceRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.placed++
	id := fmt.Sprintf("S%06d", g.seq)
	g.orders[id] = &gateway.OrderSnapshot{OrderID: id, Status: gateway.OrderNew}
	g.specs[id] = req
	return id, nil
}

func (g *simGateway) Cancel(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.orders[orderID]
	if !ok {
		return gateway.ErrUnknownOrder
	}
	if snap.Status.IsTerminal() {
		return gateway.ErrAlreadyTerminal
	}
	snap.Status = gateway.OrderCanceled
	return nil
}

func (g *simGateway) Status(ctx context.Context, symbol, orderID string) (gateway.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.orders[orderID]
	if !ok {
		return gateway.OrderSnapshot{}, gateway.ErrUnknownOrder
	}
	return *snap, nil
}

func (g *simGateway) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.price, nil
}
