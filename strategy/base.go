package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"strategy-engine-go/gateway"
	"strategy-engine-go/leg"
	"strategy-engine-go/metrics"
)

// base 三个策略共享的骨架：快照状态、腿视图、取消请求通道。
// 所有字段只由策略自己的 Run goroutine 写入；快照读取走锁。
type base struct {
	id        string
	kind      Kind
	symbol    string
	createdAt time.Time
	env       Env

	mu       sync.RWMutex
	state    State
	degraded bool
	note     string
	legs     map[string]leg.Leg
	legOrder []string

	changes    chan leg.Change
	cancelReq  chan struct{}
	cancelOnce sync.Once
}

func newBase(id string, kind Kind, symbol string, env Env) base {
	return base{
		id:        id,
		kind:      kind,
		symbol:    symbol,
		createdAt: time.Now().UTC(),
		env:       env,
		state:     StateInitializing,
		legs:      make(map[string]leg.Leg),
		changes:   make(chan leg.Change, changeBufferSize),
		cancelReq: make(chan struct{}),
	}
}

func (b *base) ID() string { return b.id }

func (b *base) Kind() Kind { return b.kind }

// RequestCancel 请求取消；幂等，已终态返回 ErrAlreadyTerminal。
func (b *base) RequestCancel() error {
	b.mu.RLock()
	terminal := b.state.IsTerminal()
	b.mu.RUnlock()
	if terminal {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, b.id)
	}
	b.cancelOnce.Do(func() { close(b.cancelReq) })
	return nil
}

// cancelRequested 供 Run 循环非阻塞检查。
func (b *base) cancelRequested() bool {
	select {
	case <-b.cancelReq:
		return true
	default:
		return false
	}
}

// setState 切换策略状态并上报事件。
func (b *base) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	if prev != s {
		b.env.sink()("strategy_state", map[string]interface{}{
			"strategyId": b.id,
			"kind":       string(b.kind),
			"symbol":     b.symbol,
			"from":       string(prev),
			"to":         string(s),
		})
	}
}

func (b *base) currentState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// setDegraded 标记快照为降级置信度。
func (b *base) setDegraded(note string) {
	b.mu.Lock()
	b.degraded = true
	if note != "" {
		b.note = note
	}
	b.mu.Unlock()
}

// setNote 附加说明（不改变降级标记）。
func (b *base) setNote(note string) {
	b.mu.Lock()
	b.note = note
	b.mu.Unlock()
}

// trackLeg 登记一条腿并纳入本地视图。
func (b *base) trackLeg(l leg.Leg) string {
	id := b.env.Tracker.Attach(l, b.changes)
	tracked, _ := b.env.Tracker.Leg(id)
	b.mu.Lock()
	b.legs[id] = tracked
	b.legOrder = append(b.legOrder, id)
	b.mu.Unlock()
	metrics.LegsPlaced.WithLabelValues(string(b.kind)).Inc()
	return id
}

// applyChange 把事件写入本地视图；重复投递在此自然成为 no-op。
func (b *base) applyChange(ch leg.Change) {
	b.mu.Lock()
	l, ok := b.legs[ch.LegID]
	if ok {
		l.Status = ch.Status
		if ch.FilledQty > l.FilledQty {
			l.FilledQty = ch.FilledQty
		}
		if ch.AvgPrice > 0 {
			l.AvgPrice = ch.AvgPrice
		}
		b.legs[ch.LegID] = l
	}
	b.mu.Unlock()
}

// legView 返回腿副本。
func (b *base) legView(id string) (leg.Leg, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.legs[id]
	return l, ok
}

// detachAll 策略终态后从 Tracker 注销所有腿。
func (b *base) detachAll() {
	b.mu.RLock()
	ids := append([]string(nil), b.legOrder...)
	b.mu.RUnlock()
	for _, id := range ids {
		b.env.Tracker.Detach(id)
	}
}

// snapshotBase 组装公共快照字段。
func (b *base) snapshotBase() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	legs := make([]leg.Leg, 0, len(b.legOrder))
	for _, id := range b.legOrder {
		legs = append(legs, b.legs[id])
	}
	return Snapshot{
		ID:        b.id,
		Kind:      b.kind,
		Symbol:    b.symbol,
		State:     b.state,
		CreatedAt: b.createdAt,
		Degraded:  b.degraded,
		Note:      b.note,
		Legs:      legs,
	}
}

// placeLeg 校验并提交一条腿。校验拒绝与网关拒单都以 error 返回，
// 由调用方按策略语义决定是致命还是降级。
func (b *base) placeLeg(ctx context.Context, l leg.Leg) (leg.Leg, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if b.env.Validator != nil {
		if err := b.env.Validator.Check(l.Symbol, l.Side, l.Quantity, l.Price); err != nil {
			return l, fmt.Errorf("validation %s: %w", l.Role, err)
		}
	}
	orderID, err := b.env.Gateway.Place(ctx, placeRequest(l))
	if err != nil {
		return l, fmt.Errorf("place %s: %w", l.Role, err)
	}
	l.OrderID = orderID
	l.Status = leg.StatusOpen
	b.env.sink()("leg_placed", map[string]interface{}{
		"strategyId": b.id,
		"role":       l.Role,
		"symbol":     l.Symbol,
		"side":       string(l.Side),
		"type":       string(l.Type),
		"price":      l.Price,
		"qty":        l.Quantity,
		"orderId":    orderID,
	})
	return l, nil
}

// placeRequest 把腿折算为网关下单请求。
func placeRequest(l leg.Leg) gateway.PlaceRequest {
	return gateway.PlaceRequest{
		Symbol:    l.Symbol,
		Side:      l.Side,
		Type:      l.Type,
		Quantity:  l.Quantity,
		Price:     l.Price,
		StopPrice: l.StopPrice,
		ClientID:  l.ID,
	}
}

// drainChanges 清空事件通道并应用到视图（状态机做决策前同步视图用）。
func (b *base) drainChanges() []leg.Change {
	var out []leg.Change
	for {
		select {
		case ch := <-b.changes:
			b.applyChange(ch)
			out = append(out, ch)
		default:
			return out
		}
	}
}
