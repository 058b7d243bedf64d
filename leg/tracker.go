package leg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"strategy-engine-go/gateway"
	"strategy-engine-go/internal/sched"
	"strategy-engine-go/metrics"
)

// EventSink 接收组件上报的结构化事件，由上层桥接到日志。
type EventSink func(event string, fields map[string]interface{})

// Change 腿状态变化事件。投递语义为至少一次，
// 消费方按"与上次已应用状态相同则忽略"做幂等处理。
// 消费方长时间不读导致缓冲占满时丢最旧保最新（状态单调，
// 新快照覆盖旧快照是安全的），并上报 leg_change_overflow。
type Change struct {
	LegID     string
	Status    Status
	FilledQty float64
	AvgPrice  float64
}

// TrackerConfig 轮询参数。
type TrackerConfig struct {
	PollInterval time.Duration // 默认 3s
	MaxFailures  int           // 连续失败达到该值后标记 STATUS_UNKNOWN，默认 5
}

// Tracker 维护腿到交易所订单的映射，周期性轮询状态并分发变化事件。
// 轮询循环结构沿用对账器模式：ticker + stop/done 通道 + 单次 PollOnce。
type Tracker struct {
	gw    gateway.ExchangeGateway
	clock sched.Clock
	cfg   TrackerConfig
	sink  EventSink

	mu      sync.Mutex
	entries map[string]*entry

	refreshCh chan struct{}
	stopChan  chan struct{}
	doneChan  chan struct{}
	stopOnce  sync.Once
}

type entry struct {
	leg        Leg
	out        chan Change
	backoff    *sched.Backoff
	nextPollAt time.Time
	failures   int
}

// NewTracker 创建 Tracker。sink 可为 nil。
func NewTracker(gw gateway.ExchangeGateway, clock sched.Clock, cfg TrackerConfig, sink EventSink) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if sink == nil {
		sink = func(string, map[string]interface{}) {}
	}
	if clock == nil {
		clock = sched.Real()
	}
	return &Tracker{
		gw:        gw,
		clock:     clock,
		cfg:       cfg,
		sink:      sink,
		entries:   make(map[string]*entry),
		refreshCh: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start 启动轮询循环。
func (t *Tracker) Start(ctx context.Context) {
	go t.pollLoop(ctx)
}

// Stop 停止轮询并等待循环退出。
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
		<-t.doneChan
	})
}

// Refresh 请求一次立即轮询（非阻塞，合并重复请求）。
func (t *Tracker) Refresh() {
	select {
	case t.refreshCh <- struct{}{}:
	default:
	}
}

func (t *Tracker) pollLoop(ctx context.Context) {
	defer close(t.doneChan)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.PollOnce(ctx)
		case <-t.refreshCh:
			t.PollOnce(ctx)
		}
	}
}

// Attach 登记一条已下单（或待下单）的腿，返回腿 ID。
// out 为该腿所属策略的事件通道；同一策略的所有腿共用一条通道。
func (t *Tracker) Attach(l Leg, out chan Change) string {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		if l.OrderID == "" {
			l.Status = StatusPending
		} else {
			l.Status = StatusOpen
		}
	}
	t.mu.Lock()
	t.entries[l.ID] = &entry{
		leg:     l,
		out:     out,
		backoff: sched.NewBackoff(),
	}
	t.mu.Unlock()
	return l.ID
}

// Detach 移除一条腿（策略终止后调用）。
func (t *Tracker) Detach(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Leg 返回腿的只读副本。
func (t *Tracker) Leg(id string) (Leg, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return Leg{}, false
	}
	return e.leg, true
}

// Cancel 对腿发起撤单，本地标记 CANCEL_PENDING，终态确认依赖后续轮询。
// 交易所报告已终态时触发一次立即刷新，让真实终态尽快回流。
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("leg %s: %w", id, gateway.ErrUnknownOrder)
	}
	l := e.leg
	t.mu.Unlock()

	if IsFinal(l.Status) {
		return nil
	}
	if l.OrderID == "" {
		// 从未到达交易所，直接本地终结。
		t.applyStatus(id, StatusCancelled, l.FilledQty, 0)
		return nil
	}
	err := t.gw.Cancel(ctx, l.Symbol, l.OrderID)
	switch {
	case err == nil:
		t.applyStatus(id, StatusCancelPending, l.FilledQty, 0)
		return nil
	case errors.Is(err, gateway.ErrAlreadyTerminal):
		t.Refresh()
		return nil
	default:
		return err
	}
}

// PollOnce 执行一轮状态快照比对。失败的腿按指数退避推迟下次查询，
// 不阻塞其余腿；连续失败过多标记 STATUS_UNKNOWN 交由策略决策。
func (t *Tracker) PollOnce(ctx context.Context) {
	now := t.clock.Now()

	t.mu.Lock()
	due := make([]string, 0, len(t.entries))
	for id, e := range t.entries {
		if e.leg.OrderID == "" || IsFinal(e.leg.Status) {
			continue
		}
		if now.Before(e.nextPollAt) {
			continue
		}
		due = append(due, id)
	}
	t.mu.Unlock()

	for _, id := range due {
		t.pollLeg(ctx, id, now)
		if ctx.Err() != nil {
			return
		}
	}
}

func (t *Tracker) pollLeg(ctx context.Context, id string, now time.Time) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	symbol, orderID := e.leg.Symbol, e.leg.OrderID
	t.mu.Unlock()

	snap, err := t.gw.Status(ctx, symbol, orderID)
	if err != nil {
		t.handlePollError(id, now, err)
		return
	}

	t.mu.Lock()
	e, ok = t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.failures = 0
	e.backoff.Reset()
	e.nextPollAt = time.Time{}
	e.leg.LastPollAt = now
	t.mu.Unlock()

	// 撤单在途时交易所仍报 NEW，映射出的回退会被状态机拒绝，
	// 本地保持 CANCEL_PENDING 直到看到真正的终态。
	t.applyStatus(id, FromOrderStatus(snap.Status), snap.FilledQty, snap.AvgPrice)
}

func (t *Tracker) handlePollError(id string, now time.Time, err error) {
	metrics.PollErrors.Inc()

	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.failures++
	e.nextPollAt = now.Add(e.backoff.Next())
	failures := e.failures
	legID := e.leg.ID
	filled := e.leg.FilledQty
	t.mu.Unlock()

	t.sink("leg_poll_error", map[string]interface{}{
		"legId":    legID,
		"failures": failures,
		"error":    err.Error(),
	})

	if failures >= t.cfg.MaxFailures {
		metrics.LegsUnknown.Inc()
		t.applyStatus(id, StatusUnknown, filled, 0)
	}
}

// applyStatus 应用一次状态观察：非法转换丢弃，合法变化更新并投递事件。
// 已成交数量只增不减，防止交易所快照抖动造成回退；avgPrice 为 0 时保留旧值。
func (t *Tracker) applyStatus(id string, st Status, filledQty, avgPrice float64) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	prev := e.leg.Status
	prevFilled := e.leg.FilledQty
	if err := ValidateTransition(prev, st); err != nil {
		t.mu.Unlock()
		return
	}
	if filledQty < prevFilled {
		filledQty = prevFilled
	}
	if st == prev && filledQty == prevFilled {
		t.mu.Unlock()
		return
	}
	e.leg.Status = st
	e.leg.FilledQty = filledQty
	if avgPrice > 0 {
		e.leg.AvgPrice = avgPrice
	}
	out := e.out
	change := Change{LegID: id, Status: st, FilledQty: filledQty, AvgPrice: e.leg.AvgPrice}
	t.mu.Unlock()

	metrics.LegChanges.WithLabelValues(string(st)).Inc()
	t.sink("leg_change", map[string]interface{}{
		"legId":     id,
		"from":      string(prev),
		"to":        string(st),
		"filledQty": filledQty,
	})
	if out != nil {
		t.deliver(id, out, change)
	}
}

// deliver 投递变化事件。单条轮询循环服务所有策略，绝不能被一个
// 停止消费的策略堵死：缓冲满时丢最旧腾位，保证最新快照送达。
func (t *Tracker) deliver(id string, out chan Change, change Change) {
	for {
		select {
		case out <- change:
			return
		default:
		}
		select {
		case dropped := <-out:
			t.sink("leg_change_overflow", map[string]interface{}{
				"legId":   id,
				"dropped": string(dropped.Status),
			})
		default:
		}
	}
}
