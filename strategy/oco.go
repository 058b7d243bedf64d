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

// OCOParams OCO 策略参数。StopLimitPrice 为 0 时止损腿使用止损市价单。
// FillThreshold 为触发对侧撤单的成交比例，默认 1.0（完全成交才触发）。
type OCOParams struct {
	ID              string
	Symbol          string       `validate:"required"`
	Side            gateway.Side `validate:"required,oneof=BUY SELL"`
	Quantity        float64      `validate:"gt=0"`
	TakeProfitPrice float64      `validate:"gt=0"`
	StopLossPrice   float64      `validate:"gt=0"`
	StopLimitPrice  float64      `validate:"gte=0"`
	FillThreshold   float64      `validate:"gte=0,lte=1"`
	CancelTimeout   time.Duration
}

func (p *OCOParams) normalize() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	// 方向一致性：SELL 的止盈必须高于止损，BUY 相反。
	switch p.Side {
	case gateway.SideSell:
		if p.TakeProfitPrice <= p.StopLossPrice {
			return fmt.Errorf("SELL OCO requires takeProfit > stopLoss (got %.8f <= %.8f)",
				p.TakeProfitPrice, p.StopLossPrice)
		}
	case gateway.SideBuy:
		if p.TakeProfitPrice >= p.StopLossPrice {
			return fmt.Errorf("BUY OCO requires takeProfit < stopLoss (got %.8f >= %.8f)",
				p.TakeProfitPrice, p.StopLossPrice)
		}
	}
	if p.FillThreshold == 0 {
		p.FillThreshold = 1
	}
	if p.CancelTimeout <= 0 {
		p.CancelTimeout = 10 * time.Second
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ocoStrategy OCO 状态机：
// INITIALIZING → PLACING_BOTH → ACTIVE → RESOLVING → COMPLETED
// 任意状态可进入 CANCELLING → CANCELLED；下单失败进入 FAILED。
type ocoStrategy struct {
	base
	params OCOParams
	tpLeg  string
	slLeg  string
}

func newOCO(p OCOParams, env Env) (*ocoStrategy, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return &ocoStrategy{
		base:   newBase(p.ID, KindOCO, p.Symbol, env),
		params: p,
	}, nil
}

func (s *ocoStrategy) Snapshot() Snapshot {
	return s.snapshotBase()
}

func (s *ocoStrategy) Run(ctx context.Context) {
	defer s.detachAll()

	if !s.placeBoth(ctx) {
		return
	}
	s.setState(StateActive)
	s.eventLoop(ctx)
}

// placeBoth 并发提交止盈与止损两条腿。任一被拒时撤掉已挂出的另一条。
func (s *ocoStrategy) placeBoth(ctx context.Context) bool {
	s.setState(StatePlacingBoth)

	tp := leg.Leg{
		Role:     "take-profit",
		Symbol:   s.params.Symbol,
		Side:     s.params.Side,
		Type:     gateway.TypeLimit,
		Price:    s.params.TakeProfitPrice,
		Quantity: s.params.Quantity,
	}
	sl := leg.Leg{
		Role:      "stop-loss",
		Symbol:    s.params.Symbol,
		Side:      s.params.Side,
		StopPrice: s.params.StopLossPrice,
		Quantity:  s.params.Quantity,
	}
	if s.params.StopLimitPrice > 0 {
		sl.Type = gateway.TypeStopLimit
		sl.Price = s.params.StopLimitPrice
	} else {
		sl.Type = gateway.TypeStopMarket
	}

	var wg sync.WaitGroup
	var tpErr, slErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		tp, tpErr = s.placeLeg(ctx, tp)
	}()
	go func() {
		defer wg.Done()
		sl, slErr = s.placeLeg(ctx, sl)
	}()
	wg.Wait()

	if tpErr != nil || slErr != nil {
		// 撤掉已挂出的那条，避免裸腿暴露。
		if tpErr == nil && tp.OrderID != "" {
			_ = s.env.Gateway.Cancel(ctx, tp.Symbol, tp.OrderID)
		}
		if slErr == nil && sl.OrderID != "" {
			_ = s.env.Gateway.Cancel(ctx, sl.Symbol, sl.OrderID)
		}
		reason := tpErr
		if reason == nil {
			reason = slErr
		}
		s.setNote(reason.Error())
		s.setState(StateFailed)
		s.env.sink()("strategy_failed", map[string]interface{}{
			"strategyId": s.id,
			"kind":       string(KindOCO),
			"reason":     reason.Error(),
		})
		return false
	}

	s.tpLeg = s.trackLeg(tp)
	s.slLeg = s.trackLeg(sl)
	return true
}

func (s *ocoStrategy) eventLoop(ctx context.Context) {
	var winner string
	for {
		select {
		case <-ctx.Done():
			s.cancelBoth(context.Background())
			return
		case <-s.cancelReq:
			s.cancelBoth(ctx)
			return
		case ch := <-s.changes:
			s.applyChange(ch)
			if ch.Status == leg.StatusUnknown {
				s.setDegraded("leg status unknown after repeated poll failures; assuming still open")
				continue
			}
			if winner == "" {
				if s.filledEnough(ch.LegID) {
					winner = ch.LegID
					s.resolve(ctx, winner)
					// 对侧可能在同一轮轮询里已经终态。
					if s.siblingSettled(s.siblingOf(winner)) {
						return
					}
					continue
				}
				// 无成交终态（外部撤单、挂单后被拒）：OCO 失去一条腿，
				// 单腿没有保护意义，撤另一条并进入 FAILED。
				if l, ok := s.legView(ch.LegID); ok && leg.IsFinal(l.Status) {
					s.legLost(ctx, ch.LegID)
					return
				}
				continue
			}
			// RESOLVING：等待对侧腿到达终态。
			sibling := s.siblingOf(winner)
			if ch.LegID != sibling {
				continue
			}
			if s.siblingSettled(sibling) {
				return
			}
		}
	}
}

// filledEnough 判断触发条件：完全成交，或成交比例达到阈值。
func (s *ocoStrategy) filledEnough(legID string) bool {
	l, ok := s.legView(legID)
	if !ok {
		return false
	}
	if l.Status == leg.StatusFilled {
		return true
	}
	if s.params.FillThreshold < 1 && l.Status == leg.StatusPartial {
		return l.FilledQty >= s.params.FillThreshold*l.Quantity
	}
	return false
}

func (s *ocoStrategy) siblingOf(legID string) string {
	if legID == s.tpLeg {
		return s.slLeg
	}
	return s.tpLeg
}

// resolve 核心契约：一腿成交，立即撤对侧。撤单即发即弃带重试，
// 不阻塞事件循环。
func (s *ocoStrategy) resolve(ctx context.Context, winner string) {
	s.setState(StateResolving)
	w, _ := s.legView(winner)
	s.env.sink()("oco_triggered", map[string]interface{}{
		"strategyId": s.id,
		"winnerRole": w.Role,
		"filledQty":  w.FilledQty,
	})
	sibling := s.siblingOf(winner)
	go s.cancelWithRetry(ctx, sibling)
}

// cancelWithRetry 对腿撤单，瞬时错误重试最多三次。
func (s *ocoStrategy) cancelWithRetry(ctx context.Context, legID string) {
	for attempt := 0; attempt < 3; attempt++ {
		err := s.env.Tracker.Cancel(ctx, legID)
		if err == nil {
			return
		}
		if !gateway.IsTransient(err) {
			s.env.sink()("oco_cancel_rejected", map[string]interface{}{
				"strategyId": s.id,
				"legId":      legID,
				"error":      err.Error(),
			})
			return
		}
		if s.env.Sched.Sleep(ctx, time.Second*time.Duration(attempt+1)) != nil {
			return
		}
	}
}

// siblingSettled 处理对侧腿终态，返回 true 表示策略结束。
// 对侧也成交是竞态而非错误：交易所结果为准，记录冲突并照常完成。
func (s *ocoStrategy) siblingSettled(sibling string) bool {
	l, ok := s.legView(sibling)
	if !ok || !leg.IsFinal(l.Status) {
		return false
	}
	switch l.Status {
	case leg.StatusFilled:
		metrics.ConflictRaces.Inc()
		s.setNote("conflict race: both legs filled near-simultaneously")
		s.env.sink()("oco_conflict_race", map[string]interface{}{
			"strategyId": s.id,
			"legId":      sibling,
			"filledQty":  l.FilledQty,
		})
	case leg.StatusCancelled:
		if l.FilledQty > 0 {
			s.setNote(fmt.Sprintf("partial-fill conflict: sibling filled %.8f before cancel", l.FilledQty))
			s.env.sink()("oco_partial_fill_conflict", map[string]interface{}{
				"strategyId": s.id,
				"legId":      sibling,
				"filledQty":  l.FilledQty,
			})
		}
	}
	s.setState(StateCompleted)
	return true
}

// legLost ACTIVE 期间一腿被外部终结。
func (s *ocoStrategy) legLost(ctx context.Context, lost string) {
	l, _ := s.legView(lost)
	reason := fmt.Sprintf("leg %s reached %s externally before either side filled", l.Role, l.Status)
	s.setNote(reason)
	s.env.sink()("strategy_failed", map[string]interface{}{
		"strategyId": s.id,
		"kind":       string(KindOCO),
		"reason":     reason,
	})
	s.windDown(ctx, StateFailed)
}

// cancelBoth 显式取消路径：撤两腿，等确认或超时后强制 CANCELLED。
func (s *ocoStrategy) cancelBoth(ctx context.Context) {
	s.windDown(ctx, StateCancelled)
}

// windDown 撤掉所有存活腿，等确认或超时后进入 final。
func (s *ocoStrategy) windDown(ctx context.Context, final State) {
	s.setState(StateCancelling)
	for _, id := range []string{s.tpLeg, s.slLeg} {
		if l, ok := s.legView(id); ok && !leg.IsFinal(l.Status) {
			if err := s.env.Tracker.Cancel(ctx, id); err != nil {
				s.env.sink()("oco_cancel_error", map[string]interface{}{
					"strategyId": s.id,
					"legId":      id,
					"error":      err.Error(),
				})
			}
		}
	}
	s.env.Tracker.Refresh()

	timeout := make(chan struct{})
	go func() {
		defer close(timeout)
		_ = s.env.Sched.Sleep(ctx, s.params.CancelTimeout)
	}()

	for {
		if s.bothFinal() {
			s.setState(final)
			return
		}
		select {
		case ch := <-s.changes:
			s.applyChange(ch)
		case <-timeout:
			// 确认超时：强制进入终态，提示人工核对。
			s.setDegraded("cancel unconfirmed within timeout; verify orders manually")
			s.env.sink()("oco_cancel_timeout", map[string]interface{}{
				"strategyId": s.id,
				"timeout":    s.params.CancelTimeout.String(),
			})
			s.setState(final)
			return
		}
	}
}

func (s *ocoStrategy) bothFinal() bool {
	for _, id := range []string{s.tpLeg, s.slLeg} {
		if l, ok := s.legView(id); ok && !leg.IsFinal(l.Status) {
			return false
		}
	}
	return true
}
