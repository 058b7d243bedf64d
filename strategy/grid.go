package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"strategy-engine-go/gateway"
	"strategy-engine-go/leg"
	"strategy-engine-go/metrics"
)

// GridParams 网格策略参数。SkipNearMarket 为 nil 时默认跳过
// 距市场价不足一个格距的档位，避免瞬时成交噪音。
type GridParams struct {
	ID               string
	Symbol           string  `validate:"required"`
	LowerPrice       float64 `validate:"gt=0"`
	UpperPrice       float64 `validate:"gt=0,gtfield=LowerPrice"`
	Levels           int     `validate:"gte=2"`
	QuantityPerLevel float64 `validate:"gt=0"`
	SkipNearMarket   *bool
	CancelTimeout    time.Duration
}

func (p *GridParams) normalize() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.SkipNearMarket == nil {
		t := true
		p.SkipNearMarket = &t
	}
	if p.CancelTimeout <= 0 {
		p.CancelTimeout = 10 * time.Second
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// GridLevels 返回 [lower, upper] 上 m 个等距价位。
func GridLevels(lower, upper float64, m int) []float64 {
	step := (upper - lower) / float64(m-1)
	out := make([]float64, m)
	for i := 0; i < m; i++ {
		out[i] = lower + step*float64(i)
	}
	out[m-1] = upper // 消除浮点累积误差
	return out
}

// gridLevel 单个档位的运行时状态。legID 为空即 EMPTY。
type gridLevel struct {
	price    float64
	side     gateway.Side
	legID    string
	degraded bool
}

// gridStrategy 档位管理器：买单成交在同价位挂卖单，反之亦然，
// 周而复始，直到显式取消。
type gridStrategy struct {
	base
	params GridParams

	levels   []gridLevel
	step     float64
	flips    int
	legLevel map[string]int

	quoteRequired float64
	baseRequired  float64
}

func newGrid(p GridParams, env Env) (*gridStrategy, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return &gridStrategy{
		base:     newBase(p.ID, KindGrid, p.Symbol, env),
		params:   p,
		legLevel: make(map[string]int),
	}, nil
}

func (s *gridStrategy) Snapshot() Snapshot {
	snap := s.snapshotBase()
	s.mu.RLock()
	stats := &GridStats{
		Flips:         s.flips,
		QuoteRequired: s.quoteRequired,
		BaseRequired:  s.baseRequired,
	}
	for _, lv := range s.levels {
		ls := LevelSnapshot{Price: lv.price, Side: lv.side, State: "EMPTY"}
		if lv.legID != "" {
			ls.State = "OPEN"
			ls.LegID = lv.legID
		}
		if lv.degraded {
			stats.DegradedLevels++
		}
		stats.Levels = append(stats.Levels, ls)
	}
	s.mu.RUnlock()
	snap.Grid = stats
	return snap
}

func (s *gridStrategy) Run(ctx context.Context) {
	defer s.detachAll()

	if !s.setup(ctx) {
		return
	}
	s.setState(StateRunning)
	s.eventLoop(ctx)
}

// setup 计算档位并铺设初始订单：低于市场价的档位挂买，高于的挂卖。
// 初始腿被拒对策略是致命的：撤掉已挂出的腿并进入 FAILED。
func (s *gridStrategy) setup(ctx context.Context) bool {
	current, err := s.env.Gateway.CurrentPrice(ctx, s.params.Symbol)
	if err != nil {
		s.setNote(fmt.Sprintf("current price unavailable: %v", err))
		s.setState(StateFailed)
		return false
	}

	prices := GridLevels(s.params.LowerPrice, s.params.UpperPrice, s.params.Levels)
	step := prices[1] - prices[0]
	// 等分点不保证落在 tick 网格上，挂单价必须对齐。
	tick := s.env.tickFor(s.params.Symbol)
	for i := range prices {
		prices[i] = snapToTick(prices[i], tick)
	}

	type plan struct {
		idx  int
		side gateway.Side
	}
	var plans []plan
	levels := make([]gridLevel, len(prices))
	for i, p := range prices {
		levels[i] = gridLevel{price: p}
		if *s.params.SkipNearMarket && math.Abs(p-current) < step {
			continue
		}
		switch {
		case p < current:
			plans = append(plans, plan{idx: i, side: gateway.SideBuy})
		case p > current:
			plans = append(plans, plan{idx: i, side: gateway.SideSell})
		default:
			// 恰好等于市场价的档位跳过，等价格离开后由相邻成交带动。
		}
	}

	var quote, baseQty float64
	for _, pl := range plans {
		if pl.side == gateway.SideBuy {
			quote += s.params.QuantityPerLevel * levels[pl.idx].price
		} else {
			baseQty += s.params.QuantityPerLevel
		}
	}

	var placed []leg.Leg
	for _, pl := range plans {
		l, err := s.placeLeg(ctx, leg.Leg{
			Role:     fmt.Sprintf("grid-level-%d", pl.idx+1),
			Symbol:   s.params.Symbol,
			Side:     pl.side,
			Type:     gateway.TypeLimit,
			Price:    levels[pl.idx].price,
			Quantity: s.params.QuantityPerLevel,
		})
		if err != nil {
			for _, done := range placed {
				_ = s.env.Gateway.Cancel(ctx, done.Symbol, done.OrderID)
			}
			s.setNote(err.Error())
			s.setState(StateFailed)
			s.env.sink()("strategy_failed", map[string]interface{}{
				"strategyId": s.id,
				"kind":       string(KindGrid),
				"reason":     err.Error(),
			})
			return false
		}
		placed = append(placed, l)
		id := s.trackLeg(l)
		levels[pl.idx].side = pl.side
		levels[pl.idx].legID = id
		s.mu.Lock()
		s.legLevel[id] = pl.idx
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.step = step
	s.levels = levels
	s.quoteRequired = quote
	s.baseRequired = baseQty
	s.mu.Unlock()

	s.env.sink()("grid_setup", map[string]interface{}{
		"strategyId":    s.id,
		"symbol":        s.params.Symbol,
		"levels":        len(prices),
		"placed":        len(placed),
		"currentPrice":  current,
		"quoteRequired": quote,
		"baseRequired":  baseQty,
	})
	return true
}

func (s *gridStrategy) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.finishCancelled(context.Background())
			return
		case <-s.cancelReq:
			s.finishCancelled(ctx)
			return
		case ch := <-s.changes:
			s.applyChange(ch)
			s.handleChange(ctx, ch)
		}
	}
}

func (s *gridStrategy) handleChange(ctx context.Context, ch leg.Change) {
	s.mu.RLock()
	idx, ok := s.legLevel[ch.LegID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	switch ch.Status {
	case leg.StatusFilled:
		s.flip(ctx, idx, ch.LegID)
	case leg.StatusUnknown:
		s.setDegraded("leg status unknown after repeated poll failures")
		s.markLevelDegraded(idx)
	case leg.StatusCancelled, leg.StatusRejected:
		// 非本策略发起的终态（外部撤单等）：档位置空，不再猜测意图。
		s.clearLevel(idx, ch.LegID)
		s.markLevelDegraded(idx)
		s.env.sink()("grid_level_lost", map[string]interface{}{
			"strategyId": s.id,
			"level":      idx + 1,
			"status":     string(ch.Status),
		})
	}
}

// flip 网格唯一的稳态转换：档位成交后在同价位挂反向单。
// 重挂失败只降级该档位，网格在剩余档位上继续运行。
func (s *gridStrategy) flip(ctx context.Context, idx int, filledLeg string) {
	s.mu.RLock()
	price := s.levels[idx].price
	prevSide := s.levels[idx].side
	s.mu.RUnlock()
	newSide := prevSide.Opposite()

	s.clearLevel(idx, filledLeg)

	l, err := s.placeLeg(ctx, leg.Leg{
		Role:     fmt.Sprintf("grid-level-%d", idx+1),
		Symbol:   s.params.Symbol,
		Side:     newSide,
		Type:     gateway.TypeLimit,
		Price:    price,
		Quantity: s.params.QuantityPerLevel,
	})
	if err != nil {
		s.markLevelDegraded(idx)
		s.env.sink()("grid_level_degraded", map[string]interface{}{
			"strategyId": s.id,
			"level":      idx + 1,
			"price":      price,
			"error":      err.Error(),
		})
		return
	}
	id := s.trackLeg(l)
	s.mu.Lock()
	s.levels[idx].side = newSide
	s.levels[idx].legID = id
	s.levels[idx].degraded = false
	s.legLevel[id] = idx
	s.flips++
	s.mu.Unlock()
	metrics.LevelFlips.Inc()
	s.env.sink()("grid_level_flip", map[string]interface{}{
		"strategyId": s.id,
		"level":      idx + 1,
		"price":      price,
		"from":       string(prevSide),
		"to":         string(newSide),
	})
}

func (s *gridStrategy) clearLevel(idx int, legID string) {
	s.mu.Lock()
	if s.levels[idx].legID == legID {
		s.levels[idx].legID = ""
	}
	delete(s.legLevel, legID)
	s.mu.Unlock()
}

func (s *gridStrategy) markLevelDegraded(idx int) {
	s.mu.Lock()
	s.levels[idx].degraded = true
	s.mu.Unlock()
}

// finishCancelled 撤掉所有档位的存活腿；无腿档位（翻转竞态中）保持 EMPTY。
// 全部确认或超时后进入 CANCELLED。
func (s *gridStrategy) finishCancelled(ctx context.Context) {
	s.setState(StateCancelling)
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.params.CancelTimeout)
	defer cancel()

	s.mu.RLock()
	var liveIDs []string
	for _, lv := range s.levels {
		if lv.legID != "" {
			liveIDs = append(liveIDs, lv.legID)
		}
	}
	s.mu.RUnlock()

	for _, id := range liveIDs {
		if l, ok := s.legView(id); ok && !leg.IsFinal(l.Status) {
			if err := s.env.Tracker.Cancel(cancelCtx, id); err != nil {
				s.env.sink()("grid_cancel_error", map[string]interface{}{
					"strategyId": s.id,
					"legId":      id,
					"error":      err.Error(),
				})
			}
		}
	}
	s.env.Tracker.Refresh()

	for !s.allLegsFinal(liveIDs) {
		select {
		case ch := <-s.changes:
			s.applyChange(ch)
		case <-cancelCtx.Done():
			s.setDegraded("cancel unconfirmed within timeout; verify orders manually")
			s.setState(StateCancelled)
			return
		}
	}
	s.setState(StateCancelled)
}

func (s *gridStrategy) allLegsFinal(ids []string) bool {
	for _, id := range ids {
		if l, ok := s.legView(id); ok && !leg.IsFinal(l.Status) {
			return false
		}
	}
	return true
}
