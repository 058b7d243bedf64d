package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"strategy-engine-go/gateway"
	"strategy-engine-go/leg"
	"strategy-engine-go/metrics"
)

// TWAPParams TWAP 策略参数。OrderType 默认 MARKET；LIMIT 模式下
// 每个分片以触发时刻的市场价挂限价单。
// PriceBandPct 为相对参考价的允许偏离，越界的分片跳过不下单，默认 5%。
type TWAPParams struct {
	ID                string
	Symbol            string        `validate:"required"`
	Side              gateway.Side  `validate:"required,oneof=BUY SELL"`
	TotalQuantity     float64       `validate:"gt=0"`
	Duration          time.Duration `validate:"gt=0"`
	Intervals         int           `validate:"gte=1"`
	OrderType         gateway.OrderType
	PriceBandPct      float64 `validate:"gte=0"`
	QuantityPrecision int32   `validate:"gte=0"`
}

func (p *TWAPParams) normalize() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	switch p.OrderType {
	case "":
		p.OrderType = gateway.TypeMarket
	case gateway.TypeMarket, gateway.TypeLimit:
	default:
		return fmt.Errorf("twap order type must be MARKET or LIMIT, got %s", p.OrderType)
	}
	if p.PriceBandPct == 0 {
		p.PriceBandPct = 0.05
	}
	if p.QuantityPrecision == 0 {
		p.QuantityPrecision = 8
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// SplitQuantity 把总量均分为 n 份，末份吸收舍入余数，保证总和精确等于 total。
func SplitQuantity(total decimal.Decimal, n int, precision int32) []decimal.Decimal {
	chunk := total.Div(decimal.NewFromInt(int64(n))).Truncate(precision)
	out := make([]decimal.Decimal, n)
	sum := decimal.Zero
	for i := 0; i < n-1; i++ {
		out[i] = chunk
		sum = sum.Add(chunk)
	}
	out[n-1] = total.Sub(sum)
	return out
}

// twapStrategy 按时间均分执行大单。
// 单定时器串行触发分片，分片之间不存在并发下单。
type twapStrategy struct {
	base
	params TWAPParams
	chunks []decimal.Decimal

	refPrice float64
	fired    int
	skipped  int
	deficit  decimal.Decimal
}

func newTWAP(p TWAPParams, env Env) (*twapStrategy, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return &twapStrategy{
		base:   newBase(p.ID, KindTWAP, p.Symbol, env),
		params: p,
		chunks: SplitQuantity(decimal.NewFromFloat(p.TotalQuantity), p.Intervals, p.QuantityPrecision),
	}, nil
}

func (s *twapStrategy) Snapshot() Snapshot {
	snap := s.snapshotBase()
	stats := &TWAPStats{}
	s.mu.RLock()
	stats.ChunksFired = s.fired
	stats.ChunksSkipped = s.skipped
	stats.DeficitQty, _ = s.deficit.Float64()
	s.mu.RUnlock()
	var qty, notional float64
	for _, l := range snap.Legs {
		qty += l.FilledQty
		notional += l.FilledQty * l.AvgPrice
	}
	stats.ExecutedQty = qty
	if qty > 0 {
		stats.AvgFillPrice = notional / qty
	}
	snap.TWAP = stats
	return snap
}

func (s *twapStrategy) Run(ctx context.Context) {
	defer s.detachAll()

	// 取消请求折叠进派生 context，让所有挂起点统一被打断。
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-s.cancelReq:
			stop()
		case <-runCtx.Done():
		}
	}()

	ref, err := s.env.Gateway.CurrentPrice(runCtx, s.params.Symbol)
	if err != nil {
		s.setNote(fmt.Sprintf("reference price unavailable: %v", err))
		s.setState(StateFailed)
		return
	}
	s.mu.Lock()
	s.refPrice = ref
	s.mu.Unlock()

	s.setState(StateRunning)
	start := s.env.Sched.Now()
	interval := s.params.Duration / time.Duration(s.params.Intervals)

	for k := 0; k < s.params.Intervals; k++ {
		if k > 0 {
			fireAt := start.Add(time.Duration(k) * interval)
			if s.env.Sched.WaitUntil(runCtx, fireAt) != nil {
				s.finishCancelled(ctx)
				return
			}
		}
		if runCtx.Err() != nil {
			s.finishCancelled(ctx)
			return
		}
		s.drainChanges()
		s.fireChunk(runCtx, k)
	}

	s.settle(ctx, runCtx)
}

// fireChunk 触发第 k 个分片：价格带检查 → 下单（失败立即重试一次）。
// 跳过与失败都只损失该分片，记入缺口，不影响后续排程。
func (s *twapStrategy) fireChunk(ctx context.Context, k int) {
	qty, _ := s.chunks[k].Float64()
	role := fmt.Sprintf("chunk-%d", k+1)

	price, err := s.env.Gateway.CurrentPrice(ctx, s.params.Symbol)
	if err != nil {
		s.skipChunk(k, "price_unavailable", err.Error())
		return
	}
	dev := (price - s.refPrice) / s.refPrice
	if dev < 0 {
		dev = -dev
	}
	if dev > s.params.PriceBandPct {
		s.skipChunk(k, "price_band", fmt.Sprintf("deviation %.4f exceeds band %.4f", dev, s.params.PriceBandPct))
		return
	}

	l := leg.Leg{
		Role:     role,
		Symbol:   s.params.Symbol,
		Side:     s.params.Side,
		Type:     s.params.OrderType,
		Quantity: qty,
	}
	if s.params.OrderType == gateway.TypeLimit {
		// bookTicker 中间价往往停在半个 tick 上，挂单前对齐。
		l.Price = snapToTick(price, s.env.tickFor(s.params.Symbol))
	}

	placed, err := s.placeLeg(ctx, l)
	if err != nil && gateway.IsTransient(err) {
		// 立即重试一次，仍失败则放弃该分片。
		placed, err = s.placeLeg(ctx, l)
	}
	if err != nil {
		s.skipChunk(k, "placement", err.Error())
		return
	}
	s.trackLeg(placed)
	s.mu.Lock()
	s.fired++
	s.mu.Unlock()
	s.env.sink()("twap_chunk_fired", map[string]interface{}{
		"strategyId": s.id,
		"chunk":      k + 1,
		"of":         s.params.Intervals,
		"qty":        qty,
		"price":      price,
	})
}

func (s *twapStrategy) skipChunk(k int, reason, detail string) {
	metrics.ChunksSkipped.WithLabelValues(reason).Inc()
	s.mu.Lock()
	s.skipped++
	s.deficit = s.deficit.Add(s.chunks[k])
	s.mu.Unlock()
	s.env.sink()("twap_chunk_skipped", map[string]interface{}{
		"strategyId": s.id,
		"chunk":      k + 1,
		"reason":     reason,
		"detail":     detail,
	})
}

// settle 所有分片已触发。市价分片通常即时成交；仍有存活腿（LIMIT 残留）时
// 继续消费事件直到全部终态，期间仍响应取消。
func (s *twapStrategy) settle(ctx, runCtx context.Context) {
	for s.hasLiveLegs() {
		select {
		case ch := <-s.changes:
			s.applyChange(ch)
			if ch.Status == leg.StatusUnknown {
				s.setDegraded("leg status unknown after repeated poll failures")
			}
		case <-runCtx.Done():
			s.finishCancelled(ctx)
			return
		}
	}
	s.setState(StateCompleted)
}

func (s *twapStrategy) hasLiveLegs() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.legs {
		if !leg.IsFinal(l.Status) && l.Status != leg.StatusUnknown {
			return true
		}
	}
	return false
}

// finishCancelled 取消路径：未触发的分片不再排程，已挂出的腿全部撤单。
// 已成交数量保留。
func (s *twapStrategy) finishCancelled(ctx context.Context) {
	s.setState(StateCancelling)
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.mu.RLock()
	ids := append([]string(nil), s.legOrder...)
	s.mu.RUnlock()
	for _, id := range ids {
		if l, ok := s.legView(id); ok && !leg.IsFinal(l.Status) {
			if err := s.env.Tracker.Cancel(cancelCtx, id); err != nil {
				s.env.sink()("twap_cancel_error", map[string]interface{}{
					"strategyId": s.id,
					"legId":      id,
					"error":      err.Error(),
				})
			}
		}
	}
	s.setState(StateCancelled)
}
