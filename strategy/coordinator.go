package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strategy-engine-go/metrics"
)

// runner 协调器管理的策略实例。
// Run 由协调器独占的 goroutine 调用，是该策略状态的唯一修改者。
type runner interface {
	ID() string
	Kind() Kind
	Run(ctx context.Context)
	RequestCancel() error
	Snapshot() Snapshot
}

// Coordinator 在途策略注册表：路由启动/取消/查询请求，
// 保证同一策略 id 同时至多一个存活实例。
// 策略 goroutine 运行在协调器自身的生命周期 context 上，
// 与发起启动的请求 context 无关（HTTP 请求结束不影响策略）。
type Coordinator struct {
	env     Env
	baseCtx context.Context
	stop    context.CancelFunc

	mu         sync.RWMutex
	strategies map[string]runner
	wg         sync.WaitGroup
}

// NewCoordinator 创建协调器。
func NewCoordinator(env Env) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		env:        env,
		baseCtx:    ctx,
		stop:       cancel,
		strategies: make(map[string]runner),
	}
}

// StartOCO 启动 OCO 策略，返回策略 id。
func (c *Coordinator) StartOCO(ctx context.Context, p OCOParams) (string, error) {
	s, err := newOCO(p, c.env)
	if err != nil {
		return "", err
	}
	return c.launch(ctx, s)
}

// StartTWAP 启动 TWAP 策略，返回策略 id。
func (c *Coordinator) StartTWAP(ctx context.Context, p TWAPParams) (string, error) {
	s, err := newTWAP(p, c.env)
	if err != nil {
		return "", err
	}
	return c.launch(ctx, s)
}

// StartGrid 启动网格策略，返回策略 id。
func (c *Coordinator) StartGrid(ctx context.Context, p GridParams) (string, error) {
	s, err := newGrid(p, c.env)
	if err != nil {
		return "", err
	}
	return c.launch(ctx, s)
}

// launch 注册并启动策略 goroutine。
// 同 id 且未终态的实例存在时拒绝，不触碰已有实例。
// ctx 只约束启动动作本身；策略运行在 baseCtx 上，
// 直到完成或显式取消。
func (c *Coordinator) launch(ctx context.Context, r runner) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	if existing, ok := c.strategies[r.ID()]; ok && !existing.Snapshot().State.IsTerminal() {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateStrategy, r.ID())
	}
	c.strategies[r.ID()] = r
	c.mu.Unlock()

	metrics.StrategiesActive.WithLabelValues(string(r.Kind())).Inc()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		r.Run(c.baseCtx)
		snap := r.Snapshot()
		metrics.StrategiesActive.WithLabelValues(string(r.Kind())).Dec()
		metrics.StrategiesTerminal.WithLabelValues(string(r.Kind()), string(snap.State)).Inc()
	}()
	return r.ID(), nil
}

// Cancel 请求取消策略。已终态返回 ErrAlreadyTerminal。
func (c *Coordinator) Cancel(id string) error {
	c.mu.RLock()
	r, ok := c.strategies[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	return r.RequestCancel()
}

// Status 返回策略快照。
func (c *Coordinator) Status(id string) (Snapshot, error) {
	c.mu.RLock()
	r, ok := c.strategies[id]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	return r.Snapshot(), nil
}

// List 返回全部策略快照，按创建时间排序。
func (c *Coordinator) List() []Snapshot {
	c.mu.RLock()
	snaps := make([]Snapshot, 0, len(c.strategies))
	for _, r := range c.strategies {
		snaps = append(snaps, r.Snapshot())
	}
	c.mu.RUnlock()
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// Wait 等待所有策略 goroutine 退出（进程收尾用）。
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown 取消运行 context 并等待所有策略退出。
func (c *Coordinator) Shutdown() {
	c.stop()
	c.wg.Wait()
}
