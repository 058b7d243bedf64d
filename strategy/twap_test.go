package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-engine-go/gateway"
	"strategy-engine-go/internal/sched"
	"strategy-engine-go/leg"
)

// fakeGW 策略单测用的最小网关实现。
type fakeGW struct {
	mu       sync.Mutex
	price    float64
	priceErr error
	placeErr error
	placed   []gateway.PlaceRequest
	nextID   int
}

func (f *fakeGW) Place(ctx context.Context, req gateway.PlaceRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.nextID++
	f.placed = append(f.placed, req)
	return fmt.Sprintf("ord-%d", f.nextID), nil
}

func (f *fakeGW) Cancel(ctx context.Context, symbol, orderID string) error { return nil }

func (f *fakeGW) Status(ctx context.Context, symbol, orderID string) (gateway.OrderSnapshot, error) {
	return gateway.OrderSnapshot{OrderID: orderID, Status: gateway.OrderNew}, nil
}

func (f *fakeGW) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.price, nil
}

func (f *fakeGW) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeGW) setPrice(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func newTestEnv(gw *fakeGW, s sched.Scheduler) Env {
	tracker := leg.NewTracker(gw, s, leg.TrackerConfig{}, nil)
	return Env{Gateway: gw, Tracker: tracker, Sched: s}
}

func TestSplitQuantityExact(t *testing.T) {
	chunks := SplitQuantity(decimal.NewFromFloat(1.0), 3, 8)
	require.Len(t, chunks, 3)
	assert.Equal(t, "0.33333333", chunks[0].String())
	assert.Equal(t, "0.33333333", chunks[1].String())
	assert.Equal(t, "0.33333334", chunks[2].String())

	sum := decimal.Zero
	for _, c := range chunks {
		sum = sum.Add(c)
	}
	assert.True(t, sum.Equal(decimal.NewFromFloat(1.0)), "chunks must sum to total exactly")
}

func TestSplitQuantityVariants(t *testing.T) {
	cases := []struct {
		total string
		n     int
		prec  int32
	}{
		{"1", 1, 8},
		{"0.7", 4, 3},
		{"10", 7, 8},
		{"0.001", 3, 8},
	}
	for _, tc := range cases {
		total := decimal.RequireFromString(tc.total)
		chunks := SplitQuantity(total, tc.n, tc.prec)
		require.Len(t, chunks, tc.n)
		sum := decimal.Zero
		for _, c := range chunks {
			require.True(t, c.Sign() >= 0, "chunk must not be negative")
			sum = sum.Add(c)
		}
		require.True(t, sum.Equal(total), "total %s split into %d: sum %s", tc.total, tc.n, sum)
	}
}

func TestTWAPParamsNormalize(t *testing.T) {
	p := TWAPParams{Symbol: "BTCUSDT", Side: gateway.SideBuy, TotalQuantity: 1, Duration: time.Minute, Intervals: 4}
	require.NoError(t, p.normalize())
	assert.Equal(t, gateway.TypeMarket, p.OrderType)
	assert.Equal(t, 0.05, p.PriceBandPct)
	assert.NotEmpty(t, p.ID)

	bad := TWAPParams{Symbol: "BTCUSDT", Side: gateway.SideBuy, TotalQuantity: 1, Duration: time.Minute, Intervals: 4, OrderType: gateway.TypeStopMarket}
	require.Error(t, bad.normalize())

	missing := TWAPParams{Side: gateway.SideBuy, TotalQuantity: 1, Duration: time.Minute, Intervals: 4}
	require.Error(t, missing.normalize())
}

func TestTWAPLimitChunkPriceSnappedToTick(t *testing.T) {
	// bookTicker 中间价落在半个 tick 上。
	gw := &fakeGW{price: 30000.3}
	env := newTestEnv(gw, sched.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	env.Ticks = func(string) (float64, bool) { return 0.5, true }

	s, err := newTWAP(TWAPParams{
		Symbol: "BTCUSDT", Side: gateway.SideBuy,
		TotalQuantity: 0.9, Duration: time.Minute, Intervals: 3,
		OrderType: gateway.TypeLimit,
	}, env)
	require.NoError(t, err)
	s.refPrice = 30000

	s.fireChunk(context.Background(), 0)
	require.Equal(t, 1, gw.placedCount())
	assert.Equal(t, 30000.5, gw.placed[0].Price)
}

func TestTWAPChunkSkippedOutsidePriceBand(t *testing.T) {
	gw := &fakeGW{price: 30000}
	fs := sched.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	env := newTestEnv(gw, fs)

	s, err := newTWAP(TWAPParams{
		Symbol: "BTCUSDT", Side: gateway.SideBuy,
		TotalQuantity: 0.9, Duration: time.Minute, Intervals: 3,
	}, env)
	require.NoError(t, err)
	s.refPrice = 30000

	// 带内：正常下单。
	s.fireChunk(context.Background(), 0)
	assert.Equal(t, 1, gw.placedCount())
	assert.Equal(t, 1, s.fired)

	// 偏离 10% > 默认 5% 带宽：跳过，计入缺口。
	gw.setPrice(33000)
	s.fireChunk(context.Background(), 1)
	assert.Equal(t, 1, gw.placedCount())
	assert.Equal(t, 1, s.fired)
	assert.Equal(t, 1, s.skipped)
	assert.Equal(t, "0.3", s.deficit.String())

	// 价格不可用：同样跳过。
	gw.mu.Lock()
	gw.priceErr = gateway.ErrPriceUnavailable
	gw.mu.Unlock()
	s.fireChunk(context.Background(), 2)
	assert.Equal(t, 2, s.skipped)
	assert.Equal(t, "0.6", s.deficit.String())
}

func TestTWAPFiresOnSchedule(t *testing.T) {
	gw := &fakeGW{price: 30000}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fs := sched.NewFake(start)
	env := newTestEnv(gw, fs)
	coord := NewCoordinator(env)

	id, err := coord.StartTWAP(context.Background(), TWAPParams{
		Symbol: "BTCUSDT", Side: gateway.SideBuy,
		TotalQuantity: 0.9, Duration: 3 * time.Minute, Intervals: 3,
	})
	require.NoError(t, err)

	// 第一个分片立即触发，然后挂起等待下一个时刻。
	waitCond(t, func() bool { return gw.placedCount() == 1 && fs.WaiterCount() == 1 })

	fs.Advance(time.Minute)
	waitCond(t, func() bool { return gw.placedCount() == 2 && fs.WaiterCount() == 1 })

	fs.Advance(time.Minute)
	waitCond(t, func() bool { return gw.placedCount() == 3 })

	// 市价分片在 fake 网关上保持 NEW，显式取消收尾。
	require.NoError(t, coord.Cancel(id))
	waitCond(t, func() bool {
		snap, err := coord.Status(id)
		return err == nil && snap.State == StateCancelled
	})

	snap, err := coord.Status(id)
	require.NoError(t, err)
	require.Equal(t, 3, snap.TWAP.ChunksFired)
}

func waitCond(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
