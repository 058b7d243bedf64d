package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-engine-go/gateway"
	"strategy-engine-go/internal/sched"
)

func TestGridLevels(t *testing.T) {
	got := GridLevels(28000, 32000, 5)
	require.Equal(t, []float64{28000, 29000, 30000, 31000, 32000}, got)
}

func TestGridLevelsEndpointsExact(t *testing.T) {
	// 步长无法精确表示时端点仍必须命中边界。
	got := GridLevels(0.1, 0.3, 7)
	assert.Equal(t, 0.1, got[0])
	assert.Equal(t, 0.3, got[6])
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
}

func TestGridParamsNormalize(t *testing.T) {
	p := GridParams{Symbol: "BTCUSDT", LowerPrice: 28000, UpperPrice: 32000, Levels: 5, QuantityPerLevel: 0.01}
	require.NoError(t, p.normalize())
	require.NotNil(t, p.SkipNearMarket)
	assert.True(t, *p.SkipNearMarket)
	assert.Equal(t, 10*time.Second, p.CancelTimeout)
	assert.NotEmpty(t, p.ID)

	inverted := GridParams{Symbol: "BTCUSDT", LowerPrice: 32000, UpperPrice: 28000, Levels: 5, QuantityPerLevel: 0.01}
	require.Error(t, inverted.normalize())

	tooFew := GridParams{Symbol: "BTCUSDT", LowerPrice: 28000, UpperPrice: 32000, Levels: 1, QuantityPerLevel: 0.01}
	require.Error(t, tooFew.normalize())
}

func TestGridSetupSidesAndCapital(t *testing.T) {
	gw := &fakeGW{price: 30500}
	fs := sched.NewFake(time.Now())
	env := newTestEnv(gw, fs)

	s, err := newGrid(GridParams{
		Symbol: "BTCUSDT", LowerPrice: 28000, UpperPrice: 32000,
		Levels: 5, QuantityPerLevel: 0.01,
	}, env)
	require.NoError(t, err)
	require.True(t, s.setup(context.Background()))

	// 30000/31000 距市价不足一格被跳过：两买一卖。
	require.Equal(t, 3, gw.placedCount())
	var buys, sells int
	for _, req := range gw.placed {
		switch req.Side {
		case gateway.SideBuy:
			buys++
			assert.Less(t, req.Price, 30500.0)
		case gateway.SideSell:
			sells++
			assert.Greater(t, req.Price, 30500.0)
		}
	}
	assert.Equal(t, 2, buys)
	assert.Equal(t, 1, sells)

	// 资金预估：买侧 0.01*(28000+29000)，卖侧 0.01。
	assert.InDelta(t, 570.0, s.quoteRequired, 1e-9)
	assert.InDelta(t, 0.01, s.baseRequired, 1e-9)
}

func TestGridLevelPricesSnappedToTick(t *testing.T) {
	gw := &fakeGW{price: 29500}
	env := newTestEnv(gw, sched.NewFake(time.Now()))
	env.Ticks = func(string) (float64, bool) { return 0.5, true }

	// (30001-29000)/3 = 333.67，等分点不在 tick 网格上。
	skip := false
	s, err := newGrid(GridParams{
		Symbol: "BTCUSDT", LowerPrice: 29000, UpperPrice: 30001,
		Levels: 4, QuantityPerLevel: 0.01, SkipNearMarket: &skip,
	}, env)
	require.NoError(t, err)
	require.True(t, s.setup(context.Background()))

	require.NotEmpty(t, gw.placed)
	for _, req := range gw.placed {
		ratio := req.Price / 0.5
		assert.InDelta(t, math.Round(ratio), ratio, 1e-9,
			"price %v is not a tick multiple", req.Price)
	}
}

func TestGridSetupFailsWithoutPrice(t *testing.T) {
	gw := &fakeGW{priceErr: gateway.ErrPriceUnavailable}
	env := newTestEnv(gw, sched.NewFake(time.Now()))

	s, err := newGrid(GridParams{
		Symbol: "BTCUSDT", LowerPrice: 28000, UpperPrice: 32000,
		Levels: 5, QuantityPerLevel: 0.01,
	}, env)
	require.NoError(t, err)
	require.False(t, s.setup(context.Background()))
	assert.Equal(t, StateFailed, s.currentState())
}

func TestGridInitialPlacementRejectionIsFatal(t *testing.T) {
	gw := &fakeGW{price: 30500, placeErr: &gateway.RejectionError{Code: -4164, Reason: "notional too small"}}
	env := newTestEnv(gw, sched.NewFake(time.Now()))

	s, err := newGrid(GridParams{
		Symbol: "BTCUSDT", LowerPrice: 28000, UpperPrice: 32000,
		Levels: 5, QuantityPerLevel: 0.01,
	}, env)
	require.NoError(t, err)
	require.False(t, s.setup(context.Background()))
	assert.Equal(t, StateFailed, s.currentState())
}
