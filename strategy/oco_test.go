package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-engine-go/gateway"
	"strategy-engine-go/internal/sched"
)

func TestOCOParamsNormalize(t *testing.T) {
	p := OCOParams{
		Symbol: "BTCUSDT", Side: gateway.SideSell, Quantity: 0.01,
		TakeProfitPrice: 35000, StopLossPrice: 28000,
	}
	require.NoError(t, p.normalize())
	assert.Equal(t, 1.0, p.FillThreshold)
	assert.Equal(t, 10*time.Second, p.CancelTimeout)
	assert.NotEmpty(t, p.ID)
}

func TestOCOParamsSideConsistency(t *testing.T) {
	// SELL：止盈必须高于止损。
	sell := OCOParams{
		Symbol: "BTCUSDT", Side: gateway.SideSell, Quantity: 0.01,
		TakeProfitPrice: 28000, StopLossPrice: 35000,
	}
	require.Error(t, sell.normalize())

	// BUY：止盈必须低于止损。
	buy := OCOParams{
		Symbol: "BTCUSDT", Side: gateway.SideBuy, Quantity: 0.01,
		TakeProfitPrice: 35000, StopLossPrice: 28000,
	}
	require.Error(t, buy.normalize())

	buyOK := OCOParams{
		Symbol: "BTCUSDT", Side: gateway.SideBuy, Quantity: 0.01,
		TakeProfitPrice: 28000, StopLossPrice: 35000,
	}
	require.NoError(t, buyOK.normalize())
}

func TestOCOPlaceBothLegTypes(t *testing.T) {
	gw := &fakeGW{price: 30000}
	env := newTestEnv(gw, sched.NewFake(time.Now()))

	s, err := newOCO(OCOParams{
		Symbol: "BTCUSDT", Side: gateway.SideSell, Quantity: 0.01,
		TakeProfitPrice: 35000, StopLossPrice: 28000, StopLimitPrice: 27900,
	}, env)
	require.NoError(t, err)
	require.True(t, s.placeBoth(context.Background()))

	require.Equal(t, 2, gw.placedCount())
	byRole := map[gateway.OrderType]gateway.PlaceRequest{}
	for _, req := range gw.placed {
		byRole[req.Type] = req
	}
	tp := byRole[gateway.TypeLimit]
	assert.Equal(t, 35000.0, tp.Price)
	sl := byRole[gateway.TypeStopLimit]
	assert.Equal(t, 27900.0, sl.Price)
	assert.Equal(t, 28000.0, sl.StopPrice)
}

func TestOCOStopMarketWhenNoLimitPrice(t *testing.T) {
	gw := &fakeGW{price: 30000}
	env := newTestEnv(gw, sched.NewFake(time.Now()))

	s, err := newOCO(OCOParams{
		Symbol: "BTCUSDT", Side: gateway.SideSell, Quantity: 0.01,
		TakeProfitPrice: 35000, StopLossPrice: 28000,
	}, env)
	require.NoError(t, err)
	require.True(t, s.placeBoth(context.Background()))

	var foundStopMarket bool
	for _, req := range gw.placed {
		if req.Type == gateway.TypeStopMarket {
			foundStopMarket = true
			assert.Equal(t, 28000.0, req.StopPrice)
			assert.Zero(t, req.Price)
		}
	}
	assert.True(t, foundStopMarket)
}

func TestOCOPlacementFailureIsFatal(t *testing.T) {
	gw := &fakeGW{price: 30000, placeErr: &gateway.RejectionError{Code: -2019, Reason: "margin insufficient"}}
	env := newTestEnv(gw, sched.NewFake(time.Now()))

	s, err := newOCO(OCOParams{
		Symbol: "BTCUSDT", Side: gateway.SideSell, Quantity: 0.01,
		TakeProfitPrice: 35000, StopLossPrice: 28000,
	}, env)
	require.NoError(t, err)
	require.False(t, s.placeBoth(context.Background()))
	assert.Equal(t, StateFailed, s.currentState())
}

func TestOCORequestCancelIdempotent(t *testing.T) {
	gw := &fakeGW{price: 30000}
	env := newTestEnv(gw, sched.NewFake(time.Now()))
	s, err := newOCO(OCOParams{
		Symbol: "BTCUSDT", Side: gateway.SideSell, Quantity: 0.01,
		TakeProfitPrice: 35000, StopLossPrice: 28000,
	}, env)
	require.NoError(t, err)

	require.NoError(t, s.RequestCancel())
	require.NoError(t, s.RequestCancel(), "repeated cancel must stay idempotent")

	s.setState(StateCancelled)
	assert.ErrorIs(t, s.RequestCancel(), ErrAlreadyTerminal)
}
