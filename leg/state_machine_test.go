package leg

import (
	"testing"

	"strategy-engine-go/gateway"
)

func TestValidateTransition(t *testing.T) {
	legal := []StateTransition{
		{StatusPending, StatusOpen},
		// 从未下到交易所的腿本地撤销
		{StatusPending, StatusCancelled},
		{StatusOpen, StatusPartial},
		{StatusOpen, StatusFilled},
		{StatusOpen, StatusCancelPending},
		{StatusPartial, StatusFilled},
		{StatusCancelPending, StatusCancelled},
		{StatusCancelPending, StatusFilled},
		{StatusUnknown, StatusOpen},
		{StatusUnknown, StatusCancelled},
	}
	for _, tr := range legal {
		if err := ValidateTransition(tr.From, tr.To); err != nil {
			t.Errorf("expected %s -> %s to be legal: %v", tr.From, tr.To, err)
		}
	}

	illegal := []StateTransition{
		{StatusFilled, StatusOpen},
		{StatusFilled, StatusCancelled},
		{StatusCancelled, StatusOpen},
		{StatusRejected, StatusOpen},
		// 撤单在途时交易所仍报 NEW，不允许回退。
		{StatusCancelPending, StatusOpen},
		{StatusPartial, StatusOpen},
	}
	for _, tr := range illegal {
		if err := ValidateTransition(tr.From, tr.To); err == nil {
			t.Errorf("expected %s -> %s to be rejected", tr.From, tr.To)
		}
	}
}

func TestValidateTransitionIdempotent(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusPartial, StatusFilled, StatusCancelPending} {
		if err := ValidateTransition(s, s); err != nil {
			t.Errorf("same-state transition must be a no-op: %v", err)
		}
	}
}

func TestIsFinal(t *testing.T) {
	finals := []Status{StatusFilled, StatusCancelled, StatusRejected}
	for _, s := range finals {
		if !IsFinal(s) {
			t.Errorf("%s should be final", s)
		}
	}
	nonFinals := []Status{StatusPending, StatusOpen, StatusPartial, StatusCancelPending, StatusUnknown}
	for _, s := range nonFinals {
		if IsFinal(s) {
			t.Errorf("%s should not be final", s)
		}
	}
}

func TestFromOrderStatus(t *testing.T) {
	cases := map[string]Status{
		"NEW":              StatusOpen,
		"PARTIALLY_FILLED": StatusPartial,
		"FILLED":           StatusFilled,
		"CANCELED":         StatusCancelled,
		"EXPIRED":          StatusCancelled,
		"REJECTED":         StatusRejected,
		"SOMETHING_ELSE":   StatusUnknown,
	}
	for exch, want := range cases {
		if got := FromOrderStatus(gateway.OrderStatus(exch)); got != want {
			t.Errorf("%s: got %s, want %s", exch, got, want)
		}
	}
}
