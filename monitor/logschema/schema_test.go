package logschema

import "testing"

func TestValidate(t *testing.T) {
	err := Validate("leg_placed", map[string]interface{}{
		"strategyId": "oco-1",
		"role":       "take-profit",
		"symbol":     "BTCUSDT",
		"side":       "SELL",
		"orderId":    "100",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = Validate("leg_placed", map[string]interface{}{
		"strategyId": "oco-1",
	})
	if err == nil {
		t.Fatalf("expected error for missing fields")
	}
}

func TestValidateUnknownEventPasses(t *testing.T) {
	if err := Validate("some_future_event", nil); err != nil {
		t.Fatalf("unknown events must not fail validation: %v", err)
	}
}

func TestKnownEvents(t *testing.T) {
	names := Known()
	if len(names) == 0 {
		t.Fatalf("expected non-empty schema list")
	}
	found := false
	for _, n := range names {
		if n == "grid_level_flip" {
			found = true
		}
	}
	if !found {
		t.Fatalf("grid_level_flip not found in schemas")
	}
}
