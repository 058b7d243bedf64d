package gateway

import (
	"testing"
	"time"
)

func TestPriceFeedApply(t *testing.T) {
	f := NewPriceFeed("BTCUSDT")
	f.Apply([]byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"29999.5","a":"30000.5"}}`))

	mid, ok := f.Last("BTCUSDT")
	if !ok {
		t.Fatalf("expected cached price")
	}
	if mid != 30000 {
		t.Fatalf("expected mid 30000, got %v", mid)
	}
	// 小写查询同样命中。
	if _, ok := f.Last("btcusdt"); !ok {
		t.Fatalf("lookup should be case-insensitive")
	}
}

func TestPriceFeedIgnoresGarbage(t *testing.T) {
	f := NewPriceFeed("BTCUSDT")
	for _, raw := range []string{
		`not json`,
		`{"data":{"s":"BTCUSDT","b":"abc","a":"30000"}}`,
		`{"data":{"s":"","b":"1","a":"2"}}`,
		`{"data":{"s":"BTCUSDT","b":"-1","a":"30000"}}`,
	} {
		f.Apply([]byte(raw))
	}
	if _, ok := f.Last("BTCUSDT"); ok {
		t.Fatalf("garbage input must not populate cache")
	}
}

func TestPriceFeedStaleness(t *testing.T) {
	f := NewPriceFeed("BTCUSDT")
	f.StaleAfter = time.Millisecond
	f.Apply([]byte(`{"data":{"s":"BTCUSDT","b":"100","a":"102"}}`))
	time.Sleep(5 * time.Millisecond)
	if _, ok := f.Last("BTCUSDT"); ok {
		t.Fatalf("stale price must not be served")
	}
}

func TestPriceFeedUnknownSymbol(t *testing.T) {
	f := NewPriceFeed("BTCUSDT")
	if _, ok := f.Last("ETHUSDT"); ok {
		t.Fatalf("unknown symbol must miss")
	}
}
