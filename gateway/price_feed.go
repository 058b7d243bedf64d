package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// BinanceFuturesWSEndpoint 合约行情流地址。
const BinanceFuturesWSEndpoint = "wss://fstream.binance.com"

// PriceFeed 订阅 bookTicker 流并缓存各交易对最新中间价。
// TWAP 价格带检查与网格建仓走缓存，避免每次消耗 REST 权重；
// 缓存超过 StaleAfter 视为失效，调用方回退 REST。
type PriceFeed struct {
	Endpoint   string
	Dialer     *websocket.Dialer
	StaleAfter time.Duration

	mu      sync.RWMutex
	symbols []string
	prices  map[string]pricePoint
}

type pricePoint struct {
	mid float64
	ts  time.Time
}

// NewPriceFeed 创建价格缓存，订阅给定交易对。
func NewPriceFeed(symbols ...string) *PriceFeed {
	lower := make([]string, 0, len(symbols))
	for _, s := range symbols {
		lower = append(lower, strings.ToLower(s))
	}
	return &PriceFeed{
		Endpoint:   BinanceFuturesWSEndpoint,
		Dialer:     websocket.DefaultDialer,
		StaleAfter: 10 * time.Second,
		symbols:    lower,
		prices:     make(map[string]pricePoint),
	}
}

// bookTickerMsg 组合流消息体。
type bookTickerMsg struct {
	Data struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	} `json:"data"`
}

// Run 连接并持续读取，断线后间隔重连，ctx 取消时退出。
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}
	for {
		if err := f.readLoop(ctx); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
}

func (f *PriceFeed) readLoop(ctx context.Context) error {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, s+"@bookTicker")
	}
	url := f.Endpoint + "/stream?streams=" + strings.Join(streams, "/")
	conn, _, err := f.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.Apply(raw)
	}
}

// Apply 解析一条 bookTicker 消息并更新缓存（导出便于测试注入）。
func (f *PriceFeed) Apply(raw []byte) {
	var msg bookTickerMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	bid, err1 := strconv.ParseFloat(msg.Data.Bid, 64)
	ask, err2 := strconv.ParseFloat(msg.Data.Ask, 64)
	if err1 != nil || err2 != nil || msg.Data.Symbol == "" || bid <= 0 || ask <= 0 {
		return
	}
	f.mu.Lock()
	f.prices[msg.Data.Symbol] = pricePoint{mid: (bid + ask) / 2, ts: time.Now()}
	f.mu.Unlock()
}

// Last 返回交易对最新中间价；缓存缺失或过期时 ok=false。
func (f *PriceFeed) Last(symbol string) (float64, bool) {
	f.mu.RLock()
	p, ok := f.prices[strings.ToUpper(symbol)]
	f.mu.RUnlock()
	if !ok || time.Since(p.ts) > f.StaleAfter {
		return 0, false
	}
	return p.mid, true
}
