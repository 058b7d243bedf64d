package strategy

import (
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"strategy-engine-go/gateway"
	"strategy-engine-go/internal/sched"
	"strategy-engine-go/leg"
)

// Kind 策略类型。
type Kind string

const (
	KindOCO  Kind = "OCO"
	KindTWAP Kind = "TWAP"
	KindGrid Kind = "GRID"
)

// State 策略生命周期状态。OCO 有额外的中间态，其余策略只用公共子集。
type State string

const (
	StateInitializing State = "INITIALIZING"
	StatePlacingBoth  State = "PLACING_BOTH" // OCO 专用
	StateActive       State = "ACTIVE"       // OCO 专用
	StateResolving    State = "RESOLVING"    // OCO 专用
	StateRunning      State = "RUNNING"
	StateCancelling   State = "CANCELLING"
	StateCompleted    State = "COMPLETED"
	StateCancelled    State = "CANCELLED"
	StateFailed       State = "FAILED"
)

// IsTerminal 判断策略状态是否终态。
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

var (
	// ErrDuplicateStrategy 同一 id 已有存活实例。
	ErrDuplicateStrategy = errors.New("strategy id already running")
	// ErrUnknownStrategy 找不到该策略。
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrAlreadyTerminal 策略已终态，无法取消。
	ErrAlreadyTerminal = errors.New("strategy already terminal")
)

// Validator 腿下单前的校验接口（交易对、数量、价格约束）。
type Validator interface {
	Check(symbol string, side gateway.Side, quantity, price float64) error
}

// TickSource 查询交易对的最小报价单位。未配置的交易对返回 false。
type TickSource func(symbol string) (float64, bool)

// Env 策略运行所需的外部协作者集合，由协调器注入。
type Env struct {
	Gateway   gateway.ExchangeGateway
	Validator Validator
	Tracker   *leg.Tracker
	Sched     sched.Scheduler
	Sink      leg.EventSink
	Ticks     TickSource
}

func (e Env) sink() leg.EventSink {
	if e.Sink == nil {
		return func(string, map[string]interface{}) {}
	}
	return e.Sink
}

func (e Env) tickFor(symbol string) float64 {
	if e.Ticks == nil {
		return 0
	}
	tick, ok := e.Ticks(symbol)
	if !ok {
		return 0
	}
	return tick
}

// snapToTick 把价格对齐到最近的 tick 整数倍。
// 策略计算出的价格（网格等分点、bookTicker 中间价）不保证落在
// tick 网格上，下单前必须对齐，否则会被交易所或下单前校验拒掉。
func snapToTick(price, tick float64) float64 {
	if tick <= 0 || price <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// Snapshot 策略对外快照。Degraded 表示存在 STATUS_UNKNOWN 腿或降级档位，
// 状态可信度下降，需要人工关注。
type Snapshot struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Symbol    string    `json:"symbol"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	Degraded  bool      `json:"degraded,omitempty"`
	Note      string    `json:"note,omitempty"`
	Legs      []leg.Leg `json:"legs"`

	TWAP *TWAPStats `json:"twap,omitempty"`
	Grid *GridStats `json:"grid,omitempty"`
}

// TWAPStats TWAP 执行统计。
type TWAPStats struct {
	ChunksFired   int     `json:"chunksFired"`
	ChunksSkipped int     `json:"chunksSkipped"`
	ExecutedQty   float64 `json:"executedQty"`
	AvgFillPrice  float64 `json:"avgFillPrice"`
	DeficitQty    float64 `json:"deficitQty"`
}

// GridStats 网格执行统计。
type GridStats struct {
	Levels         []LevelSnapshot `json:"levels"`
	Flips          int             `json:"flips"`
	DegradedLevels int             `json:"degradedLevels"`
	QuoteRequired  float64         `json:"quoteRequired"`
	BaseRequired   float64         `json:"baseRequired"`
}

// LevelSnapshot 单个网格档位快照。
type LevelSnapshot struct {
	Price float64      `json:"price"`
	Side  gateway.Side `json:"side"`
	State string       `json:"state"` // EMPTY / OPEN
	LegID string       `json:"legId,omitempty"`
}

// validate 所有参数结构共用的校验器。
var validate = validator.New()

// changeBufferSize 每个策略事件通道的缓冲大小。
const changeBufferSize = 64
