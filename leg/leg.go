package leg

import (
	"time"

	"strategy-engine-go/gateway"
)

// Status 腿的生命周期状态（本地视角，与交易所状态集合不同）。
type Status string

const (
	StatusPending       Status = "PENDING"          // 尚未提交到交易所
	StatusOpen          Status = "OPEN"             // 已挂出
	StatusPartial       Status = "PARTIALLY_FILLED" // 部分成交
	StatusFilled        Status = "FILLED"           // 全部成交
	StatusCancelPending Status = "CANCEL_PENDING"   // 已发撤单待确认
	StatusCancelled     Status = "CANCELLED"        // 已撤销
	StatusRejected      Status = "REJECTED"         // 被拒绝
	StatusUnknown       Status = "STATUS_UNKNOWN"   // 连续轮询失败，状态不可信
)

// Leg 组合策略中的单条交易所订单。
// Role 标识其在策略内的角色，例如 take-profit、chunk-3、grid-level-2。
type Leg struct {
	ID         string
	Role       string
	Symbol     string
	Side       gateway.Side
	Type       gateway.OrderType
	Price      float64
	StopPrice  float64
	Quantity   float64
	OrderID    string
	Status     Status
	FilledQty  float64
	AvgPrice   float64
	LastPollAt time.Time
}

// Live 判断腿是否仍可能产生成交。
func (l *Leg) Live() bool {
	return l.Status == StatusOpen || l.Status == StatusPartial || l.Status == StatusCancelPending
}

// FromOrderStatus 把交易所状态映射到腿状态。
func FromOrderStatus(s gateway.OrderStatus) Status {
	switch s {
	case gateway.OrderNew:
		return StatusOpen
	case gateway.OrderPartiallyFilled:
		return StatusPartial
	case gateway.OrderFilled:
		return StatusFilled
	case gateway.OrderCanceled, gateway.OrderExpired:
		return StatusCancelled
	case gateway.OrderRejected:
		return StatusRejected
	default:
		return StatusUnknown
	}
}
