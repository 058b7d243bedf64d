package leg

import "fmt"

// StateTransition 状态转换。
type StateTransition struct {
	From Status
	To   Status
}

// transitions 所有合法的状态转换。
// FILLED 之后不允许任何回退，保证轮询观察的单调性。
var transitions = map[StateTransition]bool{
	// 从 PENDING：从未到达交易所的腿可被本地撤销
	{StatusPending, StatusOpen}:      true,
	{StatusPending, StatusRejected}:  true,
	{StatusPending, StatusCancelled}: true,

	// 从 OPEN
	{StatusOpen, StatusPartial}:       true,
	{StatusOpen, StatusFilled}:        true,
	{StatusOpen, StatusCancelPending}: true,
	{StatusOpen, StatusCancelled}:     true,
	{StatusOpen, StatusUnknown}:       true,

	// 从 PARTIALLY_FILLED
	{StatusPartial, StatusPartial}:       true, // 多次部分成交
	{StatusPartial, StatusFilled}:        true,
	{StatusPartial, StatusCancelPending}: true,
	{StatusPartial, StatusCancelled}:     true,
	{StatusPartial, StatusUnknown}:       true,

	// 从 CANCEL_PENDING：撤单途中可能成交
	{StatusCancelPending, StatusCancelled}: true,
	{StatusCancelPending, StatusFilled}:    true,
	{StatusCancelPending, StatusPartial}:   true,
	{StatusCancelPending, StatusUnknown}:   true,

	// 从 STATUS_UNKNOWN：恢复到任何可观察状态
	{StatusUnknown, StatusOpen}:      true,
	{StatusUnknown, StatusPartial}:   true,
	{StatusUnknown, StatusFilled}:    true,
	{StatusUnknown, StatusCancelled}: true,
	{StatusUnknown, StatusRejected}:  true,

	// 终态（FILLED、CANCELLED、REJECTED）不再转换
}

// ValidateTransition 校验状态转换；相同状态幂等放行。
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal leg transition: %s -> %s", from, to)
	}
	return nil
}

// IsFinal 判断是否终态。
func IsFinal(s Status) bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}
