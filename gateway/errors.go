package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrAlreadyTerminal 撤单时订单已处于终态（已成交/已撤销）。
	ErrAlreadyTerminal = errors.New("order already terminal")
	// ErrUnknownOrder 交易所查不到该订单。
	ErrUnknownOrder = errors.New("unknown order")
	// ErrPriceUnavailable 当前无可用价格。
	ErrPriceUnavailable = errors.New("price unavailable")
)

// RejectionError 交易所明确拒单（余额不足、精度错误等），不可重试。
type RejectionError struct {
	Code   int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway rejection (code %d): %s", e.Code, e.Reason)
}

// IsRejection 判断是否为明确拒单。
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsTransient 判断错误是否可重试：网络类错误、超时归为瞬时，
// 拒单与终态冲突不是。未知错误保守地视为瞬时，交给退避重试兜底。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRejection(err) || errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrUnknownOrder) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return true
}
