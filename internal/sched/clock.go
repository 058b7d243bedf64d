package sched

import (
	"context"
	"time"
)

// Clock 抽象时间便于测试。
type Clock interface {
	Now() time.Time
}

// Scheduler 在 Clock 之上提供可取消的挂起原语。
// 所有策略的等待（TWAP 下一分片、轮询间隔、退避延迟）都应经由它，
// 保证用户取消能在一个 tick 内生效，而不是等到自然醒来。
type Scheduler interface {
	Clock
	// WaitUntil 阻塞到 t 或 ctx 取消，取消时返回 ctx.Err()。
	WaitUntil(ctx context.Context, t time.Time) error
	// Sleep 阻塞 d 或 ctx 取消。
	Sleep(ctx context.Context, d time.Duration) error
}

type realScheduler struct{}

func (realScheduler) Now() time.Time { return time.Now() }

func (s realScheduler) WaitUntil(ctx context.Context, t time.Time) error {
	return s.Sleep(ctx, time.Until(t))
}

func (realScheduler) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// 仍然检查取消，保持语义一致。
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Real 返回基于 time 包的默认实现。
func Real() Scheduler { return realScheduler{} }
