package sched

import (
	"context"
	"sync"
	"time"
)

// FakeScheduler 手动推进时间的测试实现。
// WaitUntil 登记一个 waiter，Advance 推进虚拟时钟并唤醒到期的 waiter。
type FakeScheduler struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan struct{}
}

// NewFake 以给定起始时间创建 FakeScheduler。
func NewFake(start time.Time) *FakeScheduler {
	return &FakeScheduler{now: start}
}

func (f *FakeScheduler) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeScheduler) WaitUntil(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	if !t.After(f.now) {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	w := &fakeWaiter{deadline: t, ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

func (f *FakeScheduler) Sleep(ctx context.Context, d time.Duration) error {
	return f.WaitUntil(ctx, f.Now().Add(d))
}

// Advance 把虚拟时钟前移 d 并唤醒所有到期 waiter。
func (f *FakeScheduler) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	remaining := f.waiters[:0]
	var fired []*fakeWaiter
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			fired = append(fired, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
	f.mu.Unlock()
	for _, w := range fired {
		close(w.ch)
	}
}

// WaiterCount 返回当前挂起的 waiter 数（测试用，便于等待策略进入挂起点）。
func (f *FakeScheduler) WaiterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}
