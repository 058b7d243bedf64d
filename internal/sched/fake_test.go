package sched

import (
	"context"
	"testing"
	"time"
)

func TestFakeSchedulerAdvanceWakesWaiters(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	done := make(chan error, 1)
	go func() {
		done <- f.WaitUntil(context.Background(), start.Add(10*time.Second))
	}()

	waitForWaiters(t, f, 1)
	f.Advance(5 * time.Second)
	select {
	case <-done:
		t.Fatal("waiter woke before its deadline")
	case <-time.After(20 * time.Millisecond):
	}

	f.Advance(5 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken at deadline")
	}
	if !f.Now().Equal(start.Add(10 * time.Second)) {
		t.Fatalf("clock not advanced: %v", f.Now())
	}
}

func TestFakeSchedulerPastDeadlineReturnsImmediately(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	if err := f.WaitUntil(context.Background(), start.Add(-time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFakeSchedulerCancellation(t *testing.T) {
	f := NewFake(time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.Sleep(ctx, time.Hour)
	}()
	waitForWaiters(t, f, 1)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not interrupt sleep")
	}
}

func TestRealSchedulerCancelledSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Real().Sleep(ctx, 0); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func waitForWaiters(t *testing.T, f *FakeScheduler, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.WaiterCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d waiters", n)
}
