package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatsync/internal/apperr"
	"chatsync/internal/config"
	"chatsync/internal/netmon"
)

func newTestExecutor(monitor *netmon.Monitor) *Executor {
	return &Executor{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Millisecond,
		Monitor:       monitor,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	e := newTestExecutor(nil)
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, "不应出现")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransientUntilExhausted(t *testing.T) {
	e := newTestExecutor(nil)
	calls := 0
	transient := apperr.E(apperr.Transient, "连接超时")
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	}, "操作失败")
	if calls != e.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", e.MaxAttempts, calls)
	}
	if apperr.KindOf(err) != apperr.Transient {
		t.Fatalf("exhausted retries should surface as Transient, got %v", apperr.KindOf(err))
	}
	if !errors.Is(err, transient) {
		t.Fatal("the last underlying error should be preserved in the chain")
	}
}

func TestDoRecoversMidway(t *testing.T) {
	e := newTestExecutor(nil)
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return apperr.E(apperr.Transient, "抖动")
		}
		return nil
	}, "操作失败")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDoTerminalErrorNotRetried(t *testing.T) {
	e := newTestExecutor(nil)
	calls := 0
	forbidden := apperr.E(apperr.Forbidden, "没有权限")
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return forbidden
	}, "操作失败")
	if calls != 1 {
		t.Fatalf("terminal error should not be retried, got %d attempts", calls)
	}
	if !errors.Is(err, forbidden) {
		t.Fatal("terminal error should surface unchanged")
	}
}

func TestDoOfflineShortCircuits(t *testing.T) {
	monitor := netmon.NewMonitor(nil)
	monitor.SetOnline(false)
	e := newTestExecutor(monitor)

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, "操作失败")
	if calls != 0 {
		t.Fatalf("offline executor must not invoke the operation, got %d calls", calls)
	}
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if apperr.KindOf(err) != apperr.Offline {
		t.Fatalf("ErrOffline should carry the Offline kind, got %v", apperr.KindOf(err))
	}
}

func TestDoContextCancelledDuringBackoff(t *testing.T) {
	e := newTestExecutor(nil)
	e.BaseDelay = time.Minute // 退避期间取消应立即返回
	e.MaxDelay = time.Minute  // 不让 MaxDelay 把退避截短到取消之前

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- e.Do(ctx, func(ctx context.Context) error {
			calls++
			return apperr.E(apperr.Transient, "抖动")
		}, "操作失败")
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled in chain, got %v", err)
		}
		if calls != 1 {
			t.Fatalf("expected 1 attempt before cancellation, got %d", calls)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDoValueReturnsValue(t *testing.T) {
	e := newTestExecutor(nil)
	calls := 0
	got, err := DoValue(context.Background(), e, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, apperr.E(apperr.Transient, "抖动")
		}
		return 42, nil
	}, "操作失败")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestNewExecutorAppliesDefaults(t *testing.T) {
	e := NewExecutor(config.RetryConfig{}, nil)
	if e.MaxAttempts != 3 {
		t.Errorf("default MaxAttempts = %d, want 3", e.MaxAttempts)
	}
	if e.BaseDelay != 500*time.Millisecond {
		t.Errorf("default BaseDelay = %v, want 500ms", e.BaseDelay)
	}
	if e.BackoffFactor != 2.0 {
		t.Errorf("default BackoffFactor = %v, want 2.0", e.BackoffFactor)
	}
	if e.MaxDelay != 30*time.Second {
		t.Errorf("default MaxDelay = %v, want 30s", e.MaxDelay)
	}
}
