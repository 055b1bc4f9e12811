// Package retry 提供包裹远端操作的重试执行器。
// 所有的远端变更都经过这一个入口：要么成功，要么以终态错误失败，
// 要么（离线时）由调用方交给离线队列。
package retry

import (
	"context"
	"log"
	"time"

	"chatsync/internal/apperr"
	"chatsync/internal/config"
	"chatsync/internal/netmon"
)

// ErrOffline 在监视器报告后端不可达时立即返回，不做任何尝试。
// 调用方据此选择排队而不是向用户报错。
var ErrOffline = apperr.E(apperr.Offline, "后端不可达")

// Executor retries transient failures with capped exponential backoff.
// Terminal errors (validation, not-found, permission) are never retried.
type Executor struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	// Monitor, when set, short-circuits attempts while the backend is known
	// to be unreachable.
	Monitor *netmon.Monitor
}

// NewExecutor builds an Executor from configuration, applying defaults for
// unset values.
func NewExecutor(cfg config.RetryConfig, monitor *netmon.Monitor) *Executor {
	e := &Executor{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.BaseDelay,
		BackoffFactor: cfg.BackoffFactor,
		MaxDelay:      cfg.MaxDelay,
		Monitor:       monitor,
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 3
	}
	if e.BaseDelay <= 0 {
		e.BaseDelay = 500 * time.Millisecond
	}
	if e.BackoffFactor < 1.5 {
		e.BackoffFactor = 2.0
	}
	if e.MaxDelay <= 0 {
		e.MaxDelay = 30 * time.Second
	}
	return e
}

// Do invokes op, retrying transient failures up to MaxAttempts times.
// After exhausting attempts the last error is wrapped with failureMessage
// under the Transient kind, so callers surface it as a generic connection
// failure.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error, failureMessage string) error {
	if e.Monitor != nil && !e.Monitor.Reachable() {
		return ErrOffline
	}

	var lastErr error
	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !apperr.Retryable(err) {
			return err // 终态错误原样上浮，不得吞为可重试
		}
		lastErr = err
		log.Printf("瞬时错误，第 %d/%d 次尝试失败: %v", attempt+1, e.MaxAttempts, err)
	}
	return apperr.Wrap(apperr.Transient, failureMessage, lastErr)
}

// sleep waits for the backoff delay of the given attempt index, aborting
// early when the context is cancelled.
func (e *Executor) sleep(ctx context.Context, attempt int) error {
	delay := e.BaseDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * e.BackoffFactor)
		if delay >= e.MaxDelay {
			delay = e.MaxDelay
			break
		}
	}
	if delay > e.MaxDelay {
		delay = e.MaxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return apperr.Wrap(apperr.Transient, "重试等待期间取消", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// DoValue 是 Do 的泛型版本，用于返回值的操作。
func DoValue[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error), failureMessage string) (T, error) {
	var out T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, failureMessage)
	return out, err
}
