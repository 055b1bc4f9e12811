// Package apperr defines the error taxonomy shared by the retry executor,
// the offline queue and the service layer. Every remote failure is mapped to
// a Kind; the retry executor only ever retries Transient, everything else is
// terminal and surfaces immediately to the caller.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies an error for retry and presentation purposes.
type Kind int

const (
	Internal  Kind = iota // 未分类错误，按终态处理
	Transient             // 网络/超时类，可重试
	NotFound              // 实体不存在
	Forbidden             // 权限不足（例如非发送者为所有人删除）
	Conflict              // 重复的 pending 请求、去重竞态，调用方应重新获取
	Blocked               // 拉黑关系阻止了该操作
	Offline               // 无连接，触发排队而不是用户可见失败
	Invalid               // 参数校验失败
)

// String returns a short name for logging.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case Blocked:
		return "blocked"
	case Offline:
		return "offline"
	case Invalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Error 携带 Kind 的错误。服务层的哨兵错误变量都是 *Error，
// 依旧通过 errors.Is 匹配。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values by Kind and Message, so sentinel errors
// created with E can be compared with errors.Is after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// E creates a terminal-or-otherwise error of the given kind.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf walks the error chain and returns the most specific Kind.
// Driver-level errors are classified here so that call sites never inspect
// error strings themselves.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return Conflict
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	// 驱动在连接层失败时不总是返回 net.Error，这里兜底匹配常见文案。
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "i/o timeout", "no such host", "EOF"} {
		if strings.Contains(msg, s) {
			return Transient
		}
	}
	return Internal
}

// Retryable reports whether the retry executor may try err again.
func Retryable(err error) bool {
	return KindOf(err) == Transient
}

// Terminal reports whether err is final: neither retryable nor an offline
// signal that would queue the operation instead.
func Terminal(err error) bool {
	k := KindOf(err)
	return k != Transient && k != Offline
}
