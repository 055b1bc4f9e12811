// Package offline 实现离线写操作的持久化 FIFO 队列。
// 连接不可用时捕获的变更操作按到达顺序入队，重连后严格按序重放：
// 后入队的操作（发送消息）可能依赖先入队操作（创建会话）产生的实体。
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/apperr"
)

// 动作类型。payload 结构由注册对应 Handler 的服务定义。
const (
	ActionCreateConversation = "create_conversation"
	ActionSendMessage        = "send_message"
)

// Action 是队列中的一条待重放操作。
type Action struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Handler replays a single queued action. Handlers must re-derive the full
// effect from the payload (upsert semantics) instead of assuming partial
// state from an earlier, interrupted attempt.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Queue is a durable FIFO action queue over a pluggable Store. It is safe
// for concurrent use from multiple callers.
type Queue struct {
	store Store
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// Enqueue captures a mutating operation for later replay.
func (q *Queue) Enqueue(ctx context.Context, actionType string, payload any) (*Action, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化离线操作负载失败: %w", err)
	}
	action := &Action{
		ID:         uuid.NewString(),
		Type:       actionType,
		Payload:    raw,
		EnqueuedAt: time.Now(),
	}
	data, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("序列化离线操作失败: %w", err)
	}
	if err := q.store.Append(ctx, data); err != nil {
		return nil, fmt.Errorf("离线操作入队失败: %w", err)
	}
	log.Printf("离线操作已入队: type=%s id=%s", actionType, action.ID)
	return action, nil
}

// PeekAll returns the current queue contents in FIFO order without mutating
// the queue. Entries that fail to decode are skipped.
func (q *Queue) PeekAll(ctx context.Context) ([]Action, error) {
	entries, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取离线队列失败: %w", err)
	}
	actions := make([]Action, 0, len(entries))
	for _, raw := range entries {
		var a Action
		if err := json.Unmarshal(raw, &a); err != nil {
			log.Printf("警告: 跳过无法解码的队列条目: %v", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	entries, err := q.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Flush replays the queue in strict FIFO order.
//
// Per entry: on handler success the entry is removed and processing
// continues. On a transient/offline failure the entry is kept and processing
// stops, preserving causal order for the next flush. On a terminal failure
// the entry is discarded (it can never succeed) and processing stops so the
// caller sees the error. Entries with no registered handler are discarded.
func (q *Queue) Flush(ctx context.Context, handlers map[string]Handler) error {
	for {
		entries, err := q.store.List(ctx)
		if err != nil {
			return fmt.Errorf("读取离线队列失败: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		var action Action
		if err := json.Unmarshal(entries[0], &action); err != nil {
			log.Printf("警告: 丢弃无法解码的队列条目: %v", err)
			if err := q.store.RemoveHead(ctx); err != nil {
				return fmt.Errorf("移除损坏的队列条目失败: %w", err)
			}
			continue
		}

		handler, ok := handlers[action.Type]
		if !ok {
			log.Printf("警告: 丢弃无处理器的队列条目: type=%s id=%s", action.Type, action.ID)
			if err := q.store.RemoveHead(ctx); err != nil {
				return fmt.Errorf("移除队列条目失败: %w", err)
			}
			continue
		}

		if err := handler(ctx, action.Payload); err != nil {
			if apperr.Terminal(err) {
				// 终态错误重试无济于事，丢弃该条目避免队列永久卡死。
				log.Printf("队列条目重放遇到终态错误，已丢弃: type=%s id=%s err=%v", action.Type, action.ID, err)
				if rmErr := q.store.RemoveHead(ctx); rmErr != nil {
					return fmt.Errorf("移除失败的队列条目失败: %w", rmErr)
				}
				return err
			}
			// 瞬时失败：保留条目，停止处理，等待下一次上线重放。
			return fmt.Errorf("重放离线操作 %s (%s) 失败: %w", action.ID, action.Type, err)
		}

		if err := q.store.RemoveHead(ctx); err != nil {
			return fmt.Errorf("移除已重放的队列条目失败: %w", err)
		}
		log.Printf("离线操作重放成功: type=%s id=%s", action.Type, action.ID)
	}
}
