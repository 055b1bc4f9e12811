package offline

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store 是队列的持久化后端：一个仅在头部消费的有序字节串列表。
type Store interface {
	Append(ctx context.Context, entry []byte) error
	List(ctx context.Context) ([][]byte, error)
	RemoveHead(ctx context.Context) error
	Clear(ctx context.Context) error
}

const defaultQueueKey = "offline:actions"

// redisStore 基于 Redis list 实现 Store，队列内容在进程重启后仍然存在。
type redisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a durable Store over a redis list.
func NewRedisStore(client *redis.Client, key string) Store {
	if key == "" {
		key = defaultQueueKey
	}
	return &redisStore{client: client, key: key}
}

func (s *redisStore) Append(ctx context.Context, entry []byte) error {
	if err := s.client.RPush(ctx, s.key, entry).Err(); err != nil {
		return fmt.Errorf("RPUSH %s 失败: %w", s.key, err)
	}
	return nil
}

func (s *redisStore) List(ctx context.Context) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("LRANGE %s 失败: %w", s.key, err)
	}
	entries := make([][]byte, len(vals))
	for i, v := range vals {
		entries[i] = []byte(v)
	}
	return entries, nil
}

func (s *redisStore) RemoveHead(ctx context.Context) error {
	err := s.client.LPop(ctx, s.key).Err()
	if err == redis.Nil {
		return nil // 队列已空，视为成功
	}
	if err != nil {
		return fmt.Errorf("LPOP %s 失败: %w", s.key, err)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("DEL %s 失败: %w", s.key, err)
	}
	return nil
}

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and can
// serve as a non-durable fallback when redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries [][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(entry))
	copy(cp, entry)
	s.entries = append(s.entries, cp)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStore) RemoveHead(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) > 0 {
		s.entries = s.entries[1:]
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}
