// Package cooldown 提供按 key 的时间窗口冷却存储，用于告警去抖。
package cooldown

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"printforge/internal/pkg/redis"
)

// Store 在窗口期内对同一个 key 只放行一次
type Store interface {
	// Acquire 若 key 不在冷却期内则占用它并返回 true
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// MemoryStore 是进程内实现，适合单实例部署和测试
type MemoryStore struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{until: make(map[string]time.Time), now: time.Now}
}

// WithClock 替换时钟
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.until[key]; ok && now.Before(until) {
		return false, nil
	}
	s.until[key] = now.Add(window)

	// 顺带清理过期的 key，防止 map 无限增长
	for k, until := range s.until {
		if !now.Before(until) {
			delete(s.until, k)
		}
	}
	return true, nil
}

// RedisStore 基于 SET NX PX，适合多实例部署
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cooldown:"
	}
	return &RedisStore{client: client.GetClient(), prefix: prefix}
}

func (s *RedisStore) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), window).Result()
}
