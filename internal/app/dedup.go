package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	redisstorage "github.com/taoyao-code/acs-server/internal/storage/redis"
)

const dedupKeyPrefix = "acs:alert:dedup"

// Deduper 告警去重器。Allow 返回 true 表示该 key 在窗口内首次出现。
type Deduper interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedisDeduper 基于 Redis SetNX 的去重器（多实例部署时共享窗口）
type RedisDeduper struct {
	client *redisstorage.Client
	logger *zap.Logger
}

// NewRedisDeduper 创建 Redis 去重器
func NewRedisDeduper(client *redisstorage.Client, logger *zap.Logger) *RedisDeduper {
	return &RedisDeduper{client: client, logger: logger}
}

// Allow 用 SetNX 原子判定窗口内是否首次出现
func (d *RedisDeduper) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	if d == nil || d.client == nil {
		return false, fmt.Errorf("deduper not initialized")
	}
	full := fmt.Sprintf("%s:%s", dedupKeyPrefix, key)
	ok, err := d.client.SetNX(ctx, full, "1", window).Result()
	if err != nil {
		d.logger.Error("alert dedup check failed", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// MemoryDeduper 进程内去重器（未启用 Redis 的部署与测试用）
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDeduper 创建内存去重器
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time)}
}

// Allow 窗口内首次出现返回 true，同时懒清理过期条目
func (d *MemoryDeduper) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, expires := range d.seen {
		if now.After(expires) {
			delete(d.seen, k)
		}
	}
	if expires, ok := d.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	d.seen[key] = now.Add(window)
	return true, nil
}
