package routing

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/BaSui01/campaignflow/internal/cache"
)

// QuotaCounter 供应商配额用量计数。Increment 必须原子，
// 用量只增不减，仅 Set/Reset 可回写（外部调度器或运维修改）。
type QuotaCounter interface {
	Usage(ctx context.Context, vendorID string) (int64, error)
	Increment(ctx context.Context, vendorID string) (int64, error)
	Set(ctx context.Context, vendorID string, usage int64) error
	Reset(ctx context.Context, vendorID string) error
}

// MemoryQuotaCounter 进程内计数，每个供应商一个原子计数器
type MemoryQuotaCounter struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

// NewMemoryQuotaCounter 创建进程内配额计数器
func NewMemoryQuotaCounter() *MemoryQuotaCounter {
	return &MemoryQuotaCounter{counters: make(map[string]*atomic.Int64)}
}

func (c *MemoryQuotaCounter) counter(vendorID string) *atomic.Int64 {
	c.mu.RLock()
	ctr, ok := c.counters[vendorID]
	c.mu.RUnlock()
	if ok {
		return ctr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok = c.counters[vendorID]; ok {
		return ctr
	}
	ctr = new(atomic.Int64)
	c.counters[vendorID] = ctr
	return ctr
}

func (c *MemoryQuotaCounter) Usage(_ context.Context, vendorID string) (int64, error) {
	return c.counter(vendorID).Load(), nil
}

func (c *MemoryQuotaCounter) Increment(_ context.Context, vendorID string) (int64, error) {
	return c.counter(vendorID).Add(1), nil
}

func (c *MemoryQuotaCounter) Set(_ context.Context, vendorID string, usage int64) error {
	c.counter(vendorID).Store(usage)
	return nil
}

func (c *MemoryQuotaCounter) Reset(ctx context.Context, vendorID string) error {
	return c.Set(ctx, vendorID, 0)
}

// RedisQuotaCounter 基于 Redis INCR 的跨进程配额计数
type RedisQuotaCounter struct {
	cache  *cache.Manager
	prefix string
}

// NewRedisQuotaCounter 创建 Redis 配额计数器
func NewRedisQuotaCounter(m *cache.Manager, prefix string) *RedisQuotaCounter {
	if prefix == "" {
		prefix = "campaignflow:quota:"
	}
	return &RedisQuotaCounter{cache: m, prefix: prefix}
}

func (c *RedisQuotaCounter) key(vendorID string) string {
	return c.prefix + vendorID
}

func (c *RedisQuotaCounter) Usage(ctx context.Context, vendorID string) (int64, error) {
	return c.cache.GetInt(ctx, c.key(vendorID))
}

func (c *RedisQuotaCounter) Increment(ctx context.Context, vendorID string) (int64, error) {
	return c.cache.Incr(ctx, c.key(vendorID))
}

func (c *RedisQuotaCounter) Set(ctx context.Context, vendorID string, usage int64) error {
	return c.cache.Set(ctx, c.key(vendorID), strconv.FormatInt(usage, 10), -1)
}

func (c *RedisQuotaCounter) Reset(ctx context.Context, vendorID string) error {
	return c.cache.Delete(ctx, c.key(vendorID))
}
