package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/internal/cache"
	"github.com/BaSui01/campaignflow/workflow"
)

// =============================================================================
// 🗄️ Redis Checkpoint Store
// =============================================================================

// RedisStore 基于 cache.Manager 的快照存储，键为 <prefix><workflow_id>
type RedisStore struct {
	cache  *cache.Manager
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 快照存储；ttl <= 0 表示永不过期
func NewRedisStore(c *cache.Manager, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = -1
	}
	return &RedisStore{
		cache:  c,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Save 覆盖写快照
func (s *RedisStore) Save(ctx context.Context, id string, state *workflow.WorkflowState) error {
	if state == nil {
		return fmt.Errorf("save checkpoint %s: state is nil", id)
	}
	if err := s.cache.SetJSON(ctx, s.key(id), state, s.ttl); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", id, err)
	}
	s.logger.Debug("checkpoint saved",
		zap.String("workflow_id", id),
		zap.String("status", string(state.Status)),
		zap.Int64("version", state.Version))
	return nil
}

// Load 读取快照
func (s *RedisStore) Load(ctx context.Context, id string) (*workflow.WorkflowState, error) {
	var st workflow.WorkflowState
	if err := s.cache.GetJSON(ctx, s.key(id), &st); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, fmt.Errorf("checkpoint %s: %w", id, workflow.ErrCheckpointNotFound)
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return &st, nil
}

// List 扫描前缀下的全部快照并按状态过滤，按创建时间升序
func (s *RedisStore) List(ctx context.Context, statuses ...workflow.Status) ([]*workflow.WorkflowState, error) {
	keys, err := s.cache.ScanKeys(ctx, s.prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := make([]*workflow.WorkflowState, 0, len(keys))
	for _, k := range keys {
		st, err := s.Load(ctx, strings.TrimPrefix(k, s.prefix))
		if errors.Is(err, workflow.ErrCheckpointNotFound) {
			// 扫描与读取之间过期
			continue
		}
		if err != nil {
			s.logger.Warn("skip unreadable checkpoint", zap.String("key", k), zap.Error(err))
			continue
		}
		if len(statuses) == 0 || slices.Contains(statuses, st.Status) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete 删除快照
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, s.key(id)); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}
