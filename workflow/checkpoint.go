package workflow

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// CheckpointStore 工作流状态的持久化快照，按实例 ID 覆盖写（last-write-wins）。
// Load 在不存在时返回 ErrCheckpointNotFound。
type CheckpointStore interface {
	Save(ctx context.Context, id string, state *WorkflowState) error
	Load(ctx context.Context, id string) (*WorkflowState, error)
}

// CheckpointLister 可按状态枚举实例的存储，Recover 依赖此能力
type CheckpointLister interface {
	List(ctx context.Context, statuses ...Status) ([]*WorkflowState, error)
}

// CheckpointDeleter 支持删除快照的存储
type CheckpointDeleter interface {
	Delete(ctx context.Context, id string) error
}

// MemoryStore 进程内快照存储，用于测试与单机部署
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*WorkflowState
}

// NewMemoryStore 创建进程内存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*WorkflowState)}
}

func (m *MemoryStore) Save(_ context.Context, id string, state *WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = state.Clone()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context, statuses ...Status) ([]*WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkflowState, 0, len(m.states))
	for _, s := range m.states {
		if len(statuses) == 0 || slices.Contains(statuses, s.Status) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}
