// MockCheckpointStore 快照存储的测试模拟实现。
//
// 包装 workflow.MemoryStore，支持第 N 次保存失败与保存历史记录。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/campaignflow/workflow"
)

// MockCheckpointStore 记录每次保存的状态序列
type MockCheckpointStore struct {
	*workflow.MemoryStore

	mu        sync.Mutex
	saves     []workflow.Status
	failAfter int
	failErr   error
}

var (
	_ workflow.CheckpointStore  = (*MockCheckpointStore)(nil)
	_ workflow.CheckpointLister = (*MockCheckpointStore)(nil)
)

// NewMockCheckpointStore 创建存储
func NewMockCheckpointStore() *MockCheckpointStore {
	return &MockCheckpointStore{MemoryStore: workflow.NewMemoryStore()}
}

// WithFailAfter 成功 n 次保存后，后续保存返回 err
func (m *MockCheckpointStore) WithFailAfter(n int, err error) *MockCheckpointStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.failErr = err
	return m
}

// Save 记录状态后委托给内存存储
func (m *MockCheckpointStore) Save(ctx context.Context, id string, state *workflow.WorkflowState) error {
	m.mu.Lock()
	if m.failErr != nil && len(m.saves) >= m.failAfter {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	m.saves = append(m.saves, state.Status)
	m.mu.Unlock()
	return m.MemoryStore.Save(ctx, id, state)
}

// SavedStatuses 返回保存过的状态序列
func (m *MockCheckpointStore) SavedStatuses() []workflow.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]workflow.Status(nil), m.saves...)
}
