// MockHandler 阶段处理器的测试模拟实现。
//
// 按脚本依次返回结果，脚本耗尽后重复最后一步。
package mocks

import (
	"context"
	"maps"
	"sync"

	"github.com/BaSui01/campaignflow/workflow"
)

// Step 处理器单次调用的脚本
type Step struct {
	Data map[string]any
	Err  error
}

// MockHandler 是 workflow.StageHandler 的模拟实现
type MockHandler struct {
	mu     sync.Mutex
	steps  []Step
	block  bool
	states []*workflow.WorkflowState
}

var _ workflow.StageHandler = (*MockHandler)(nil)

// NewMockHandler 创建默认返回空数据的处理器
func NewMockHandler(steps ...Step) *MockHandler {
	return &MockHandler{steps: steps}
}

// Returning 每次调用返回 data
func Returning(data map[string]any) *MockHandler {
	return NewMockHandler(Step{Data: data})
}

// Failing 每次调用返回 err
func Failing(err error) *MockHandler {
	return NewMockHandler(Step{Err: err})
}

// Blocking 阻塞直到 ctx 取消
func Blocking() *MockHandler {
	return &MockHandler{block: true}
}

// Handle 实现 workflow.StageHandler
func (m *MockHandler) Handle(ctx context.Context, state *workflow.WorkflowState) (*workflow.StageResult, error) {
	m.mu.Lock()
	m.states = append(m.states, state)
	n := len(m.states)
	block := m.block
	var step Step
	if len(m.steps) > 0 {
		step = m.steps[min(n, len(m.steps))-1]
	}
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &workflow.StageResult{Data: maps.Clone(step.Data)}, nil
}

// Calls 返回调用次数
func (m *MockHandler) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// States 返回每次调用收到的状态
func (m *MockHandler) States() []*workflow.WorkflowState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*workflow.WorkflowState(nil), m.states...)
}
