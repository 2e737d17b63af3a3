// MockAdapter 供应商适配器的测试模拟实现。
//
// 支持固定输出、错误注入、前 N 次失败与延迟。
package mocks

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/BaSui01/campaignflow/routing"
)

// MockAdapter 是 routing.ServiceAdapter 的模拟实现
type MockAdapter struct {
	mu sync.Mutex

	output    map[string]any
	cost      float64
	err       error
	healthErr error
	failTimes int
	delay     time.Duration
	invokeFn  func(ctx context.Context, req *routing.VendorRequest) (*routing.VendorResponse, error)

	calls []routing.VendorRequest
}

var _ routing.ServiceAdapter = (*MockAdapter)(nil)

// NewMockAdapter 创建默认成功的适配器
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{output: map[string]any{}}
}

// WithOutput 设置固定输出
func (m *MockAdapter) WithOutput(out map[string]any) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output = maps.Clone(out)
	return m
}

// WithCost 设置实际成本
func (m *MockAdapter) WithCost(cost float64) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cost = cost
	return m
}

// WithError 每次调用都返回 err
func (m *MockAdapter) WithError(err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithHealthError 设置健康检查错误
func (m *MockAdapter) WithHealthError(err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
	return m
}

// WithFailTimes 前 n 次调用返回 err，之后成功
func (m *MockAdapter) WithFailTimes(n int, err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	m.err = err
	return m
}

// WithDelay 设置调用延迟，尊重 ctx 取消
func (m *MockAdapter) WithDelay(d time.Duration) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithInvokeFunc 设置自定义调用逻辑
func (m *MockAdapter) WithInvokeFunc(fn func(ctx context.Context, req *routing.VendorRequest) (*routing.VendorResponse, error)) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeFn = fn
	return m
}

// Invoke 实现 routing.ServiceAdapter
func (m *MockAdapter) Invoke(ctx context.Context, req *routing.VendorRequest) (*routing.VendorResponse, error) {
	m.mu.Lock()
	call := *req
	call.Payload = maps.Clone(req.Payload)
	m.calls = append(m.calls, call)
	n := len(m.calls)
	out, cost, err, failTimes, delay, fn := maps.Clone(m.output), m.cost, m.err, m.failTimes, m.delay, m.invokeFn
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil && (failTimes == 0 || n <= failTimes) {
		return nil, err
	}
	return &routing.VendorResponse{Output: out, Cost: cost}, nil
}

// HealthCheck 实现 routing.ServiceAdapter
func (m *MockAdapter) HealthCheck(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthErr
}

// Calls 返回调用记录副本
func (m *MockAdapter) Calls() []routing.VendorRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]routing.VendorRequest(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
