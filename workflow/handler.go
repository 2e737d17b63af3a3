package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// StageHandler 节点的执行单元，可在内部调用供应商路由。
// state 是实例状态的副本，修改不会回写。
type StageHandler interface {
	Handle(ctx context.Context, state *WorkflowState) (*StageResult, error)
}

// HandlerFunc 将普通函数适配为 StageHandler
type HandlerFunc func(ctx context.Context, state *WorkflowState) (*StageResult, error)

func (f HandlerFunc) Handle(ctx context.Context, state *WorkflowState) (*StageResult, error) {
	return f(ctx, state)
}

// HandlerRegistry 按名称登记处理器，供声明式图定义引用
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]StageHandler
}

// NewHandlerRegistry 创建处理器注册表
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]StageHandler)}
}

// Register 登记处理器，名称重复时返回错误
func (r *HandlerRegistry) Register(name string, h StageHandler) error {
	if name == "" || h == nil {
		return fmt.Errorf("handler name and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister 同 Register，失败时 panic
func (r *HandlerRegistry) MustRegister(name string, h StageHandler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

// Get 按名称查找处理器
func (r *HandlerRegistry) Get(name string) (StageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names 返回已登记的名称（排序）
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
