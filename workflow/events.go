package workflow

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType 工作流事件类型
type EventType string

const (
	EventWorkflowStarted     EventType = "workflow_started"
	EventNodeStarted         EventType = "node_started"
	EventNodeCompleted       EventType = "node_completed"
	EventNodeFailed          EventType = "node_failed"
	EventNodeRetry           EventType = "node_retry"
	EventWorkflowInterrupted EventType = "workflow_interrupted"
	EventWorkflowResumed     EventType = "workflow_resumed"
	EventWorkflowCompleted   EventType = "workflow_completed"
	EventWorkflowFailed      EventType = "workflow_failed"
)

// Event 工作流生命周期事件
type Event struct {
	Type       EventType      `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	GraphID    string         `json:"graph_id"`
	NodeID     string         `json:"node_id,omitempty"`
	Status     Status         `json:"status"`
	Attempt    int            `json:"attempt,omitempty"`
	Error      string         `json:"error,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type subscription struct {
	id         uint64
	workflowID string
	mu         sync.Mutex
	ch         chan Event
	closed     bool
}

// EventBus 将事件分发到有界的订阅通道。
// 通道满时按次数重试，仍失败则丢弃该订阅者的本条事件，发布方不会无限阻塞。
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64

	buffer     int
	retries    int
	retryDelay time.Duration
	dropped    atomic.Int64
	logger     *zap.Logger
}

// NewEventBus 创建事件总线
func NewEventBus(buffer, retries int, logger *zap.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subs:       make(map[uint64]*subscription),
		buffer:     buffer,
		retries:    retries,
		retryDelay: time.Millisecond,
		logger:     logger.With(zap.String("component", "event_bus")),
	}
}

// Subscribe 订阅事件，workflowID 为空表示订阅全部实例。
// 返回的取消函数可重复调用，调用后通道关闭。
func (b *EventBus) Subscribe(workflowID string) (<-chan Event, func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{
		id:         b.nextID,
		workflowID: workflowID,
		ch:         make(chan Event, b.buffer),
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()

			sub.mu.Lock()
			sub.closed = true
			close(sub.ch)
			sub.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish 投递事件
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.workflowID == "" || s.workflowID == e.WorkflowID {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if !b.deliver(s, e) {
			b.dropped.Add(1)
			b.logger.Warn("event dropped for slow subscriber",
				zap.Uint64("subscriber", s.id),
				zap.String("type", string(e.Type)),
				zap.String("workflow_id", e.WorkflowID))
		}
	}
}

func (b *EventBus) deliver(s *subscription, e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	for attempt := 0; ; attempt++ {
		select {
		case s.ch <- e:
			return true
		default:
		}
		if attempt >= b.retries {
			return false
		}
		time.Sleep(b.retryDelay * time.Duration(attempt+1))
	}
}

// Dropped 返回累计丢弃的事件数
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers 返回当前订阅者数量
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
