package workflow

import (
	"maps"
	"slices"
	"time"
)

// Status 工作流实例状态
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusRunning, StatusFailed},
	StatusRunning:     {StatusInterrupted, StatusCompleted, StatusFailed},
	StatusInterrupted: {StatusRunning, StatusFailed},
}

// CanTransitionTo 报告状态迁移是否合法
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// IsTerminal 报告是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid 报告是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusInterrupted, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// StageStatus 单次节点执行结果
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageError   StageStatus = "error"
)

// StageResult 节点的一次执行记录，创建后不再修改
type StageResult struct {
	NodeID     string         `json:"node_id"`
	Status     StageStatus    `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	VendorUsed string         `json:"vendor_used,omitempty"`
	Cost       float64        `json:"cost,omitempty"`
	LatencyMs  int64          `json:"latency_ms,omitempty"`
	Attempt    int            `json:"attempt"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Succeeded 报告本次执行是否成功
func (r StageResult) Succeeded() bool {
	return r.Status == StageSuccess
}

func (r StageResult) clone() StageResult {
	r.Data = cloneMap(r.Data)
	return r
}

// 人工审核的标准取值
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Decision 外部对中断点做出的决定
type Decision struct {
	// NodeID 可选；非空时仅当等待的中断点与之相同才恢复
	NodeID  string         `json:"node_id,omitempty"`
	Value   string         `json:"value"`
	Comment string         `json:"comment,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// PendingDecision 中断点上等待的决定
type PendingDecision struct {
	NodeID      string    `json:"node_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// WorkflowState 工作流实例的完整状态。
// 只由运行该实例的 goroutine 修改，对外发布的都是深拷贝。
type WorkflowState struct {
	ID              string                 `json:"id"`
	GraphID         string                 `json:"graph_id"`
	Status          Status                 `json:"status"`
	CurrentNode     string                 `json:"current_node"`
	// NodeDone 当前节点已执行成功或已收到决定，只差解析出边；进入新节点时清除
	NodeDone        bool                   `json:"node_done,omitempty"`
	Results         map[string]StageResult `json:"results"`
	Errors          map[string]string      `json:"errors"`
	Metadata        map[string]any         `json:"metadata"`
	RetryCount      int                    `json:"retry_count"`
	NodeRetries     map[string]int         `json:"node_retries"`
	InterruptPoints []string               `json:"interrupt_points"`
	PendingDecision *PendingDecision       `json:"pending_decision,omitempty"`
	History         []StageResult          `json:"history"`
	Inputs          map[string]any         `json:"inputs"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
	Version         int64                  `json:"version"`
}

// NewWorkflowState 创建 pending 状态的实例
func NewWorkflowState(id, graphID, entry string, interruptPoints []string, inputs map[string]any) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		ID:              id,
		GraphID:         graphID,
		Status:          StatusPending,
		CurrentNode:     entry,
		Results:         make(map[string]StageResult),
		Errors:          make(map[string]string),
		Metadata:        make(map[string]any),
		NodeRetries:     make(map[string]int),
		InterruptPoints: slices.Clone(interruptPoints),
		History:         make([]StageResult, 0),
		Inputs:          cloneMap(inputs),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone 深拷贝
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	c := *s
	c.Results = make(map[string]StageResult, len(s.Results))
	for k, v := range s.Results {
		c.Results[k] = v.clone()
	}
	c.Errors = maps.Clone(s.Errors)
	c.Metadata = cloneMap(s.Metadata)
	c.NodeRetries = maps.Clone(s.NodeRetries)
	c.InterruptPoints = slices.Clone(s.InterruptPoints)
	if s.PendingDecision != nil {
		pd := *s.PendingDecision
		c.PendingDecision = &pd
	}
	c.History = make([]StageResult, len(s.History))
	for i, r := range s.History {
		c.History[i] = r.clone()
	}
	c.Inputs = cloneMap(s.Inputs)
	return &c
}

// normalize 补齐反序列化后可能为 nil 的集合
func (s *WorkflowState) normalize() {
	if s.Results == nil {
		s.Results = make(map[string]StageResult)
	}
	if s.Errors == nil {
		s.Errors = make(map[string]string)
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	if s.NodeRetries == nil {
		s.NodeRetries = make(map[string]int)
	}
	if s.History == nil {
		s.History = make([]StageResult, 0)
	}
	if s.Inputs == nil {
		s.Inputs = make(map[string]any)
	}
}

// LastResult 返回最近一次执行记录
func (s *WorkflowState) LastResult() (StageResult, bool) {
	if len(s.History) == 0 {
		return StageResult{}, false
	}
	return s.History[len(s.History)-1], true
}

// Result 返回节点最近一次执行记录
func (s *WorkflowState) Result(nodeID string) (StageResult, bool) {
	r, ok := s.Results[nodeID]
	return r, ok
}

// Decision 返回节点收到的人工决定
func (s *WorkflowState) Decision(nodeID string) (string, bool) {
	v, ok := s.Metadata[decisionKey(nodeID)].(string)
	return v, ok
}

func decisionKey(nodeID string) string {
	return "decision:" + nodeID
}

// appendResult 追加执行记录并覆盖节点最新结果
func (s *WorkflowState) appendResult(r StageResult) {
	s.History = append(s.History, r)
	s.Results[r.NodeID] = r
	if r.Status == StageError {
		s.Errors[r.NodeID] = r.Error
	}
}

func (s *WorkflowState) touch() {
	s.UpdatedAt = time.Now().UTC()
	s.Version++
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(val)
	case map[string]string:
		return maps.Clone(val)
	default:
		return val
	}
}
