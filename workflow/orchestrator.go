package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/campaignflow/config"
	"github.com/BaSui01/campaignflow/types"
)

const (
	instrumentationName = "github.com/BaSui01/campaignflow/workflow"
	checkpointTimeout   = 10 * time.Second
)

var errSuspended = errors.New("workflow suspended for shutdown")

// MetricsRecorder 工作流指标上报
type MetricsRecorder interface {
	RecordWorkflowStarted(graphID string)
	RecordWorkflowFinished(graphID, status string, duration time.Duration)
	RecordNodeExecution(graphID, nodeID, status string, duration time.Duration)
	RecordNodeRetry(graphID, nodeID string)
	RecordActiveWorkflows(delta int)
}

type nopMetrics struct{}

func (nopMetrics) RecordWorkflowStarted(string) {}
func (nopMetrics) RecordWorkflowFinished(string, string, time.Duration) {}
func (nopMetrics) RecordNodeExecution(string, string, string, time.Duration) {}
func (nopMetrics) RecordNodeRetry(string, string) {}
func (nopMetrics) RecordActiveWorkflows(int) {}

// run 一个正在执行的实例；goroutine 退出（中断、终态或停机）后移除
type run struct {
	id      string
	cancel  context.CancelFunc
	done    chan struct{}
	aborted atomic.Bool

	mu       sync.RWMutex
	snapshot *WorkflowState
}

func (r *run) publish(st *WorkflowState) {
	c := st.Clone()
	r.mu.Lock()
	r.snapshot = c
	r.mu.Unlock()
}

func (r *run) state() *WorkflowState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Clone()
}

// Orchestrator 驱动工作流实例在图上执行：每个实例一个 goroutine，
// 每次状态迁移写检查点，中断点处暂停并退出 goroutine。
type Orchestrator struct {
	cfg     config.OrchestratorConfig
	backoff BackoffPolicy
	store   CheckpointStore
	events  *EventBus
	metrics MetricsRecorder
	tracer  trace.Tracer
	logger  *zap.Logger
	sem     *semaphore.Weighted
	newID   func() string

	mu     sync.RWMutex
	graphs map[string]*ExecutableGraph
	runs   map[string]*run
	// 终态写检查点失败时暂存于此，读取时优先返回并尝试补写
	unsaved map[string]*WorkflowState
	locks   keyedMutex

	wg         sync.WaitGroup
	closed     atomic.Bool
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithCheckpointStore 设置检查点存储，默认进程内存储
func WithCheckpointStore(store CheckpointStore) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithEventBus 设置事件总线
func WithEventBus(bus *EventBus) Option {
	return func(o *Orchestrator) {
		if bus != nil {
			o.events = bus
		}
	}
}

// WithMetrics 设置指标上报
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the orchestrator logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIDGenerator 替换实例 ID 生成器
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg config.OrchestratorConfig, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrentWorkflows <= 0 {
		cfg.MaxConcurrentWorkflows = config.DefaultOrchestratorConfig().MaxConcurrentWorkflows
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	base, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		backoff:    BackoffFromConfig(cfg),
		store:      NewMemoryStore(),
		metrics:    nopMetrics{},
		tracer:     otel.Tracer(instrumentationName),
		logger:     zap.NewNop(),
		sem:        semaphore.NewWeighted(cfg.MaxConcurrentWorkflows),
		newID:      uuid.NewString,
		graphs:     make(map[string]*ExecutableGraph),
		runs:       make(map[string]*run),
		unsaved:    make(map[string]*WorkflowState),
		baseCtx:    base,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.events == nil {
		o.events = NewEventBus(cfg.EventBufferSize, cfg.EventSendRetries, o.logger)
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))
	return o
}

// Events 返回事件总线
func (o *Orchestrator) Events() *EventBus {
	return o.events
}

// RegisterGraph 登记可执行图，同 ID 覆盖；已在运行的实例继续使用旧图
func (o *Orchestrator) RegisterGraph(g *ExecutableGraph) error {
	if g == nil {
		return graphConfigError("graph is nil")
	}
	o.mu.Lock()
	o.graphs[g.ID()] = g
	o.mu.Unlock()
	o.logger.Info("graph registered", zap.String("graph_id", g.ID()), zap.Int("nodes", len(g.order)))
	return nil
}

// Graph 按 ID 查找已登记的图
func (o *Orchestrator) Graph(id string) (*ExecutableGraph, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g, ok := o.graphs[id]
	return g, ok
}

// Graphs 返回已登记的图 ID
func (o *Orchestrator) Graphs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.graphs))
	for id := range o.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveWorkflows 返回当前有 goroutine 在执行的实例数
func (o *Orchestrator) ActiveWorkflows() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.runs)
}

// StartWorkflow 按已登记的图 ID 创建实例
func (o *Orchestrator) StartWorkflow(ctx context.Context, graphID string, inputs map[string]any) (*WorkflowState, error) {
	g, ok := o.Graph(graphID)
	if !ok {
		return nil, fmt.Errorf("graph %q: %w", graphID, ErrGraphNotFound)
	}
	return o.Start(ctx, g, inputs)
}

// Start 创建实例并异步开始执行，返回初始状态
func (o *Orchestrator) Start(ctx context.Context, g *ExecutableGraph, inputs map[string]any) (*WorkflowState, error) {
	if o.closed.Load() {
		return nil, types.NewError(types.ErrServiceUnavailable, "orchestrator is shutting down")
	}
	if g == nil {
		return nil, graphConfigError("graph is nil")
	}

	o.mu.Lock()
	if _, ok := o.graphs[g.ID()]; !ok {
		o.graphs[g.ID()] = g
	}
	o.mu.Unlock()

	st := NewWorkflowState(o.newID(), g.ID(), g.Entry(), g.InterruptPoints(), inputs)
	st.touch()
	if err := o.save(ctx, st); err != nil {
		return nil, err
	}

	snapshot := st.Clone()
	o.launch(st, g)

	o.logger.Info("workflow created",
		zap.String("workflow_id", st.ID),
		zap.String("graph_id", g.ID()))
	return snapshot, nil
}

// Resume 向中断的实例注入决定并继续执行。
// 实例不处于中断状态（或 Decision.NodeID 与等待的中断点不符）时原样返回当前状态。
func (o *Orchestrator) Resume(ctx context.Context, id string, d Decision) (*WorkflowState, error) {
	if d.Value == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "decision value is required")
	}
	if o.closed.Load() {
		return nil, types.NewError(types.ErrServiceUnavailable, "orchestrator is shutting down")
	}

	unlock := o.locks.Lock(id)
	defer unlock()

	if r, ok := o.activeRun(id); ok {
		if s := r.state(); s.Status != StatusInterrupted {
			return s, nil
		}
		// 正在退出的中断实例
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	st, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusInterrupted || st.PendingDecision == nil {
		return st, nil
	}
	nodeID := st.PendingDecision.NodeID
	if d.NodeID != "" && d.NodeID != nodeID {
		return st, nil
	}

	g, ok := o.Graph(st.GraphID)
	if !ok {
		return nil, fmt.Errorf("graph %q: %w", st.GraphID, ErrGraphNotFound)
	}

	data := cloneMap(d.Data)
	if data == nil {
		data = make(map[string]any)
	}
	data["decision"] = d.Value
	if d.Comment != "" {
		data["comment"] = d.Comment
	}

	now := time.Now().UTC()
	st.Metadata["decision"] = d.Value
	st.Metadata[decisionKey(nodeID)] = d.Value
	st.appendResult(StageResult{
		NodeID:     nodeID,
		Status:     StageSuccess,
		Data:       data,
		Attempt:    st.NodeRetries[nodeID] + 1,
		StartedAt:  st.PendingDecision.RequestedAt,
		FinishedAt: now,
	})
	st.PendingDecision = nil
	st.NodeDone = true
	st.Status = StatusRunning
	st.touch()
	if err := o.save(ctx, st); err != nil {
		return nil, err
	}

	o.emit(st, EventWorkflowResumed, nodeID, 0, nil, map[string]any{"decision": d.Value})
	o.logger.Info("workflow resumed",
		zap.String("workflow_id", id),
		zap.String("node_id", nodeID),
		zap.String("decision", d.Value))

	snapshot := st.Clone()
	o.launch(st, g)
	return snapshot, nil
}

// Abort 将非终态实例置为 failed 并取消正在执行的处理器
func (o *Orchestrator) Abort(ctx context.Context, id string) (*WorkflowState, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	abortedActive := false
	if r, ok := o.activeRun(id); ok {
		r.aborted.Store(true)
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		abortedActive = true
	}

	st, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status.IsTerminal() {
		if abortedActive && st.Status == StatusFailed {
			return st, nil
		}
		return nil, fmt.Errorf("workflow %q is %s: %w", id, st.Status, ErrInvalidTransition)
	}

	st.Errors[st.CurrentNode] = ErrWorkflowAborted.Error()
	st.PendingDecision = nil
	st.Status = StatusFailed
	st.touch()
	if err := o.save(ctx, st); err != nil {
		return nil, err
	}

	o.metrics.RecordWorkflowFinished(st.GraphID, string(StatusFailed), time.Since(st.CreatedAt))
	o.emit(st, EventWorkflowFailed, st.CurrentNode, 0, ErrWorkflowAborted, nil)
	o.logger.Info("workflow aborted", zap.String("workflow_id", id), zap.String("node_id", st.CurrentNode))
	return st.Clone(), nil
}

// GetState 返回实例状态快照
func (o *Orchestrator) GetState(ctx context.Context, id string) (*WorkflowState, error) {
	if r, ok := o.activeRun(id); ok {
		return r.state(), nil
	}
	return o.load(ctx, id)
}

// Wait 阻塞直到实例离开 running（中断、终态或停机）
func (o *Orchestrator) Wait(ctx context.Context, id string) (*WorkflowState, error) {
	if r, ok := o.activeRun(id); ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.GetState(ctx, id)
}

// List 按状态枚举实例；活跃实例返回内存中的最新快照。
// 存储不支持枚举时返回 ErrServiceUnavailable。
func (o *Orchestrator) List(ctx context.Context, statuses ...Status) ([]*WorkflowState, error) {
	lister, ok := o.store.(CheckpointLister)
	if !ok {
		return nil, types.NewError(types.ErrServiceUnavailable, "checkpoint store does not support listing")
	}
	states, err := lister.List(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := states[:0]
	for _, st := range states {
		if r, ok := o.activeRun(st.ID); ok {
			st = r.state()
		} else if u, ok := o.unsavedState(ctx, st.ID); ok {
			// 存储里仍是过期状态，按真实终态重新过滤
			if len(statuses) > 0 && !slices.Contains(statuses, u.Status) {
				continue
			}
			st = u
		}
		out = append(out, st)
	}
	return out, nil
}

// Recover 从检查点重新拉起 pending/running 的实例，返回拉起的数量。
// 存储不支持枚举时直接返回。
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	lister, ok := o.store.(CheckpointLister)
	if !ok {
		o.logger.Info("checkpoint store does not support listing, skip recovery")
		return 0, nil
	}

	states, err := lister.List(ctx, StatusPending, StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}

	recovered := 0
	for _, st := range states {
		if o.recoverOne(st) {
			recovered++
		}
	}
	o.logger.Info("workflow recovery finished", zap.Int("candidates", len(states)), zap.Int("recovered", recovered))
	return recovered, nil
}

func (o *Orchestrator) recoverOne(st *WorkflowState) bool {
	unlock := o.locks.Lock(st.ID)
	defer unlock()

	if _, active := o.activeRun(st.ID); active {
		return false
	}
	o.mu.RLock()
	_, unsaved := o.unsaved[st.ID]
	o.mu.RUnlock()
	if unsaved {
		return false
	}
	g, ok := o.Graph(st.GraphID)
	if !ok {
		o.logger.Warn("cannot recover workflow: graph not registered",
			zap.String("workflow_id", st.ID),
			zap.String("graph_id", st.GraphID))
		return false
	}
	st.normalize()
	o.launch(st, g)
	return true
}

// Shutdown 停止接收新实例并等待执行中的 goroutine 退出。
// 被打断的实例保持 running，可由下次启动的 Recover 继续。
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closed.Store(true)
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// 🔄 执行循环
// =============================================================================

func (o *Orchestrator) activeRun(id string) (*run, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[id]
	return r, ok
}

func (o *Orchestrator) launch(st *WorkflowState, g *ExecutableGraph) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	if o.cfg.WorkflowTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, o.cfg.WorkflowTimeout)
		parentCancel := cancel
		cancel = func() {
			timeoutCancel()
			parentCancel()
		}
	}

	r := &run{id: st.ID, cancel: cancel, done: make(chan struct{})}
	r.publish(st)

	o.mu.Lock()
	o.runs[st.ID] = r
	o.mu.Unlock()

	o.wg.Add(1)
	go o.execute(ctx, r, g, st)
}

func (o *Orchestrator) execute(ctx context.Context, r *run, g *ExecutableGraph, st *WorkflowState) {
	defer o.wg.Done()
	defer func() {
		r.cancel()
		o.mu.Lock()
		if o.runs[r.id] == r {
			delete(o.runs, r.id)
		}
		o.mu.Unlock()
		close(r.done)
	}()

	logger := o.logger.With(zap.String("workflow_id", st.ID), zap.String("graph_id", st.GraphID))

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.stop(ctx, r, st, st.CurrentNode, o.haltReason(ctx, r, err), logger)
		return
	}
	defer o.sem.Release(1)
	o.metrics.RecordActiveWorkflows(1)
	defer o.metrics.RecordActiveWorkflows(-1)

	ctx, span := o.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", st.ID),
		attribute.String("workflow.graph_id", st.GraphID),
	))
	defer span.End()

	if st.Status == StatusPending {
		if err := o.transition(ctx, r, st, StatusRunning); err != nil {
			o.stop(ctx, r, st, st.CurrentNode, err, logger)
			return
		}
		o.metrics.RecordWorkflowStarted(st.GraphID)
		o.emit(st, EventWorkflowStarted, st.CurrentNode, 0, nil, nil)
		logger.Info("workflow started", zap.String("entry", st.CurrentNode))
	}

	// 当前节点已完成（恢复或人工决定），直接解析出边
	skip := st.NodeDone

	for {
		if err := o.haltReason(ctx, r, nil); err != nil {
			o.stop(ctx, r, st, st.CurrentNode, err, logger)
			return
		}

		node, ok := g.Node(st.CurrentNode)
		if !ok {
			o.stop(ctx, r, st, st.CurrentNode, graphConfigError("node %q not found in graph %q", st.CurrentNode, g.ID()), logger)
			return
		}

		var stageErr error
		switch {
		case skip:
			skip = false
		case node.IsInterruptPoint:
			o.pause(ctx, r, st, node, logger)
			return
		default:
			stageErr = o.runNode(ctx, r, st, node)
			if err := o.haltReason(ctx, r, nil); err != nil {
				o.stop(ctx, r, st, node.ID, err, logger)
				return
			}
			if isFatal(stageErr) {
				o.stop(ctx, r, st, node.ID, stageErr, logger)
				return
			}
		}

		next, err := o.resolve(g, st, node, stageErr)
		if err != nil {
			o.stop(ctx, r, st, node.ID, err, logger)
			return
		}
		if next == End {
			o.complete(ctx, r, st, logger)
			return
		}
		if err := o.enter(ctx, r, st, g, next); err != nil {
			o.stop(ctx, r, st, next, err, logger)
			return
		}
	}
}

// haltReason 返回执行需要停止的原因：Abort、工作流超时或停机
func (o *Orchestrator) haltReason(ctx context.Context, r *run, cause error) error {
	if r.aborted.Load() {
		return ErrWorkflowAborted
	}
	err := ctx.Err()
	if err == nil {
		return cause
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "workflow timed out").WithCause(err)
	}
	if o.closed.Load() {
		return errSuspended
	}
	return fmt.Errorf("workflow canceled: %w", err)
}

// runNode 执行节点，失败时在重试预算内按退避重试
func (o *Orchestrator) runNode(ctx context.Context, r *run, st *WorkflowState, node *GraphNode) error {
	limit := o.maxRetries(node)
	for {
		attempt := st.NodeRetries[node.ID] + 1
		o.emit(st, EventNodeStarted, node.ID, attempt, nil, nil)

		result, err := o.invoke(ctx, st, node, attempt)
		st.appendResult(result)
		st.NodeDone = err == nil
		st.touch()
		if cerr := o.checkpoint(ctx, r, st); cerr != nil {
			return cerr
		}
		o.metrics.RecordNodeExecution(st.GraphID, node.ID, string(result.Status), result.FinishedAt.Sub(result.StartedAt))

		if err == nil {
			o.emit(st, EventNodeCompleted, node.ID, attempt, nil, nil)
			return nil
		}
		o.emit(st, EventNodeFailed, node.ID, attempt, err, nil)
		o.logger.Warn("node failed",
			zap.String("workflow_id", st.ID),
			zap.String("node_id", node.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if ctx.Err() != nil || r.aborted.Load() || IsGraphConfigError(err) || IsPermanent(err) {
			return err
		}
		if st.NodeRetries[node.ID] >= limit {
			return err
		}

		st.NodeRetries[node.ID]++
		st.RetryCount = st.NodeRetries[node.ID]
		st.touch()
		if cerr := o.checkpoint(ctx, r, st); cerr != nil {
			return cerr
		}
		o.metrics.RecordNodeRetry(st.GraphID, node.ID)
		o.emit(st, EventNodeRetry, node.ID, attempt+1, err, nil)

		delay := o.backoff.Delay(st.NodeRetries[node.ID])
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

type handlerOutcome struct {
	result *StageResult
	err    error
}

// invoke 在独立 goroutine 中调用处理器：捕获 panic，
// 取消后最多等待宽限期，超时未返回视为失败（goroutine 不会被强杀）。
func (o *Orchestrator) invoke(ctx context.Context, st *WorkflowState, node *GraphNode, attempt int) (StageResult, error) {
	hctx := ctx
	if node.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}
	hctx = types.WithWorkflowID(hctx, st.ID)
	hctx = types.WithNodeID(hctx, node.ID)

	hctx, span := o.tracer.Start(hctx, "workflow.node", trace.WithAttributes(
		attribute.String("workflow.id", st.ID),
		attribute.String("workflow.node_id", node.ID),
		attribute.Int("workflow.attempt", attempt),
	))
	defer span.End()

	started := time.Now().UTC()
	input := st.Clone()
	ch := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- handlerOutcome{err: &PanicError{Value: rec}}
			}
		}()
		res, err := node.Handler.Handle(hctx, input)
		ch <- handlerOutcome{result: res, err: err}
	}()

	var out handlerOutcome
	select {
	case out = <-ch:
	case <-hctx.Done():
		grace := time.NewTimer(o.cfg.HandlerGracePeriod)
		select {
		case out = <-ch:
		case <-grace.C:
			out.err = fmt.Errorf("handler did not return within grace period after cancellation: %w", hctx.Err())
		}
		grace.Stop()
	}

	result, err := buildResult(node.ID, attempt, started, time.Now().UTC(), out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func buildResult(nodeID string, attempt int, started, finished time.Time, out handlerOutcome) (StageResult, error) {
	r := StageResult{
		NodeID:     nodeID,
		Attempt:    attempt,
		StartedAt:  started,
		FinishedAt: finished,
	}
	err := out.err
	if out.result != nil {
		r.Data = cloneMap(out.result.Data)
		r.VendorUsed = out.result.VendorUsed
		r.Cost = out.result.Cost
		r.LatencyMs = out.result.LatencyMs
		if out.result.Status == StageError && err == nil {
			msg := out.result.Error
			if msg == "" {
				msg = "stage reported an error"
			}
			err = errors.New(msg)
		}
	}
	if r.LatencyMs == 0 {
		r.LatencyMs = finished.Sub(started).Milliseconds()
	}
	if err != nil {
		r.Status = StageError
		r.Error = err.Error()
	} else {
		r.Status = StageSuccess
	}
	return r, err
}

// resolve 解析下一跳：失败走错误边，成功按出边规则
func (o *Orchestrator) resolve(g *ExecutableGraph, st *WorkflowState, node *GraphNode, stageErr error) (string, error) {
	if stageErr != nil {
		if to, ok := g.ErrorTarget(node.ID); ok {
			o.logger.Info("following error edge",
				zap.String("workflow_id", st.ID),
				zap.String("node_id", node.ID),
				zap.String("to", to))
			return to, nil
		}
		return "", fmt.Errorf("node %q failed: %w", node.ID, stageErr)
	}
	return g.Next(st.Clone(), node.ID)
}

// enter 进入下一节点；重新进入已执行过的节点（回环）计为一次重试
func (o *Orchestrator) enter(ctx context.Context, r *run, st *WorkflowState, g *ExecutableGraph, next string) error {
	node, ok := g.Node(next)
	if !ok {
		return graphConfigError("node %q not found in graph %q", next, g.ID())
	}
	if _, seen := st.Results[next]; seen {
		limit := o.maxRetries(node)
		if st.NodeRetries[next] >= limit {
			return fmt.Errorf("node %q re-entered after %d retries: %w", next, limit, ErrRetriesExhausted)
		}
		st.NodeRetries[next]++
		o.metrics.RecordNodeRetry(st.GraphID, next)
		o.emit(st, EventNodeRetry, next, st.NodeRetries[next]+1, nil, map[string]any{"loop_back": true})
	}
	st.CurrentNode = next
	st.NodeDone = false
	st.RetryCount = st.NodeRetries[next]
	st.touch()
	return o.checkpoint(ctx, r, st)
}

func (o *Orchestrator) pause(ctx context.Context, r *run, st *WorkflowState, node *GraphNode, logger *zap.Logger) {
	st.PendingDecision = &PendingDecision{NodeID: node.ID, RequestedAt: time.Now().UTC()}
	if err := o.transition(ctx, r, st, StatusInterrupted); err != nil {
		o.stop(ctx, r, st, node.ID, err, logger)
		return
	}
	o.emit(st, EventWorkflowInterrupted, node.ID, 0, nil, nil)
	logger.Info("workflow interrupted", zap.String("node_id", node.ID))
}

func (o *Orchestrator) complete(ctx context.Context, r *run, st *WorkflowState, logger *zap.Logger) {
	if !st.Status.CanTransitionTo(StatusCompleted) {
		o.stop(ctx, r, st, st.CurrentNode, fmt.Errorf("%s -> %s: %w", st.Status, StatusCompleted, ErrInvalidTransition), logger)
		return
	}
	st.Status = StatusCompleted
	st.touch()
	o.finish(r, st, logger)
	o.metrics.RecordWorkflowFinished(st.GraphID, string(StatusCompleted), time.Since(st.CreatedAt))
	o.emit(st, EventWorkflowCompleted, "", 0, nil, nil)
	logger.Info("workflow completed", zap.Int("stages", len(st.History)))
}

// stop 以 cause 结束执行：停机时保持原状态以便恢复，其余情况置为 failed
func (o *Orchestrator) stop(ctx context.Context, r *run, st *WorkflowState, nodeID string, cause error, logger *zap.Logger) {
	if errors.Is(cause, errSuspended) {
		logger.Info("workflow suspended", zap.String("node_id", st.CurrentNode))
		return
	}
	if !st.Status.CanTransitionTo(StatusFailed) {
		logger.Error("cannot fail workflow", zap.String("status", string(st.Status)), zap.Error(cause))
		return
	}

	if nodeID != "" {
		st.Errors[nodeID] = cause.Error()
	}
	st.PendingDecision = nil
	st.Status = StatusFailed
	st.touch()
	o.finish(r, st, logger)

	o.metrics.RecordWorkflowFinished(st.GraphID, string(StatusFailed), time.Since(st.CreatedAt))
	o.emit(st, EventWorkflowFailed, nodeID, 0, cause, nil)

	fields := []zap.Field{zap.String("node_id", nodeID), zap.Error(cause)}
	if IsGraphConfigError(cause) {
		logger.Error("workflow failed: graph configuration error", fields...)
	} else {
		logger.Warn("workflow failed", fields...)
	}
}

// finish 发布并持久化终态；写入失败按退避重试，仍失败则暂存内存，
// GetState/Wait/List 读到的始终是终态而不是存储里过期的 running
func (o *Orchestrator) finish(r *run, st *WorkflowState, logger *zap.Logger) {
	r.publish(st)

	var err error
	attempts := o.cfg.MaxRetries + 1
save:
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = o.save(context.Background(), st); err == nil {
			return
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(o.backoff.Delay(attempt))
		select {
		case <-timer.C:
		case <-o.baseCtx.Done():
			timer.Stop()
			break save
		}
	}

	o.mu.Lock()
	o.unsaved[st.ID] = st.Clone()
	o.mu.Unlock()
	logger.Error("terminal state not persisted, kept in memory",
		zap.String("status", string(st.Status)),
		zap.Error(err))
}

// unsavedState 返回暂存的终态快照，并顺带补写检查点
func (o *Orchestrator) unsavedState(ctx context.Context, id string) (*WorkflowState, bool) {
	o.mu.RLock()
	st, ok := o.unsaved[id]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if err := o.save(ctx, st); err == nil {
		o.mu.Lock()
		if o.unsaved[id] == st {
			delete(o.unsaved, id)
		}
		o.mu.Unlock()
		o.logger.Info("deferred terminal checkpoint saved", zap.String("workflow_id", id))
	}
	return st.Clone(), true
}

func (o *Orchestrator) transition(ctx context.Context, r *run, st *WorkflowState, to Status) error {
	if !st.Status.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", st.Status, to, ErrInvalidTransition)
	}
	st.Status = to
	st.touch()
	return o.checkpoint(ctx, r, st)
}

// checkpoint 发布快照并持久化；取消后的终态也要能写入
func (o *Orchestrator) checkpoint(ctx context.Context, r *run, st *WorkflowState) error {
	r.publish(st)
	if err := o.save(ctx, st); err != nil {
		return &fatalError{err: err}
	}
	return nil
}

func (o *Orchestrator) save(ctx context.Context, st *WorkflowState) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()
	if err := o.store.Save(sctx, st.ID, st); err != nil {
		o.logger.Error("checkpoint save failed", zap.String("workflow_id", st.ID), zap.Error(err))
		return fmt.Errorf("save checkpoint %q: %w", st.ID, err)
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*WorkflowState, error) {
	if st, ok := o.unsavedState(ctx, id); ok {
		return st, nil
	}
	st, err := o.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCheckpointNotFound) {
			return nil, fmt.Errorf("workflow %q: %w", id, ErrWorkflowNotFound)
		}
		return nil, fmt.Errorf("load checkpoint %q: %w", id, err)
	}
	st.normalize()
	return st, nil
}

func (o *Orchestrator) maxRetries(node *GraphNode) int {
	if node.MaxRetries != nil {
		return *node.MaxRetries
	}
	return o.cfg.MaxRetries
}

func (o *Orchestrator) emit(st *WorkflowState, typ EventType, nodeID string, attempt int, err error, data map[string]any) {
	e := Event{
		Type:       typ,
		WorkflowID: st.ID,
		GraphID:    st.GraphID,
		NodeID:     nodeID,
		Status:     st.Status,
		Attempt:    attempt,
		Data:       data,
	}
	if err != nil {
		e.Error = err.Error()
	}
	o.events.Publish(e)
}

// fatalError 检查点写入失败等对实例致命的错误
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func isFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *fatalError
	return errors.As(err, &fe) || IsGraphConfigError(err)
}

// keyedMutex 按实例 ID 串行化控制操作，无人持有时回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
