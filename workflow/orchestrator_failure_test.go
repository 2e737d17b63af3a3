package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/campaignflow/config"
	"github.com/BaSui01/campaignflow/testutil"
	"github.com/BaSui01/campaignflow/testutil/fixtures"
	"github.com/BaSui01/campaignflow/testutil/mocks"
	"github.com/BaSui01/campaignflow/workflow"
)

func newOrchestrator(t *testing.T, opts ...workflow.Option) *workflow.Orchestrator {
	t.Helper()
	return newOrchestratorWith(t, fixtures.FastOrchestratorConfig(), opts...)
}

func newOrchestratorWith(t *testing.T, cfg config.OrchestratorConfig, opts ...workflow.Option) *workflow.Orchestrator {
	t.Helper()
	o := workflow.NewOrchestrator(cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o
}

func twoStepGraph(t *testing.T, a, b workflow.StageHandler) *workflow.ExecutableGraph {
	t.Helper()
	g, err := workflow.NewGraph("two-step").
		AddNode("a", a).
		AddNode("b", b).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", workflow.End).
		Compile()
	require.NoError(t, err)
	return g
}

// =============================================================================
// 🧪 检查点存储故障
// =============================================================================

func TestOrchestrator_TerminalStateSurvivesCheckpointOutage(t *testing.T) {
	// pending、running、a 的结果三次写入成功，进入 b 的写入开始失败
	store := mocks.NewMockCheckpointStore().WithFailAfter(3, errors.New("redis: connection refused"))
	o := newOrchestrator(t,
		workflow.WithCheckpointStore(store),
		workflow.WithIDGenerator(func() string { return "wf-outage" }))

	events, unsubscribe := o.Events().Subscribe("wf-outage")
	defer unsubscribe()

	b := mocks.NewMockHandler()
	_, err := o.Start(testutil.TestContext(t), twoStepGraph(t, mocks.Returning(map[string]any{"brief": "ok"}), b), nil)
	require.NoError(t, err)

	got := testutil.CollectEvents(events, workflow.EventWorkflowFailed, 5*time.Second)
	seen := testutil.EventTypes(got)
	require.NotEmpty(t, seen)
	assert.Equal(t, workflow.EventWorkflowFailed, seen[len(seen)-1])
	assert.Contains(t, seen, workflow.EventNodeCompleted)

	testutil.AssertEventuallyTrue(t, func() bool { return o.ActiveWorkflows() == 0 }, 5*time.Second)

	// 存储仍不可用：读到的是终态，而不是存储里过期的 running
	st, err := o.GetState(testutil.TestContext(t), "wf-outage")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, st.Status)
	assert.Contains(t, st.Errors["b"], "redis: connection refused")
	assert.Zero(t, b.Calls())

	waited, err := o.Wait(testutil.TestContext(t), "wf-outage")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, waited.Status)

	running, err := o.List(testutil.TestContext(t), workflow.StatusRunning)
	require.NoError(t, err)
	assert.Empty(t, running)

	n, err := o.Recover(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Zero(t, n)

	resumed, err := o.Resume(testutil.TestContext(t), "wf-outage", workflow.Decision{Value: workflow.DecisionApproved})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, resumed.Status)

	// 存储恢复后，下一次读取补写终态
	store.WithFailAfter(0, nil)
	_, err = o.GetState(testutil.TestContext(t), "wf-outage")
	require.NoError(t, err)

	persisted, err := store.Load(testutil.TestContext(t), "wf-outage")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, persisted.Status)
	assert.Equal(t, []workflow.Status{
		workflow.StatusPending,
		workflow.StatusRunning,
		workflow.StatusRunning,
		workflow.StatusFailed,
	}, store.SavedStatuses())
}

// =============================================================================
// 🧪 Abort
// =============================================================================

func TestOrchestrator_AbortQueuedWorkflow(t *testing.T) {
	cfg := fixtures.FastOrchestratorConfig()
	cfg.MaxConcurrentWorkflows = 1
	o := newOrchestratorWith(t, cfg)
	ctx := testutil.TestContext(t)

	blocker := mocks.Blocking()
	running, err := o.Start(ctx, twoStepGraph(t, blocker, mocks.NewMockHandler()), nil)
	require.NoError(t, err)
	testutil.AssertEventuallyTrue(t, func() bool { return blocker.Calls() == 1 }, 5*time.Second)

	queuedHandler := mocks.NewMockHandler()
	queued, err := o.Start(ctx, twoStepGraph(t, queuedHandler, mocks.NewMockHandler()), nil)
	require.NoError(t, err)

	// 排队中的实例仍是 pending，Wait 只受调用方 ctx 约束
	_, err = o.Wait(testutil.CancelledContext(), queued.ID)
	assert.ErrorIs(t, err, context.Canceled)
	st, err := o.GetState(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, st.Status)

	aborted, err := o.Abort(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, aborted.Status)
	assert.Equal(t, workflow.ErrWorkflowAborted.Error(), aborted.Errors["a"])
	assert.Empty(t, aborted.History)

	// 释放并发槽后被中止的实例也不会再执行
	_, err = o.Abort(ctx, running.ID)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, queuedHandler.Calls())
	assert.Equal(t, 1, blocker.Calls())
}

func TestOrchestrator_AbortDuringBackoff(t *testing.T) {
	cfg := fixtures.FastOrchestratorConfig()
	cfg.BackoffBase = time.Hour
	cfg.BackoffMax = time.Hour
	o := newOrchestratorWith(t, cfg, workflow.WithIDGenerator(func() string { return "wf-backoff" }))
	ctx := testutil.TestContext(t)

	events, unsubscribe := o.Events().Subscribe("wf-backoff")
	defer unsubscribe()

	failing := mocks.Failing(errors.New("vendor returned 503"))
	_, err := o.Start(ctx, twoStepGraph(t, failing, mocks.NewMockHandler()), nil)
	require.NoError(t, err)

	// node_retry 之后进入退避等待
	for {
		e, ok := testutil.WaitForChannel(events, 5*time.Second)
		require.True(t, ok, "no retry event")
		if e.Type == workflow.EventNodeRetry {
			break
		}
	}

	start := time.Now()
	aborted, err := o.Abort(ctx, "wf-backoff")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, workflow.StatusFailed, aborted.Status)
	assert.Equal(t, workflow.ErrWorkflowAborted.Error(), aborted.Errors["a"])
	assert.Equal(t, 1, aborted.NodeRetries["a"])

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, failing.Calls())
}

// =============================================================================
// 🧪 重启后的中断实例
// =============================================================================

func campaignReviewGraph(t *testing.T, publish workflow.StageHandler) *workflow.ExecutableGraph {
	t.Helper()
	done := mocks.Returning(map[string]any{"ok": true})
	g, err := workflow.NewGraph("campaign").
		AddNode("brief", done).
		AddNode("image", done).
		AddNode("evaluate", done).
		AddInterrupt("human-approval").
		AddNode("publish", publish).
		SetEntry("brief").
		AddEdge("brief", "image").
		AddEdge("image", "evaluate").
		AddEdge("evaluate", "human-approval").
		AddEdge("human-approval", "publish").
		AddEdge("publish", workflow.End).
		Compile()
	require.NoError(t, err)
	return g
}

func TestOrchestrator_ResumeCheckpointedInterrupt(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := mocks.NewMockCheckpointStore()
	fixture := fixtures.InterruptedState("wf-review")
	require.NoError(t, store.Save(ctx, fixture.ID, fixture))

	o := newOrchestrator(t, workflow.WithCheckpointStore(store))
	publish := mocks.NewMockHandler()
	require.NoError(t, o.RegisterGraph(campaignReviewGraph(t, publish)))

	// 中断实例不由 Recover 拉起
	n, err := o.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = o.Resume(ctx, "wf-review", workflow.Decision{Value: workflow.DecisionApproved, Comment: "ship it"})
	require.NoError(t, err)
	st := testutil.WaitForStatus(t, o, "wf-review", workflow.StatusCompleted, 5*time.Second)

	// 决定与既有结果都交给下游节点，已完成的节点不重跑
	states := publish.States()
	require.Len(t, states, 1)
	assert.Equal(t, workflow.DecisionApproved, states[0].Metadata["decision"])
	assert.Equal(t, 8.0, states[0].Results["evaluate"].Data["score"])
	testutil.AssertJSONEqual(t, fixture.Inputs, states[0].Inputs)
	assert.Len(t, st.History, 5)

	// 保存序列从中断开始，以完成结束
	resumed := store.SavedStatuses()
	require.NotEmpty(t, resumed)
	assert.Equal(t, workflow.StatusInterrupted, resumed[0])
	assert.Equal(t, workflow.StatusCompleted, resumed[len(resumed)-1])
}

func TestOrchestrator_AbortCheckpointedInterrupt(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := mocks.NewMockCheckpointStore()
	require.NoError(t, store.Save(ctx, "wf-review", fixtures.InterruptedState("wf-review")))

	o := newOrchestrator(t, workflow.WithCheckpointStore(store))

	aborted, err := o.Abort(ctx, "wf-review")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, aborted.Status)
	assert.Nil(t, aborted.PendingDecision)
	assert.Equal(t, workflow.ErrWorkflowAborted.Error(), aborted.Errors["human-approval"])

	_, err = o.Abort(ctx, "wf-review")
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	// 持久化格式与内存状态一致
	decoded := testutil.MustParseJSON[map[string]any](testutil.MustJSON(aborted))
	assert.Equal(t, "failed", decoded["status"])
	assert.Equal(t, "human-approval", decoded["current_node"])
}
