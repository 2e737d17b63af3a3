package dsl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/config"
	"github.com/BaSui01/campaignflow/workflow"
)

const campaignYAML = `
version: "1"
id: campaign
description: brief to publish with human approval
variables:
  min_score:
    type: float
    default: 6
entry: brief
nodes:
  - id: brief
    handler: brief
  - id: generate
    handler: generate
    max_retries: 1
    timeout: 2s
  - id: evaluate
    handler: evaluate
  - id: approval
    interrupt: true
  - id: publish
    handler: publish
edges:
  - from: brief
    to: generate
  - from: generate
    to: evaluate
  - from: evaluate
    to: approval
    when: results.evaluate.score >= vars.min_score
  - from: evaluate
    to: generate
    kind: default
  - from: approval
    to: publish
    when: decision.approval == "approved"
  - from: approval
    to: generate
    kind: default
  - from: publish
    to: END
`

type recordingHandler struct {
	data map[string]any
}

func (h recordingHandler) Handle(context.Context, *workflow.WorkflowState) (*workflow.StageResult, error) {
	return &workflow.StageResult{Data: h.data}, nil
}

func testRegistry(score float64) *workflow.HandlerRegistry {
	reg := workflow.NewHandlerRegistry()
	reg.MustRegister("brief", recordingHandler{data: map[string]any{"headline": "Spring"}})
	reg.MustRegister("generate", recordingHandler{data: map[string]any{"asset_url": "https://cdn/x.png"}})
	reg.MustRegister("evaluate", recordingHandler{data: map[string]any{"score": score}})
	reg.MustRegister("publish", recordingHandler{})
	return reg
}

func TestParser_ParseAndBuild(t *testing.T) {
	p := NewParser(testRegistry(8), zap.NewNop())

	def, err := p.Parse([]byte(campaignYAML))
	require.NoError(t, err)
	assert.Equal(t, "campaign", def.ID)
	assert.Len(t, def.Nodes, 5)
	require.NotNil(t, def.Nodes[1].MaxRetries)
	assert.Equal(t, 1, *def.Nodes[1].MaxRetries)

	g, err := p.Build(def)
	require.NoError(t, err)
	assert.Equal(t, "campaign", g.ID())
	assert.Equal(t, []string{"approval"}, g.InterruptPoints())

	n, ok := g.Node("generate")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, n.Timeout)

	edges := g.Edges("publish")
	require.Len(t, edges, 1)
	assert.Equal(t, workflow.End, edges[0].To)

	labels := g.Edges("evaluate")
	assert.Equal(t, "results.evaluate.score >= vars.min_score", labels[0].Label)
}

func TestParser_ExpressionEdgesFollowState(t *testing.T) {
	g, err := NewParser(testRegistry(0), nil).Load([]byte(campaignYAML))
	require.NoError(t, err)

	st := workflow.NewWorkflowState("wf", "campaign", "evaluate", nil, map[string]any{})
	st.Results["evaluate"] = workflow.StageResult{NodeID: "evaluate", Status: workflow.StageSuccess, Data: map[string]any{"score": 6.0}}
	next, err := g.Next(st, "evaluate")
	require.NoError(t, err)
	assert.Equal(t, "approval", next)

	st.Results["evaluate"] = workflow.StageResult{NodeID: "evaluate", Status: workflow.StageSuccess, Data: map[string]any{"score": 5.9}}
	next, err = g.Next(st, "evaluate")
	require.NoError(t, err)
	assert.Equal(t, "generate", next)

	// 实例输入覆盖变量默认值
	st.Inputs["min_score"] = 5
	next, err = g.Next(st, "evaluate")
	require.NoError(t, err)
	assert.Equal(t, "approval", next)

	st.Metadata["decision:approval"] = workflow.DecisionRejected
	next, err = g.Next(st, "approval")
	require.NoError(t, err)
	assert.Equal(t, "generate", next)
}

func TestParser_RunsOnOrchestrator(t *testing.T) {
	g, err := NewParser(testRegistry(9), nil).Load([]byte(campaignYAML))
	require.NoError(t, err)

	cfg := config.DefaultOrchestratorConfig()
	cfg.BackoffBase = time.Millisecond
	o := workflow.NewOrchestrator(cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	}()
	require.NoError(t, o.RegisterGraph(g))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := o.StartWorkflow(ctx, "campaign", nil)
	require.NoError(t, err)
	paused, err := o.Wait(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusInterrupted, paused.Status)
	assert.Equal(t, "approval", paused.CurrentNode)

	_, err = o.Resume(ctx, st.ID, workflow.Decision{Value: workflow.DecisionApproved})
	require.NoError(t, err)
	final, err := o.Wait(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, final.Status)
	_, published := final.Results["publish"]
	assert.True(t, published)
}

func TestParser_JSONDefinition(t *testing.T) {
	js := `{"version":"1","id":"tiny","entry":"a",
	  "nodes":[{"id":"a","handler":"brief"}],
	  "edges":[{"from":"a","to":"__end__"}]}`
	g, err := NewParser(testRegistry(0), nil).Load([]byte(js))
	require.NoError(t, err)
	assert.Equal(t, "tiny", g.ID())
}

func TestParser_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "id: g\nentry: a\nnodez: []\n",
			want: "nodez",
		},
		{
			name: "unregistered handler",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: missing}]\nedges: [{from: a, to: END}]\n",
			want: `handler "missing" is not registered`,
		},
		{
			name: "interrupt with handler",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief, interrupt: true}]\nedges: [{from: a, to: END}]\n",
			want: "must not reference a handler",
		},
		{
			name: "bad timeout",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief, timeout: soon}]\nedges: [{from: a, to: END}]\n",
			want: `invalid timeout "soon"`,
		},
		{
			name: "bad expression",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief}]\nedges: [{from: a, to: END, when: 'score >'}]\n",
			want: "unexpected end of expression",
		},
		{
			name: "unknown root variable",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief}]\nedges: [{from: a, to: END, when: 'score > 1'}]\n",
			want: `unknown variable "score"`,
		},
		{
			name: "unknown node in expression",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief}]\nedges: [{from: a, to: END, when: 'results.b.score > 1'}]\n",
			want: `unknown node "b"`,
		},
		{
			name: "undeclared var",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief}]\nedges: [{from: a, to: END, when: 'vars.x > 1'}]\n",
			want: `"vars.x" is not declared`,
		},
		{
			name: "conditional default edge",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief}]\nedges: [{from: a, to: END, kind: default, when: 'true'}]\n",
			want: "default edge must not have a condition",
		},
		{
			name: "unknown edge kind",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief}]\nedges: [{from: a, to: END, kind: sideways}]\n",
			want: `unknown edge kind "sideways"`,
		},
		{
			name: "unsupported version",
			yaml: "version: '2'\nid: g\nentry: a\nnodes: [{id: a, handler: brief}]\nedges: [{from: a, to: END}]\n",
			want: "unsupported version",
		},
		{
			name: "structural error from compile",
			yaml: "id: g\nentry: a\nnodes: [{id: a, handler: brief}, {id: b, handler: brief}]\nedges: [{from: a, to: END}, {from: b, to: END}]\n",
			want: `node "b" is unreachable`,
		},
	}

	p := NewParser(testRegistry(0), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, workflow.ErrGraphConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := NewParser(nil, nil).Load([]byte(campaignYAML))
	assert.ErrorIs(t, err, workflow.ErrGraphConfig)
}

func TestParser_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_campaign.yaml"), []byte(campaignYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_tiny.json"),
		[]byte(`{"id":"tiny","entry":"a","nodes":[{"id":"a","handler":"brief"}],"edges":[{"from":"a","to":"END"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	p := NewParser(testRegistry(0), nil)
	graphs, err := p.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, graphs, 2)
	assert.Equal(t, "tiny", graphs[0].ID())
	assert.Equal(t, "campaign", graphs[1].ID())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c_dup.yaml"), []byte(campaignYAML), 0o644))
	_, err = p.LoadDir(dir)
	assert.ErrorContains(t, err, "defined in both")

	_, err = p.LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
