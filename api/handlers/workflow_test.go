package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/testutil"
	"github.com/BaSui01/campaignflow/testutil/fixtures"
	"github.com/BaSui01/campaignflow/testutil/mocks"
	"github.com/BaSui01/campaignflow/types"
	"github.com/BaSui01/campaignflow/workflow"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type workflowEnv struct {
	orch    *workflow.Orchestrator
	server  *httptest.Server
	publish *mocks.MockHandler
}

func newWorkflowEnv(t *testing.T) *workflowEnv {
	t.Helper()
	orch := workflow.NewOrchestrator(fixtures.FastOrchestratorConfig(), workflow.WithLogger(zap.NewNop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	publish := mocks.Returning(map[string]any{"published": true})
	g, err := workflow.NewGraph("review").
		AddNode("draft", mocks.Returning(map[string]any{"copy": "hello"})).
		AddInterrupt("approval").
		AddNode("publish", publish).
		SetEntry("draft").
		AddEdge("draft", "approval").
		AddConditionalEdge("approval", "publish", workflow.DecisionIs("approval", workflow.DecisionApproved)).
		AddDefaultEdge("approval", "draft").
		AddEdge("publish", workflow.End).
		Compile()
	require.NoError(t, err)
	require.NoError(t, orch.RegisterGraph(g))

	mux := http.NewServeMux()
	NewWorkflowHandler(orch, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &workflowEnv{orch: orch, server: srv, publish: publish}
}

func (e *workflowEnv) do(t *testing.T, method, path, body string) (int, Response) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decodeData[T any](t *testing.T, resp Response) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

// =============================================================================
// 🧪 WorkflowHandler 测试
// =============================================================================

func TestWorkflowHandler_StartResumeFlow(t *testing.T) {
	env := newWorkflowEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/v1/workflows", `{"graph_id":"review","inputs":{"product":"boots"}}`)
	require.Equal(t, http.StatusAccepted, code)
	started := decodeData[workflow.WorkflowState](t, resp)
	assert.NotEmpty(t, started.ID)
	assert.Equal(t, "boots", started.Inputs["product"])

	testutil.WaitForStatus(t, env.orch, started.ID, workflow.StatusInterrupted, 5*time.Second)

	code, resp = env.do(t, http.MethodGet, "/api/v1/workflows/"+started.ID, "")
	require.Equal(t, http.StatusOK, code)
	st := decodeData[workflow.WorkflowState](t, resp)
	require.NotNil(t, st.PendingDecision)
	assert.Equal(t, "approval", st.PendingDecision.NodeID)

	code, resp = env.do(t, http.MethodGet, "/api/v1/workflows?status=interrupted", "")
	require.Equal(t, http.StatusOK, code)
	list := decodeData[struct {
		Workflows []WorkflowSummary `json:"workflows"`
		Total     int               `json:"total"`
	}](t, resp)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, started.ID, list.Workflows[0].ID)

	code, _ = env.do(t, http.MethodPost, "/api/v1/workflows/"+started.ID+"/resume", `{"value":" Approved ","comment":"ship it"}`)
	require.Equal(t, http.StatusOK, code)

	final := testutil.WaitForStatus(t, env.orch, started.ID, workflow.StatusCompleted, 5*time.Second)
	assert.Equal(t, workflow.DecisionApproved, final.Metadata["decision"])
	assert.Equal(t, 1, env.publish.Calls())

	// 终态后再次恢复是幂等的
	code, resp = env.do(t, http.MethodPost, "/api/v1/workflows/"+started.ID+"/resume", `{"value":"approved"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, workflow.StatusCompleted, decodeData[workflow.WorkflowState](t, resp).Status)
}

func TestWorkflowHandler_Abort(t *testing.T) {
	env := newWorkflowEnv(t)

	_, resp := env.do(t, http.MethodPost, "/api/v1/workflows", `{"graph_id":"review"}`)
	id := decodeData[workflow.WorkflowState](t, resp).ID
	testutil.WaitForStatus(t, env.orch, id, workflow.StatusInterrupted, 5*time.Second)

	code, resp := env.do(t, http.MethodPost, "/api/v1/workflows/"+id+"/abort", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, workflow.StatusFailed, decodeData[workflow.WorkflowState](t, resp).Status)

	code, resp = env.do(t, http.MethodPost, "/api/v1/workflows/"+id+"/abort", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(types.ErrInvalidTransition), resp.Error.Code)
}

func TestWorkflowHandler_Errors(t *testing.T) {
	env := newWorkflowEnv(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"missing graph id", http.MethodPost, "/api/v1/workflows", `{"inputs":{}}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"unknown graph", http.MethodPost, "/api/v1/workflows", `{"graph_id":"nope"}`, http.StatusNotFound, types.ErrGraphNotFound},
		{"unknown field", http.MethodPost, "/api/v1/workflows", `{"graph":"review"}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"unknown workflow", http.MethodGet, "/api/v1/workflows/missing", "", http.StatusNotFound, types.ErrWorkflowNotFound},
		{"abort unknown", http.MethodPost, "/api/v1/workflows/missing/abort", "", http.StatusNotFound, types.ErrWorkflowNotFound},
		{"empty decision", http.MethodPost, "/api/v1/workflows/missing/resume", `{"value":""}`, http.StatusBadRequest, types.ErrInvalidRequest},
		{"bad status filter", http.MethodGet, "/api/v1/workflows?status=paused", "", http.StatusBadRequest, types.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestWorkflowHandler_Graphs(t *testing.T) {
	env := newWorkflowEnv(t)
	code, resp := env.do(t, http.MethodGet, "/api/v1/graphs", "")
	require.Equal(t, http.StatusOK, code)
	got := decodeData[map[string][]string](t, resp)
	assert.Equal(t, []string{"review"}, got["graphs"])
}

func TestWorkflowHandler_RequiresJSONContentType(t *testing.T) {
	h := NewWorkflowHandler(nil, nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader(`{"graph_id":"review"}`))
	r.Header.Set("Content-Type", "text/plain")

	h.HandleStart(w, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestParseStatuses(t *testing.T) {
	got, err := parseStatuses("running, Interrupted,,")
	require.NoError(t, err)
	assert.Equal(t, []workflow.Status{workflow.StatusRunning, workflow.StatusInterrupted}, got)

	got, err = parseStatuses("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseStatuses("running,bogus")
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}
