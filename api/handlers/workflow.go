package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/types"
	"github.com/BaSui01/campaignflow/workflow"
)

// =============================================================================
// 🔁 Workflow Handler
// =============================================================================

// WorkflowService 工作流控制面，由 workflow.Orchestrator 实现
type WorkflowService interface {
	StartWorkflow(ctx context.Context, graphID string, inputs map[string]any) (*workflow.WorkflowState, error)
	Resume(ctx context.Context, id string, d workflow.Decision) (*workflow.WorkflowState, error)
	Abort(ctx context.Context, id string) (*workflow.WorkflowState, error)
	GetState(ctx context.Context, id string) (*workflow.WorkflowState, error)
	List(ctx context.Context, statuses ...workflow.Status) ([]*workflow.WorkflowState, error)
	Graphs() []string
}

var _ WorkflowService = (*workflow.Orchestrator)(nil)

// WorkflowHandler 工作流实例的 HTTP 入口
type WorkflowHandler struct {
	service WorkflowService
	logger  *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(service WorkflowService, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		service: service,
		logger:  logger.With(zap.String("component", "workflow_handler")),
	}
}

// StartWorkflowRequest 启动请求
type StartWorkflowRequest struct {
	GraphID string         `json:"graph_id"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// WorkflowSummary 列表项
type WorkflowSummary struct {
	ID              string                    `json:"id"`
	GraphID         string                    `json:"graph_id"`
	Status          workflow.Status           `json:"status"`
	CurrentNode     string                    `json:"current_node"`
	PendingDecision *workflow.PendingDecision `json:"pending_decision,omitempty"`
	CreatedAt       time.Time                 `json:"created_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

func summarize(st *workflow.WorkflowState) WorkflowSummary {
	return WorkflowSummary{
		ID:              st.ID,
		GraphID:         st.GraphID,
		Status:          st.Status,
		CurrentNode:     st.CurrentNode,
		PendingDecision: st.PendingDecision,
		CreatedAt:       st.CreatedAt,
		UpdatedAt:       st.UpdatedAt,
	}
}

// Register 挂载路由
func (h *WorkflowHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/graphs", h.HandleGraphs)
	mux.HandleFunc("POST /api/v1/workflows", h.HandleStart)
	mux.HandleFunc("GET /api/v1/workflows", h.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/workflows/{id}/resume", h.HandleResume)
	mux.HandleFunc("POST /api/v1/workflows/{id}/abort", h.HandleAbort)
}

// HandleGraphs GET /api/v1/graphs
func (h *WorkflowHandler) HandleGraphs(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]any{"graphs": h.service.Graphs()})
}

// HandleStart POST /api/v1/workflows，实例异步运行，返回 202 与初始快照
func (h *WorkflowHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req StartWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.GraphID) == "" {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "graph_id is required", h.logger)
		return
	}

	st, err := h.service.StartWorkflow(r.Context(), req.GraphID, req.Inputs)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("workflow started via API",
		zap.String("workflow_id", st.ID),
		zap.String("graph_id", st.GraphID),
		zap.String("request_id", requestID(r)))
	WriteData(w, r, http.StatusAccepted, st)
}

// HandleList GET /api/v1/workflows?status=interrupted,running
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	states, err := h.service.List(r.Context(), statuses...)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	items := make([]WorkflowSummary, 0, len(states))
	for _, st := range states {
		items = append(items, summarize(st))
	}
	WriteSuccess(w, r, map[string]any{"workflows": items, "total": len(items)})
}

func parseStatuses(raw string) ([]workflow.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var out []workflow.Status
	for _, part := range strings.Split(raw, ",") {
		s := workflow.Status(strings.ToLower(strings.TrimSpace(part)))
		if s == "" {
			continue
		}
		if !s.Valid() {
			return nil, types.NewError(types.ErrInvalidRequest, "unknown status: "+string(s))
		}
		out = append(out, s)
	}
	return out, nil
}

// HandleGet GET /api/v1/workflows/{id}
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, st)
}

// HandleResume POST /api/v1/workflows/{id}/resume，请求体为 workflow.Decision。
// 实例不在等待决定时返回当前快照（幂等）。
func (h *WorkflowHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var d workflow.Decision
	if err := DecodeJSONBody(w, r, &d, h.logger); err != nil {
		return
	}
	d.Value = strings.ToLower(strings.TrimSpace(d.Value))

	st, err := h.service.Resume(r.Context(), r.PathValue("id"), d)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, st)
}

// HandleAbort POST /api/v1/workflows/{id}/abort
func (h *WorkflowHandler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Abort(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("workflow aborted via API",
		zap.String("workflow_id", st.ID),
		zap.String("request_id", requestID(r)))
	WriteSuccess(w, r, st)
}
