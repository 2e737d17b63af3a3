package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/routing"
	"github.com/BaSui01/campaignflow/types"
)

// =============================================================================
// 🏷️ Vendor Handler
// =============================================================================

// VendorRegistry 供应商注册表的管理面，由 routing.Registry 实现
type VendorRegistry interface {
	Get(ctx context.Context, id string) (routing.VendorProfile, error)
	List(ctx context.Context) ([]routing.VendorProfile, error)
	Candidates(ctx context.Context, capability routing.Capability) ([]routing.VendorProfile, error)
	UpdateVendorProfile(ctx context.Context, id string, patch routing.ProfilePatch) (routing.VendorProfile, error)
	ResetQuota(ctx context.Context, id string) error
	ResetAllQuotas(ctx context.Context) error
}

// RoutePlanner 只做选择、不调用供应商，由 routing.Router 实现
type RoutePlanner interface {
	Route(ctx context.Context, req *routing.RoutingRequest) (*routing.RoutingDecision, error)
}

var (
	_ VendorRegistry = (*routing.Registry)(nil)
	_ RoutePlanner   = (*routing.Router)(nil)
)

// VendorHandler 供应商查询、运行期调整与路由预演
type VendorHandler struct {
	registry VendorRegistry
	planner  RoutePlanner
	logger   *zap.Logger
}

// NewVendorHandler 创建供应商处理器，planner 为 nil 时不挂载路由预演
func NewVendorHandler(registry VendorRegistry, planner RoutePlanner, logger *zap.Logger) *VendorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VendorHandler{
		registry: registry,
		planner:  planner,
		logger:   logger.With(zap.String("component", "vendor_handler")),
	}
}

// Register 挂载路由
func (h *VendorHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/vendors", h.HandleList)
	mux.HandleFunc("GET /api/v1/vendors/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /api/v1/vendors/{id}", h.HandleUpdate)
	mux.HandleFunc("POST /api/v1/vendors/{id}/quota/reset", h.HandleResetQuota)
	mux.HandleFunc("POST /api/v1/vendors/quota/reset", h.HandleResetAllQuotas)
	if h.planner != nil {
		mux.HandleFunc("POST /api/v1/routing/decisions", h.HandleRoute)
	}
}

// HandleList GET /api/v1/vendors?capability=image
func (h *VendorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		vendors []routing.VendorProfile
		err     error
	)
	if c := r.URL.Query().Get("capability"); c != "" {
		vendors, err = h.registry.Candidates(r.Context(), routing.Capability(c))
	} else {
		vendors, err = h.registry.List(r.Context())
	}
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]any{"vendors": vendors, "total": len(vendors)})
}

// HandleGet GET /api/v1/vendors/{id}
func (h *VendorHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, p)
}

// HandleUpdate PATCH /api/v1/vendors/{id}，请求体为 routing.ProfilePatch
func (h *VendorHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var patch routing.ProfilePatch
	if err := DecodeJSONBody(w, r, &patch, h.logger); err != nil {
		return
	}
	p, err := h.registry.UpdateVendorProfile(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("vendor updated via API",
		zap.String("vendor", p.ID),
		zap.String("request_id", requestID(r)))
	WriteSuccess(w, r, p)
}

// HandleResetQuota POST /api/v1/vendors/{id}/quota/reset
func (h *VendorHandler) HandleResetQuota(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.ResetQuota(r.Context(), id); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	p, err := h.registry.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, p)
}

// HandleResetAllQuotas POST /api/v1/vendors/quota/reset
func (h *VendorHandler) HandleResetAllQuotas(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.ResetAllQuotas(r.Context()); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]bool{"reset": true})
}

// HandleRoute POST /api/v1/routing/decisions，返回路由决策但不执行
func (h *VendorHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req routing.RoutingRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Capability == "" {
		WriteErrorMessage(w, r, types.ErrInvalidRequest, "capability is required", h.logger)
		return
	}
	decision, err := h.planner.Route(r.Context(), &req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, decision)
}
