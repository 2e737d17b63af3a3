package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/config"
)

const instrumentationName = "github.com/BaSui01/campaignflow/routing"

// Constraints 路由约束，零值表示不约束
type Constraints struct {
	MaxCost              float64  `json:"max_cost,omitempty"`
	MaxLatencyMs         int64    `json:"max_latency_ms,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	BlockedVendors       []string `json:"blocked_vendors,omitempty"`
	PreferredVendors     []string `json:"preferred_vendors,omitempty"`
}

// RoutingRequest 一次路由请求
type RoutingRequest struct {
	Capability  Capability  `json:"capability"`
	QualityTier QualityTier `json:"quality_tier,omitempty"`
	Resolution  string      `json:"resolution,omitempty"`
	Constraints Constraints `json:"constraints"`
}

// RoutingDecision 路由决策，FallbackVendors 不含主选与被屏蔽的供应商
type RoutingDecision struct {
	SelectedVendor     string        `json:"selected_vendor"`
	FallbackVendors    []string      `json:"fallback_vendors"`
	EstimatedCost      float64       `json:"estimated_cost"`
	EstimatedLatencyMs int64         `json:"estimated_latency_ms"`
	ConfidenceScore    float64       `json:"confidence_score"`
	Reasoning          string        `json:"reasoning"`
	Capability         Capability    `json:"capability"`
	QualityTier        QualityTier   `json:"quality_tier"`
	Resolution         string        `json:"resolution,omitempty"`
	Scores             []VendorScore `json:"scores"`
}

// Vendors 返回按尝试顺序排列的供应商
func (d *RoutingDecision) Vendors() []string {
	return append([]string{d.SelectedVendor}, d.FallbackVendors...)
}

func (d *RoutingDecision) score(vendorID string) (VendorScore, bool) {
	for _, s := range d.Scores {
		if s.VendorID == vendorID {
			return s, true
		}
	}
	return VendorScore{}, false
}

// ExecutionResult Execute 的结果
type ExecutionResult struct {
	VendorUsed string          `json:"vendor_used"`
	Output     map[string]any  `json:"output"`
	Cost       float64         `json:"cost"`
	LatencyMs  int64           `json:"latency_ms"`
	Attempts   []AttemptRecord `json:"attempts"`
}

// MetricsRecorder 路由指标上报
type MetricsRecorder interface {
	RecordRoutingDecision(capability, vendorID string, eligible int)
	RecordRoutingFailure(capability, reason string)
	RecordVendorCall(vendorID, capability, status string, duration time.Duration, cost float64)
}

type nopMetrics struct{}

func (nopMetrics) RecordRoutingDecision(string, string, int)                         {}
func (nopMetrics) RecordRoutingFailure(string, string)                               {}
func (nopMetrics) RecordVendorCall(string, string, string, time.Duration, float64) {}

// Options 路由器参数
type Options struct {
	CostCeiling        float64
	MaxFallbacks       int
	HonorFallbackChain bool
	AdapterTimeout     time.Duration
}

// OptionsFromConfig 从配置构造路由器参数
func OptionsFromConfig(cfg config.RouterConfig) Options {
	return Options{
		CostCeiling:        cfg.CostCeiling,
		MaxFallbacks:       cfg.MaxFallbacks,
		HonorFallbackChain: cfg.HonorFallbackChain,
		AdapterTimeout:     cfg.AdapterTimeout,
	}
}

// DefaultOptions 返回默认路由器参数
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultRouterConfig())
}

// Router 供应商路由器
type Router struct {
	registry *Registry
	opts     Options
	metrics  MetricsRecorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithMetrics 注入指标上报
func WithMetrics(m MetricsRecorder) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithLogger sets the router logger
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter 创建路由器
func NewRouter(registry *Registry, opts Options, options ...RouterOption) *Router {
	if opts.CostCeiling <= 0 {
		opts.CostCeiling = 1
	}
	if opts.MaxFallbacks < 0 {
		opts.MaxFallbacks = 0
	}
	r := &Router{
		registry: registry,
		opts:     opts,
		metrics:  nopMetrics{},
		tracer:   otel.Tracer(instrumentationName),
		logger:   zap.NewNop(),
	}
	for _, o := range options {
		o(r)
	}
	r.logger = r.logger.With(zap.String("component", "vendor_router"))
	return r
}

// Registry 返回底层供应商目录
func (r *Router) Registry() *Registry {
	return r.registry
}

// Route 过滤、评分并排序候选供应商。给定相同的画像快照，结果确定。
func (r *Router) Route(ctx context.Context, req *RoutingRequest) (*RoutingDecision, error) {
	if req == nil || req.Capability == "" {
		return nil, invalidRequest("routing request requires a capability")
	}
	tier, ok := normalizeTier(req.QualityTier)
	if !ok {
		return nil, invalidRequest(fmt.Sprintf("unknown quality tier %q", req.QualityTier))
	}

	ctx, span := r.tracer.Start(ctx, "routing.route", trace.WithAttributes(
		attribute.String("routing.capability", string(req.Capability)),
		attribute.String("routing.quality_tier", string(tier)),
	))
	defer span.End()

	candidates, err := r.registry.Candidates(ctx, req.Capability)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load vendor candidates: %w", err)
	}

	eligible, rejected := r.filter(candidates, req, tier)
	if len(eligible) == 0 {
		err := &NoEligibleVendorError{Capability: req.Capability, Rejected: rejected}
		r.metrics.RecordRoutingFailure(string(req.Capability), "no_eligible_vendor")
		span.SetStatus(codes.Error, "no eligible vendor")
		r.logger.Warn("no eligible vendor",
			zap.String("capability", string(req.Capability)),
			zap.Int("candidates", len(candidates)))
		return nil, err
	}

	scores := make([]VendorScore, 0, len(eligible))
	byID := make(map[string]VendorProfile, len(eligible))
	for _, p := range eligible {
		scores = append(scores, scoreVendor(p, req, tier, r.opts.CostCeiling))
		byID[p.ID] = p
	}
	rankScores(scores)

	top := scores[0]
	decision := &RoutingDecision{
		SelectedVendor:     top.VendorID,
		FallbackVendors:    r.fallbacks(byID[top.VendorID], scores),
		EstimatedCost:      top.EstimatedCost,
		EstimatedLatencyMs: top.EstimatedLatencyMs,
		ConfidenceScore:    top.Total / 100,
		Capability:         req.Capability,
		QualityTier:        tier,
		Resolution:         req.Resolution,
		Scores:             scores,
	}
	decision.Reasoning = reasoning(top, len(candidates), len(eligible))

	span.SetAttributes(
		attribute.String("routing.selected_vendor", decision.SelectedVendor),
		attribute.Int("routing.eligible", len(eligible)),
	)
	r.metrics.RecordRoutingDecision(string(req.Capability), decision.SelectedVendor, len(eligible))
	r.logger.Debug("vendor selected",
		zap.String("capability", string(req.Capability)),
		zap.String("vendor", decision.SelectedVendor),
		zap.Strings("fallbacks", decision.FallbackVendors),
		zap.Float64("score", top.Total))

	return decision, nil
}

// filter 返回通过过滤的候选及被淘汰者的原因
func (r *Router) filter(candidates []VendorProfile, req *RoutingRequest, tier QualityTier) ([]VendorProfile, map[string]string) {
	c := req.Constraints
	rejected := make(map[string]string)
	eligible := make([]VendorProfile, 0, len(candidates))

	for _, p := range candidates {
		switch {
		case !p.Enabled:
			rejected[p.ID] = "disabled"
		case slices.Contains(c.BlockedVendors, p.ID):
			rejected[p.ID] = "blocked"
		case !p.HasCapabilities(c.RequiredCapabilities):
			rejected[p.ID] = "missing required capabilities"
		case p.Quota.Exhausted():
			rejected[p.ID] = "quota exhausted"
		case p.Observed.Availability < p.SLA.Availability:
			rejected[p.ID] = "availability below SLA floor"
		case c.MaxCost > 0 && estimateCost(p, tier, req.Resolution) > c.MaxCost:
			rejected[p.ID] = "estimated cost exceeds max cost"
		default:
			eligible = append(eligible, p)
		}
	}
	return eligible, rejected
}

// fallbacks 默认取排名紧随其后的供应商；开启 HonorFallbackChain 时先按主选声明的链排序
func (r *Router) fallbacks(selected VendorProfile, ranked []VendorScore) []string {
	limit := r.opts.MaxFallbacks
	out := make([]string, 0, limit)
	if limit == 0 {
		return out
	}

	eligible := make(map[string]bool, len(ranked))
	for _, s := range ranked[1:] {
		eligible[s.VendorID] = true
	}

	if r.opts.HonorFallbackChain {
		for _, id := range selected.FallbackChain {
			if len(out) == limit {
				return out
			}
			if eligible[id] && !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	for _, s := range ranked[1:] {
		if len(out) == limit {
			break
		}
		if !slices.Contains(out, s.VendorID) {
			out = append(out, s.VendorID)
		}
	}
	return out
}

func reasoning(top VendorScore, candidates, eligible int) string {
	return fmt.Sprintf(
		"selected %s with score %.2f (priority %.0f, cost %.1f, latency %.1f, reliability %.1f, availability %.1f, quality %.0f); %d of %d candidates eligible",
		top.VendorID, top.Total, top.Priority, top.Cost, top.Latency, top.Reliability, top.Availability, top.Quality,
		eligible, candidates,
	)
}

// Execute 依次尝试主选与备选供应商，首个成功者计入配额与指标
func (r *Router) Execute(ctx context.Context, decision *RoutingDecision, payload map[string]any) (*ExecutionResult, error) {
	if decision == nil || decision.SelectedVendor == "" {
		return nil, invalidRequest("execute requires a routing decision")
	}

	ctx, span := r.tracer.Start(ctx, "routing.execute", trace.WithAttributes(
		attribute.String("routing.capability", string(decision.Capability)),
		attribute.String("routing.selected_vendor", decision.SelectedVendor),
	))
	defer span.End()

	capability := string(decision.Capability)
	attempts := make([]AttemptRecord, 0, 1+len(decision.FallbackVendors))

	for _, vendorID := range decision.Vendors() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "canceled")
			return nil, fmt.Errorf("vendor execution interrupted: %w", err)
		}

		resp, latency, err := r.invoke(ctx, decision, vendorID, payload)
		record := AttemptRecord{VendorID: vendorID, LatencyMs: latency.Milliseconds(), Success: err == nil}

		if err != nil {
			record.Error = err.Error()
			attempts = append(attempts, record)
			if !errors.Is(err, ErrVendorNotFound) {
				r.registry.RecordFailure(vendorID, latency, err)
			}
			r.metrics.RecordVendorCall(vendorID, capability, "error", latency, 0)
			r.logger.Warn("vendor call failed",
				zap.String("vendor", vendorID),
				zap.String("capability", capability),
				zap.Duration("latency", latency),
				zap.Error(err))
			continue
		}

		cost := resp.Cost
		if cost <= 0 {
			if s, ok := decision.score(vendorID); ok {
				cost = s.EstimatedCost
			}
		}
		attempts = append(attempts, record)

		if _, qerr := r.registry.IncrementUsage(ctx, vendorID); qerr != nil {
			r.logger.Error("failed to record quota usage", zap.String("vendor", vendorID), zap.Error(qerr))
		}
		r.registry.RecordSuccess(vendorID, latency)
		r.metrics.RecordVendorCall(vendorID, capability, "success", latency, cost)

		if vendorID != decision.SelectedVendor {
			r.logger.Info("fallback vendor succeeded",
				zap.String("primary", decision.SelectedVendor),
				zap.String("vendor", vendorID),
				zap.Int("attempts", len(attempts)))
		}
		span.SetAttributes(attribute.String("routing.vendor_used", vendorID))

		return &ExecutionResult{
			VendorUsed: vendorID,
			Output:     resp.Output,
			Cost:       cost,
			LatencyMs:  latency.Milliseconds(),
			Attempts:   attempts,
		}, nil
	}

	err := &AllVendorsFailedError{Capability: decision.Capability, Attempts: attempts}
	r.metrics.RecordRoutingFailure(capability, "all_vendors_failed")
	span.RecordError(err)
	span.SetStatus(codes.Error, "all vendors failed")
	return nil, err
}

func (r *Router) invoke(ctx context.Context, decision *RoutingDecision, vendorID string, payload map[string]any) (*VendorResponse, time.Duration, error) {
	adapter, ok := r.registry.Adapter(vendorID)
	if !ok {
		return nil, 0, vendorNotFound(vendorID)
	}

	callCtx := ctx
	if r.opts.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.AdapterTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := adapter.Invoke(callCtx, &VendorRequest{
		VendorID:    vendorID,
		Capability:  decision.Capability,
		QualityTier: decision.QualityTier,
		Resolution:  decision.Resolution,
		Payload:     payload,
	})
	latency := time.Since(start)
	if err == nil && resp == nil {
		err = fmt.Errorf("vendor %q returned no response", vendorID)
	}
	return resp, latency, err
}
