package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/config"
)

// vendorEntry 单个供应商的可变状态，由自身的锁保护
type vendorEntry struct {
	mu      sync.Mutex
	profile VendorProfile
	adapter ServiceAdapter
}

// Registry 供应商目录。map 锁只保护成员关系，
// 画像与观测指标的修改都在各自供应商的锁内完成。
type Registry struct {
	mu      sync.RWMutex
	vendors map[string]*vendorEntry

	quota        QuotaCounter
	successAlpha float64
	latencyAlpha float64
	logger       *zap.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithSmoothing 设置成功率与延迟的滑动平均系数
func WithSmoothing(successAlpha, latencyAlpha float64) RegistryOption {
	return func(r *Registry) {
		if successAlpha > 0 && successAlpha <= 1 {
			r.successAlpha = successAlpha
		}
		if latencyAlpha > 0 && latencyAlpha <= 1 {
			r.latencyAlpha = latencyAlpha
		}
	}
}

// WithRegistryLogger sets the registry logger
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry 创建供应商目录，quota 为 nil 时使用进程内计数
func NewRegistry(quota QuotaCounter, opts ...RegistryOption) *Registry {
	if quota == nil {
		quota = NewMemoryQuotaCounter()
	}
	r := &Registry{
		vendors:      make(map[string]*vendorEntry),
		quota:        quota,
		successAlpha: 0.1,
		latencyAlpha: 0.2,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "vendor_registry"))
	return r
}

// Register 注册供应商；观测指标按 SLA 声明初始化
func (r *Registry) Register(ctx context.Context, p VendorProfile, adapter ServiceAdapter) error {
	if p.ID == "" {
		return invalidRequest("vendor id is required")
	}
	if p.Capability == "" {
		return invalidRequest(fmt.Sprintf("vendor %q: capability is required", p.ID))
	}
	if p.Priority < 1 || p.Priority > 10 {
		return invalidRequest(fmt.Sprintf("vendor %q: priority must be between 1 and 10", p.ID))
	}
	if adapter == nil {
		return invalidRequest(fmt.Sprintf("vendor %q: adapter is required", p.ID))
	}

	p = p.Clone()
	if p.Observed.Requests == 0 {
		p.seedObserved()
	}

	r.mu.Lock()
	if _, exists := r.vendors[p.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("vendor %q: %w", p.ID, ErrVendorExists)
	}
	r.vendors[p.ID] = &vendorEntry{profile: p, adapter: adapter}
	r.mu.Unlock()

	if p.Quota.CurrentUsage > 0 {
		if err := r.quota.Set(ctx, p.ID, p.Quota.CurrentUsage); err != nil {
			return fmt.Errorf("vendor %q: seed quota: %w", p.ID, err)
		}
	}

	r.logger.Info("vendor registered",
		zap.String("vendor", p.ID),
		zap.String("capability", string(p.Capability)),
		zap.Int("priority", p.Priority))
	return nil
}

// Unregister 移除供应商；已持有决策的执行可继续使用其适配器
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.vendors[id]; !ok {
		return vendorNotFound(id)
	}
	delete(r.vendors, id)
	r.logger.Info("vendor unregistered", zap.String("vendor", id))
	return nil
}

func (r *Registry) entry(id string) (*vendorEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.vendors[id]
	return e, ok
}

func (r *Registry) entries() []*vendorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*vendorEntry, 0, len(r.vendors))
	for _, e := range r.vendors {
		out = append(out, e)
	}
	return out
}

func (r *Registry) snapshot(ctx context.Context, e *vendorEntry) (VendorProfile, error) {
	e.mu.Lock()
	p := e.profile.Clone()
	e.mu.Unlock()

	usage, err := r.quota.Usage(ctx, p.ID)
	if err != nil {
		return VendorProfile{}, fmt.Errorf("vendor %q: read quota: %w", p.ID, err)
	}
	p.Quota.CurrentUsage = usage
	return p, nil
}

// Get 返回供应商画像快照
func (r *Registry) Get(ctx context.Context, id string) (VendorProfile, error) {
	e, ok := r.entry(id)
	if !ok {
		return VendorProfile{}, vendorNotFound(id)
	}
	return r.snapshot(ctx, e)
}

// List 返回全部供应商快照，按 ID 排序
func (r *Registry) List(ctx context.Context) ([]VendorProfile, error) {
	return r.collect(ctx, func(VendorProfile) bool { return true })
}

// Candidates 返回指定能力类别的供应商快照，按 ID 排序
func (r *Registry) Candidates(ctx context.Context, capability Capability) ([]VendorProfile, error) {
	return r.collect(ctx, func(p VendorProfile) bool { return p.Capability == capability })
}

func (r *Registry) collect(ctx context.Context, keep func(VendorProfile) bool) ([]VendorProfile, error) {
	entries := r.entries()
	out := make([]VendorProfile, 0, len(entries))
	for _, e := range entries {
		p, err := r.snapshot(ctx, e)
		if err != nil {
			return nil, err
		}
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Adapter 返回供应商适配器
func (r *Registry) Adapter(id string) (ServiceAdapter, bool) {
	e, ok := r.entry(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adapter, true
}

// UpdateVendorProfile 运行期部分更新（配额重置、SLA 调整等）
func (r *Registry) UpdateVendorProfile(ctx context.Context, id string, patch ProfilePatch) (VendorProfile, error) {
	if err := patch.validate(); err != nil {
		return VendorProfile{}, err
	}
	e, ok := r.entry(id)
	if !ok {
		return VendorProfile{}, vendorNotFound(id)
	}

	e.mu.Lock()
	patch.apply(&e.profile)
	e.profile.Observed.UpdatedAt = time.Now()
	e.mu.Unlock()

	if patch.CurrentUsage != nil {
		if err := r.quota.Set(ctx, id, *patch.CurrentUsage); err != nil {
			return VendorProfile{}, fmt.Errorf("vendor %q: set quota: %w", id, err)
		}
	}

	r.logger.Info("vendor profile updated", zap.String("vendor", id))
	return r.Get(ctx, id)
}

// IncrementUsage 配额用量 +1
func (r *Registry) IncrementUsage(ctx context.Context, id string) (int64, error) {
	if _, ok := r.entry(id); !ok {
		return 0, vendorNotFound(id)
	}
	return r.quota.Increment(ctx, id)
}

// ResetQuota 清零单个供应商的配额用量（供外部调度器调用）
func (r *Registry) ResetQuota(ctx context.Context, id string) error {
	if _, ok := r.entry(id); !ok {
		return vendorNotFound(id)
	}
	return r.quota.Reset(ctx, id)
}

// ResetAllQuotas 清零全部供应商的配额用量
func (r *Registry) ResetAllQuotas(ctx context.Context) error {
	for _, e := range r.entries() {
		e.mu.Lock()
		id := e.profile.ID
		e.mu.Unlock()
		if err := r.quota.Reset(ctx, id); err != nil {
			return fmt.Errorf("vendor %q: reset quota: %w", id, err)
		}
	}
	r.logger.Info("all vendor quotas reset")
	return nil
}

// RecordSuccess 记录一次成功调用
func (r *Registry) RecordSuccess(id string, latency time.Duration) {
	r.observe(id, latency, nil)
}

// RecordFailure 记录一次失败调用
func (r *Registry) RecordFailure(id string, latency time.Duration, err error) {
	r.observe(id, latency, err)
}

func (r *Registry) observe(id string, latency time.Duration, callErr error) {
	e, ok := r.entry(id)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o := &e.profile.Observed
	outcome := 1.0
	if callErr != nil {
		outcome = 0
		o.Failures++
		o.LastError = callErr.Error()
	}
	o.SuccessRate = (1-r.successAlpha)*o.SuccessRate + r.successAlpha*outcome

	ms := float64(latency) / float64(time.Millisecond)
	if o.Requests == 0 || o.AvgLatencyMs == 0 {
		o.AvgLatencyMs = ms
	} else {
		o.AvgLatencyMs = (1-r.latencyAlpha)*o.AvgLatencyMs + r.latencyAlpha*ms
	}
	o.Requests++
	o.UpdatedAt = time.Now()
}

// RecordHealth 根据探活结果平滑更新可用性
func (r *Registry) RecordHealth(id string, healthy bool, probeErr error) {
	e, ok := r.entry(id)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o := &e.profile.Observed
	outcome := 0.0
	if healthy {
		outcome = 1
	}
	o.Availability = (1-r.successAlpha)*o.Availability + r.successAlpha*outcome
	if probeErr != nil {
		o.LastError = probeErr.Error()
	}
	o.UpdatedAt = time.Now()
}

// Sync 以清单为准对齐目录：新增注册、已有更新、缺失注销
func (r *Registry) Sync(ctx context.Context, vendors []config.VendorConfig, factory AdapterFactory) error {
	listed := make(map[string]bool, len(vendors))
	for _, vc := range vendors {
		listed[vc.ID] = true
		if e, ok := r.entry(vc.ID); ok {
			e.mu.Lock()
			endpointChanged := e.profile.Endpoint != vc.Endpoint
			e.mu.Unlock()
			if endpointChanged {
				adapter, err := factory(ProfileFromConfig(vc), vc.APIKey, vc.RateLimitRPS)
				if err != nil {
					return fmt.Errorf("vendor %q: build adapter: %w", vc.ID, err)
				}
				e.mu.Lock()
				e.adapter = adapter
				e.mu.Unlock()
			}
			if _, err := r.UpdateVendorProfile(ctx, vc.ID, PatchFromConfig(vc)); err != nil {
				return err
			}
			continue
		}
		p := ProfileFromConfig(vc)
		adapter, err := factory(p, vc.APIKey, vc.RateLimitRPS)
		if err != nil {
			return fmt.Errorf("vendor %q: build adapter: %w", vc.ID, err)
		}
		if err := r.Register(ctx, p, adapter); err != nil {
			return err
		}
	}

	for _, e := range r.entries() {
		e.mu.Lock()
		id := e.profile.ID
		e.mu.Unlock()
		if !listed[id] {
			if err := r.Unregister(id); err != nil {
				return err
			}
		}
	}
	return nil
}
