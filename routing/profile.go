package routing

import (
	"maps"
	"slices"
	"time"

	"github.com/BaSui01/campaignflow/config"
)

// Capability 供应商能力类别
type Capability string

const (
	CapabilityImage Capability = "image"
	CapabilityVideo Capability = "video"
	CapabilityAudio Capability = "audio"
	CapabilityText  Capability = "text"
)

// QualityTier 请求的质量档位
type QualityTier string

const (
	QualityLow    QualityTier = "low"
	QualityMedium QualityTier = "medium"
	QualityHigh   QualityTier = "high"
	QualityUltra  QualityTier = "ultra"
)

// SLA 供应商声明的服务等级
type SLA struct {
	MaxLatencyMs int64   `json:"max_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
	Availability float64 `json:"availability"`
}

// Quota 每日配额
type Quota struct {
	DailyLimit   int64 `json:"daily_limit"`
	CurrentUsage int64 `json:"current_usage"`
}

// Exhausted 报告配额是否已用尽，DailyLimit <= 0 表示不限额
func (q Quota) Exhausted() bool {
	return q.DailyLimit > 0 && q.CurrentUsage >= q.DailyLimit
}

// Observed 运行期观测到的供应商表现
type Observed struct {
	SuccessRate  float64   `json:"success_rate"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	Availability float64   `json:"availability"`
	Requests     int64     `json:"requests"`
	Failures     int64     `json:"failures"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// VendorProfile 单个供应商的完整画像
type VendorProfile struct {
	ID                    string             `json:"id"`
	Capability            Capability         `json:"capability"`
	Priority              int                `json:"priority"`
	CostPerRequest        float64            `json:"cost_per_request"`
	BaseLatencyMs         int64              `json:"base_latency_ms"`
	SLA                   SLA                `json:"sla"`
	Quota                 Quota              `json:"quota"`
	Capabilities          []string           `json:"capabilities,omitempty"`
	FallbackChain         []string           `json:"fallback_chain,omitempty"`
	QualityMultipliers    map[string]float64 `json:"quality_multipliers,omitempty"`
	ResolutionMultipliers map[string]float64 `json:"resolution_multipliers,omitempty"`
	Endpoint              string             `json:"endpoint,omitempty"`
	Enabled               bool               `json:"enabled"`
	Observed              Observed           `json:"observed"`
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (p VendorProfile) Clone() VendorProfile {
	c := p
	c.Capabilities = slices.Clone(p.Capabilities)
	c.FallbackChain = slices.Clone(p.FallbackChain)
	c.QualityMultipliers = maps.Clone(p.QualityMultipliers)
	c.ResolutionMultipliers = maps.Clone(p.ResolutionMultipliers)
	return c
}

// HasCapabilities 报告 required 是否为供应商能力集合的子集
func (p VendorProfile) HasCapabilities(required []string) bool {
	for _, r := range required {
		if !slices.Contains(p.Capabilities, r) {
			return false
		}
	}
	return true
}

// seedObserved 用 SLA 声明初始化观测指标
func (p *VendorProfile) seedObserved() {
	p.Observed = Observed{
		SuccessRate:  p.SLA.SuccessRate,
		Availability: p.SLA.Availability,
	}
}

// ProfileFromConfig 将静态配置转换为供应商画像
func ProfileFromConfig(vc config.VendorConfig) VendorProfile {
	p := VendorProfile{
		ID:             vc.ID,
		Capability:     Capability(vc.Capability),
		Priority:       vc.Priority,
		CostPerRequest: vc.CostPerRequest,
		BaseLatencyMs:  vc.BaseLatencyMs,
		SLA: SLA{
			MaxLatencyMs: vc.MaxLatencyMs,
			SuccessRate:  vc.SuccessRate,
			Availability: vc.Availability,
		},
		Quota:                 Quota{DailyLimit: vc.DailyLimit},
		Capabilities:          slices.Clone(vc.Capabilities),
		FallbackChain:         slices.Clone(vc.FallbackChain),
		QualityMultipliers:    maps.Clone(vc.QualityMultipliers),
		ResolutionMultipliers: maps.Clone(vc.ResolutionMultipliers),
		Endpoint:              vc.Endpoint,
		Enabled:               !vc.Disabled,
	}
	p.seedObserved()
	return p
}

// ProfilePatch 部分更新，nil 字段保持不变
type ProfilePatch struct {
	Priority              *int               `json:"priority,omitempty"`
	CostPerRequest        *float64           `json:"cost_per_request,omitempty"`
	BaseLatencyMs         *int64             `json:"base_latency_ms,omitempty"`
	SLA                   *SLA               `json:"sla,omitempty"`
	DailyLimit            *int64             `json:"daily_limit,omitempty"`
	CurrentUsage          *int64             `json:"current_usage,omitempty"`
	Capabilities          []string           `json:"capabilities,omitempty"`
	FallbackChain         []string           `json:"fallback_chain,omitempty"`
	QualityMultipliers    map[string]float64 `json:"quality_multipliers,omitempty"`
	ResolutionMultipliers map[string]float64 `json:"resolution_multipliers,omitempty"`
	Endpoint              *string            `json:"endpoint,omitempty"`
	Enabled               *bool              `json:"enabled,omitempty"`
	Availability          *float64           `json:"availability,omitempty"`
}

// PatchFromConfig 生成覆盖全部静态字段的补丁，保留用量与观测指标
func PatchFromConfig(vc config.VendorConfig) ProfilePatch {
	p := ProfileFromConfig(vc)
	enabled := p.Enabled
	return ProfilePatch{
		Priority:              &p.Priority,
		CostPerRequest:        &p.CostPerRequest,
		BaseLatencyMs:         &p.BaseLatencyMs,
		SLA:                   &p.SLA,
		DailyLimit:            &p.Quota.DailyLimit,
		Capabilities:          nonNil(p.Capabilities),
		FallbackChain:         nonNil(p.FallbackChain),
		QualityMultipliers:    nonNilMap(p.QualityMultipliers),
		ResolutionMultipliers: nonNilMap(p.ResolutionMultipliers),
		Endpoint:              &p.Endpoint,
		Enabled:               &enabled,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

// apply 将补丁写入画像（调用方持有供应商锁）
func (pp ProfilePatch) apply(p *VendorProfile) {
	if pp.Priority != nil {
		p.Priority = *pp.Priority
	}
	if pp.CostPerRequest != nil {
		p.CostPerRequest = *pp.CostPerRequest
	}
	if pp.BaseLatencyMs != nil {
		p.BaseLatencyMs = *pp.BaseLatencyMs
	}
	if pp.SLA != nil {
		p.SLA = *pp.SLA
	}
	if pp.DailyLimit != nil {
		p.Quota.DailyLimit = *pp.DailyLimit
	}
	if pp.Capabilities != nil {
		p.Capabilities = slices.Clone(pp.Capabilities)
	}
	if pp.FallbackChain != nil {
		p.FallbackChain = slices.Clone(pp.FallbackChain)
	}
	if pp.QualityMultipliers != nil {
		p.QualityMultipliers = maps.Clone(pp.QualityMultipliers)
	}
	if pp.ResolutionMultipliers != nil {
		p.ResolutionMultipliers = maps.Clone(pp.ResolutionMultipliers)
	}
	if pp.Endpoint != nil {
		p.Endpoint = *pp.Endpoint
	}
	if pp.Enabled != nil {
		p.Enabled = *pp.Enabled
	}
	if pp.Availability != nil {
		p.Observed.Availability = *pp.Availability
	}
}

// validate 校验补丁取值范围
func (pp ProfilePatch) validate() error {
	if pp.Priority != nil && (*pp.Priority < 1 || *pp.Priority > 10) {
		return invalidRequest("priority must be between 1 and 10")
	}
	if pp.CostPerRequest != nil && *pp.CostPerRequest < 0 {
		return invalidRequest("cost_per_request must not be negative")
	}
	if pp.CurrentUsage != nil && *pp.CurrentUsage < 0 {
		return invalidRequest("current_usage must not be negative")
	}
	if pp.Availability != nil && (*pp.Availability < 0 || *pp.Availability > 1) {
		return invalidRequest("availability must be in [0, 1]")
	}
	if pp.SLA != nil {
		if pp.SLA.SuccessRate < 0 || pp.SLA.SuccessRate > 1 || pp.SLA.Availability < 0 || pp.SLA.Availability > 1 {
			return invalidRequest("sla rates must be in [0, 1]")
		}
	}
	return nil
}
