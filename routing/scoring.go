package routing

import (
	"math"
	"slices"
	"sort"
)

// qualityScores 质量档位固定得分
var qualityScores = map[QualityTier]float64{
	QualityLow:    60,
	QualityMedium: 80,
	QualityHigh:   90,
	QualityUltra:  95,
}

// normalizeTier 空档位视为 medium，未知档位返回 false
func normalizeTier(t QualityTier) (QualityTier, bool) {
	if t == "" {
		return QualityMedium, true
	}
	_, ok := qualityScores[t]
	return t, ok
}

// VendorScore 单个候选供应商的评分明细，各子项取值 0-100
type VendorScore struct {
	VendorID           string  `json:"vendor_id"`
	Total              float64 `json:"total"`
	Priority           float64 `json:"priority"`
	Cost               float64 `json:"cost"`
	Latency            float64 `json:"latency"`
	Reliability        float64 `json:"reliability"`
	Availability       float64 `json:"availability"`
	Quality            float64 `json:"quality"`
	EstimatedCost      float64 `json:"estimated_cost"`
	EstimatedLatencyMs int64   `json:"estimated_latency_ms"`

	priority  int
	preferred bool
}

func multiplier(m map[string]float64, key string) float64 {
	if key == "" {
		return 1
	}
	if v, ok := m[key]; ok && v > 0 {
		return v
	}
	return 1
}

// estimateCost 基础成本 × 质量系数 × 分辨率系数
func estimateCost(p VendorProfile, tier QualityTier, resolution string) float64 {
	return p.CostPerRequest * multiplier(p.QualityMultipliers, string(tier)) * multiplier(p.ResolutionMultipliers, resolution)
}

// baseLatencyMs 有观测数据时取滑动平均，否则取声明的基础延迟，再退回 SLA 上限
func baseLatencyMs(p VendorProfile) float64 {
	if p.Observed.Requests > 0 && p.Observed.AvgLatencyMs > 0 {
		return p.Observed.AvgLatencyMs
	}
	if p.BaseLatencyMs > 0 {
		return float64(p.BaseLatencyMs)
	}
	return float64(p.SLA.MaxLatencyMs)
}

func estimateLatencyMs(p VendorProfile, tier QualityTier, resolution string) float64 {
	return baseLatencyMs(p) * multiplier(p.QualityMultipliers, string(tier)) * multiplier(p.ResolutionMultipliers, resolution)
}

// linearDecay 100 在 value=0，线性降到 value>=limit 时为 0；limit<=0 视为无约束
func linearDecay(value, limit float64) float64 {
	if limit <= 0 {
		return 100
	}
	if value >= limit {
		return 0
	}
	if value <= 0 {
		return 100
	}
	return 100 * (1 - value/limit)
}

func clamp100(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// scoreVendor 六项子分的等权平均
func scoreVendor(p VendorProfile, req *RoutingRequest, tier QualityTier, costCeiling float64) VendorScore {
	cost := estimateCost(p, tier, req.Resolution)
	latency := estimateLatencyMs(p, tier, req.Resolution)

	costLimit := costCeiling
	if req.Constraints.MaxCost > 0 {
		costLimit = req.Constraints.MaxCost
	}
	latencyLimit := float64(p.SLA.MaxLatencyMs)
	if req.Constraints.MaxLatencyMs > 0 {
		latencyLimit = float64(req.Constraints.MaxLatencyMs)
	}

	s := VendorScore{
		VendorID:           p.ID,
		Priority:           clamp100(float64(p.Priority) * 10),
		Cost:               linearDecay(cost, costLimit),
		Latency:            linearDecay(latency, latencyLimit),
		Reliability:        clamp100(p.Observed.SuccessRate * 100),
		Availability:       clamp100(p.Observed.Availability * 100),
		Quality:            qualityScores[tier],
		EstimatedCost:      cost,
		EstimatedLatencyMs: int64(math.Round(latency)),
		priority:           p.Priority,
		preferred:          slices.Contains(req.Constraints.PreferredVendors, p.ID),
	}
	total := (s.Priority + s.Cost + s.Latency + s.Reliability + s.Availability + s.Quality) / 6
	// 固定精度，避免浮点噪声影响并列判断
	s.Total = math.Round(total*1e6) / 1e6
	return s
}

// rankScores 按总分降序；并列时偏好供应商优先，其次 priority 降序，最后 ID 升序
func rankScores(scores []VendorScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.preferred != b.preferred {
			return a.preferred
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.VendorID < b.VendorID
	})
}
