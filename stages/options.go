package stages

import (
	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/routing"
)

// Options 阶段参数
type Options struct {
	// 未指定 asset_type 时的素材类型
	AssetCapability routing.Capability
	// 未指定 quality_tier 时的档位
	DefaultTier routing.QualityTier
	// 评估通过、进入人工审核的最低分（0-10）
	MinScore float64
	Logger   *zap.Logger
}

// DefaultOptions 图像素材、medium 档位、6 分通过
func DefaultOptions() Options {
	return Options{
		AssetCapability: routing.CapabilityImage,
		DefaultTier:     routing.QualityMedium,
		MinScore:        6,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AssetCapability == "" {
		o.AssetCapability = d.AssetCapability
	}
	if o.DefaultTier == "" {
		o.DefaultTier = d.DefaultTier
	}
	if o.MinScore <= 0 {
		o.MinScore = d.MinScore
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
