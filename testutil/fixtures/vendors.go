// =============================================================================
// 📦 测试数据工厂 - 供应商画像与路由器
// =============================================================================
package fixtures

import (
	"context"
	"testing"

	"github.com/BaSui01/campaignflow/routing"
)

// Vendor 构造一个启用状态、SLA 宽松的供应商画像
func Vendor(id string, capability routing.Capability, priority int) routing.VendorProfile {
	return routing.VendorProfile{
		ID:             id,
		Capability:     capability,
		Priority:       priority,
		CostPerRequest: 0.1,
		BaseLatencyMs:  500,
		SLA: routing.SLA{
			MaxLatencyMs: 2000,
			SuccessRate:  0.95,
			Availability: 0.9,
		},
		Enabled: true,
	}
}

// ImageVendor 图像生成供应商
func ImageVendor(id string, priority int) routing.VendorProfile {
	return Vendor(id, routing.CapabilityImage, priority)
}

// TextVendor 文本供应商（简报、评估）
func TextVendor(id string, priority int) routing.VendorProfile {
	p := Vendor(id, routing.CapabilityText, priority)
	p.CostPerRequest = 0.01
	p.BaseLatencyMs = 200
	return p
}

// Entry 供应商与其适配器
type Entry struct {
	Profile routing.VendorProfile
	Adapter routing.ServiceAdapter
}

// With 组合画像与适配器
func With(p routing.VendorProfile, a routing.ServiceAdapter) Entry {
	return Entry{Profile: p, Adapter: a}
}

// NewRegistry 注册全部供应商，失败时测试终止
func NewRegistry(t testing.TB, entries ...Entry) *routing.Registry {
	t.Helper()
	reg := routing.NewRegistry(nil)
	for _, e := range entries {
		if err := reg.Register(context.Background(), e.Profile, e.Adapter); err != nil {
			t.Fatalf("register vendor %s: %v", e.Profile.ID, err)
		}
	}
	return reg
}

// NewRouter 以默认参数（两个备选）创建路由器
func NewRouter(t testing.TB, entries ...Entry) *routing.Router {
	t.Helper()
	opts := routing.DefaultOptions()
	opts.MaxFallbacks = 2
	return routing.NewRouter(NewRegistry(t, entries...), opts)
}
