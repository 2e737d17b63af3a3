package stages

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/routing"
	"github.com/BaSui01/campaignflow/types"
	"github.com/BaSui01/campaignflow/workflow"
)

// VendorRouter 阶段依赖的路由能力，*routing.Router 实现之
type VendorRouter interface {
	Route(ctx context.Context, req *routing.RoutingRequest) (*routing.RoutingDecision, error)
	Execute(ctx context.Context, decision *routing.RoutingDecision, payload map[string]any) (*routing.ExecutionResult, error)
}

// 实例输入中识别的键
const (
	InputProduct      = "product"
	InputAudience     = "audience"
	InputChannel      = "channel"
	InputTone         = "tone"
	InputObjective    = "objective"
	InputAssetType    = "asset_type"
	InputQualityTier  = "quality_tier"
	InputResolution   = "resolution"
	InputMaxCost      = "max_cost"
	InputMaxLatencyMs = "max_latency_ms"
	InputPreferred    = "preferred_vendors"
	InputBlocked      = "blocked_vendors"
)

// dispatch 路由并执行一次供应商调用，转换为 StageResult
func dispatch(ctx context.Context, router VendorRouter, req *routing.RoutingRequest, payload map[string]any, logger *zap.Logger) (*workflow.StageResult, *routing.ExecutionResult, error) {
	decision, err := router.Route(ctx, req)
	if err != nil {
		return nil, nil, classify(err)
	}

	res, err := router.Execute(ctx, decision, payload)
	if err != nil {
		return nil, nil, classify(err)
	}

	logger.Debug("stage dispatched",
		zap.String("capability", string(req.Capability)),
		zap.String("vendor", res.VendorUsed),
		zap.Int("attempts", len(res.Attempts)),
		zap.Float64("cost", res.Cost))

	data := maps.Clone(res.Output)
	if data == nil {
		data = make(map[string]any)
	}
	data["confidence"] = decision.ConfidenceScore
	data["attempts"] = len(res.Attempts)

	return &workflow.StageResult{
		Data:       data,
		VendorUsed: res.VendorUsed,
		Cost:       res.Cost,
		LatencyMs:  res.LatencyMs,
	}, res, nil
}

// classify 请求本身非法时不再重试，路由耗尽交给节点重试策略
func classify(err error) error {
	if types.GetErrorCode(err) == types.ErrInvalidRequest {
		return workflow.Permanent(err)
	}
	return err
}

// requestFromInputs 从实例输入构造路由请求
func requestFromInputs(capability routing.Capability, defaultTier routing.QualityTier, inputs map[string]any) *routing.RoutingRequest {
	tier := routing.QualityTier(stringInput(inputs, InputQualityTier, string(defaultTier)))
	req := &routing.RoutingRequest{
		Capability:  capability,
		QualityTier: tier,
		Resolution:  stringInput(inputs, InputResolution, ""),
	}
	if v, ok := number(inputs[InputMaxCost]); ok {
		req.Constraints.MaxCost = v
	}
	if v, ok := number(inputs[InputMaxLatencyMs]); ok {
		req.Constraints.MaxLatencyMs = int64(v)
	}
	req.Constraints.PreferredVendors = stringsInput(inputs, InputPreferred)
	req.Constraints.BlockedVendors = stringsInput(inputs, InputBlocked)
	return req
}

func stringInput(inputs map[string]any, key, def string) string {
	if v, ok := inputs[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// stringsInput 接受 []string、[]any 或逗号分隔字符串
func stringsInput(inputs map[string]any, key string) []string {
	switch v := inputs[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// number 宽松解析数值（JSON 反序列化后的 float64、整数、数字字符串）
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func resultString(state *workflow.WorkflowState, node, field string) string {
	r, ok := state.Results[node]
	if !ok {
		return ""
	}
	s, _ := r.Data[field].(string)
	return s
}

func missingInput(key string) error {
	return workflow.Permanent(types.NewError(types.ErrInvalidRequest, fmt.Sprintf("input %q is required", key)))
}
