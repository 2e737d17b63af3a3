package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/routing"
	"github.com/BaSui01/campaignflow/types"
	"github.com/BaSui01/campaignflow/workflow"
)

// AssetStage 按能力（image / video / audio）路由素材生成。
// 评估未通过或审核驳回而回到本节点时，会把上一轮评估反馈一并下发。
type AssetStage struct {
	router VendorRouter
	opts   Options
	logger *zap.Logger
}

// NewAssetStage 创建素材生成阶段
func NewAssetStage(router VendorRouter, opts Options) *AssetStage {
	opts = opts.withDefaults()
	return &AssetStage{router: router, opts: opts, logger: opts.Logger.With(zap.String("stage", NodeAsset))}
}

// Handle 实现 workflow.StageHandler
func (s *AssetStage) Handle(ctx context.Context, state *workflow.WorkflowState) (*workflow.StageResult, error) {
	capability := routing.Capability(stringInput(state.Inputs, InputAssetType, string(s.opts.AssetCapability)))
	switch capability {
	case routing.CapabilityImage, routing.CapabilityVideo, routing.CapabilityAudio:
	default:
		return nil, workflow.Permanent(types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unsupported asset type %q", capability)))
	}

	payload := map[string]any{
		"task":       "generate_asset",
		"asset_type": string(capability),
		"brief":      resultString(state, NodeBrief, "brief"),
		"headline":   resultString(state, NodeBrief, "headline"),
		"channel":    stringInput(state.Inputs, InputChannel, "social"),
		"iteration":  state.NodeRetries[NodeAsset] + 1,
	}
	if fb := resultString(state, NodeEvaluate, "feedback"); fb != "" {
		payload["feedback"] = fb
	}
	if c := resultString(state, NodeApproval, "comment"); c != "" {
		payload["review_comment"] = c
	}

	req := requestFromInputs(capability, s.opts.DefaultTier, state.Inputs)
	result, exec, err := dispatch(ctx, s.router, req, payload, s.logger)
	if err != nil {
		return nil, err
	}

	url, _ := result.Data["asset_url"].(string)
	if url == "" {
		return nil, fmt.Errorf("vendor %s returned no asset_url", exec.VendorUsed)
	}
	result.Data["asset_type"] = string(capability)
	return result, nil
}
