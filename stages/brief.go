package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/routing"
	"github.com/BaSui01/campaignflow/workflow"
)

// BriefStage 由文本供应商根据产品与受众生成创意简报
type BriefStage struct {
	router VendorRouter
	opts   Options
	logger *zap.Logger
}

// NewBriefStage 创建简报阶段
func NewBriefStage(router VendorRouter, opts Options) *BriefStage {
	opts = opts.withDefaults()
	return &BriefStage{router: router, opts: opts, logger: opts.Logger.With(zap.String("stage", NodeBrief))}
}

// Handle 实现 workflow.StageHandler
func (s *BriefStage) Handle(ctx context.Context, state *workflow.WorkflowState) (*workflow.StageResult, error) {
	product := stringInput(state.Inputs, InputProduct, "")
	if product == "" {
		return nil, missingInput(InputProduct)
	}
	channel := stringInput(state.Inputs, InputChannel, "social")

	payload := map[string]any{
		"task":      "brief",
		"product":   product,
		"audience":  stringInput(state.Inputs, InputAudience, ""),
		"channel":   channel,
		"tone":      stringInput(state.Inputs, InputTone, ""),
		"objective": stringInput(state.Inputs, InputObjective, ""),
	}
	req := requestFromInputs(routing.CapabilityText, s.opts.DefaultTier, state.Inputs)
	req.Resolution = ""

	result, exec, err := dispatch(ctx, s.router, req, payload, s.logger)
	if err != nil {
		return nil, err
	}

	if _, ok := result.Data["brief"].(string); !ok {
		text, ok := result.Data["text"].(string)
		if !ok || text == "" {
			return nil, fmt.Errorf("vendor %s returned no brief", exec.VendorUsed)
		}
		result.Data["brief"] = text
	}
	result.Data["channel"] = channel
	return result, nil
}
