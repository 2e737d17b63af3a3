package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/routing"
	"github.com/BaSui01/campaignflow/workflow"
)

// EvaluateStage 请文本供应商为素材打分（0-10），结果写入 data.score
type EvaluateStage struct {
	router VendorRouter
	opts   Options
	logger *zap.Logger
}

// NewEvaluateStage 创建评估阶段
func NewEvaluateStage(router VendorRouter, opts Options) *EvaluateStage {
	opts = opts.withDefaults()
	return &EvaluateStage{router: router, opts: opts, logger: opts.Logger.With(zap.String("stage", NodeEvaluate))}
}

// Handle 实现 workflow.StageHandler
func (s *EvaluateStage) Handle(ctx context.Context, state *workflow.WorkflowState) (*workflow.StageResult, error) {
	asset := resultString(state, NodeAsset, "asset_url")
	if asset == "" {
		return nil, workflow.Permanent(fmt.Errorf("no asset to evaluate: node %q has no asset_url", NodeAsset))
	}

	payload := map[string]any{
		"task":      "evaluate",
		"asset_url": asset,
		"brief":     resultString(state, NodeBrief, "brief"),
		"channel":   stringInput(state.Inputs, InputChannel, "social"),
	}
	req := requestFromInputs(routing.CapabilityText, s.opts.DefaultTier, state.Inputs)
	req.Resolution = ""

	result, exec, err := dispatch(ctx, s.router, req, payload, s.logger)
	if err != nil {
		return nil, err
	}

	score, ok := number(result.Data["score"])
	if !ok {
		return nil, fmt.Errorf("vendor %s returned no numeric score", exec.VendorUsed)
	}
	score = min(max(score, 0), 10)
	result.Data["score"] = score
	result.Data["passed"] = score >= s.opts.MinScore

	s.logger.Info("asset evaluated",
		zap.String("workflow_id", state.ID),
		zap.Float64("score", score),
		zap.Bool("passed", score >= s.opts.MinScore))
	return result, nil
}
