package stages

import (
	"fmt"

	"github.com/BaSui01/campaignflow/workflow"
)

// 内置 campaign 图的节点 ID
const (
	GraphCampaign = "campaign"

	NodeBrief    = "brief"
	NodeAsset    = "image"
	NodeEvaluate = "evaluate"
	NodeApproval = "human-approval"
	NodePublish  = "publish"
)

// 注册到 HandlerRegistry 的处理器名称，供声明式图定义引用
const (
	HandlerBrief    = "brief"
	HandlerAsset    = "generate_asset"
	HandlerEvaluate = "evaluate"
	HandlerPublish  = "publish"
)

// Set 一组标准阶段处理器
type Set struct {
	Brief    workflow.StageHandler
	Asset    workflow.StageHandler
	Evaluate workflow.StageHandler
	Publish  workflow.StageHandler

	opts Options
}

// New 创建标准阶段；生成与评估共用同一个路由器
func New(router VendorRouter, publisher Publisher, opts Options) *Set {
	opts = opts.withDefaults()
	return &Set{
		Brief:    NewBriefStage(router, opts),
		Asset:    NewAssetStage(router, opts),
		Evaluate: NewEvaluateStage(router, opts),
		Publish:  NewPublishStage(publisher, opts),
		opts:     opts,
	}
}

// Register 按名称登记全部处理器
func (s *Set) Register(reg *workflow.HandlerRegistry) error {
	for name, h := range map[string]workflow.StageHandler{
		HandlerBrief:    s.Brief,
		HandlerAsset:    s.Asset,
		HandlerEvaluate: s.Evaluate,
		HandlerPublish:  s.Publish,
	} {
		if err := reg.Register(name, h); err != nil {
			return fmt.Errorf("register stage %s: %w", name, err)
		}
	}
	return nil
}

// CampaignGraph 构建内置活动图：
//
//	brief → image → evaluate ─(score ≥ MinScore)→ human-approval ─(approved)→ publish → END
//	                   ↑            └─(otherwise)→ image              └─(otherwise)→ image
//
// 回到 image 会消耗该节点的重试预算，因此循环次数有上限。
func (s *Set) CampaignGraph() (*workflow.ExecutableGraph, error) {
	return workflow.NewGraph(GraphCampaign).
		SetEntry(NodeBrief).
		AddNode(NodeBrief, s.Brief, workflow.WithDescription("generate creative brief")).
		AddNode(NodeAsset, s.Asset, workflow.WithDescription("generate campaign asset")).
		AddNode(NodeEvaluate, s.Evaluate, workflow.WithDescription("score the asset")).
		AddInterrupt(NodeApproval, workflow.WithDescription("human approval")).
		AddNode(NodePublish, s.Publish, workflow.WithDescription("publish approved asset")).
		AddEdge(NodeBrief, NodeAsset).
		AddEdge(NodeAsset, NodeEvaluate).
		AddConditionalEdge(NodeEvaluate, NodeApproval, workflow.ResultAtLeast(NodeEvaluate, "score", s.opts.MinScore)).
		AddDefaultEdge(NodeEvaluate, NodeAsset).
		AddConditionalEdge(NodeApproval, NodePublish, workflow.DecisionIs(NodeApproval, workflow.DecisionApproved)).
		AddDefaultEdge(NodeApproval, NodeAsset).
		AddEdge(NodePublish, workflow.End).
		Compile()
}
