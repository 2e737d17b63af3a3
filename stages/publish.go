package stages

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/workflow"
)

// Publication 待发布的活动素材
type Publication struct {
	WorkflowID string  `json:"workflow_id"`
	Channel    string  `json:"channel"`
	AssetURL   string  `json:"asset_url"`
	Brief      string  `json:"brief,omitempty"`
	Score      float64 `json:"score"`
	Comment    string  `json:"comment,omitempty"`
}

// Publisher 发布渠道，由部署方提供
type Publisher interface {
	Publish(ctx context.Context, p Publication) (string, error)
}

// PublisherFunc 将普通函数适配为 Publisher
type PublisherFunc func(ctx context.Context, p Publication) (string, error)

func (f PublisherFunc) Publish(ctx context.Context, p Publication) (string, error) {
	return f(ctx, p)
}

// LogPublisher 只记录日志并返回发布编号，用于未接入渠道的部署
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher 创建日志发布器
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.With(zap.String("component", "log_publisher"))}
}

func (p *LogPublisher) Publish(_ context.Context, pub Publication) (string, error) {
	id := "pub_" + uuid.NewString()
	p.logger.Info("campaign published",
		zap.String("publication_id", id),
		zap.String("workflow_id", pub.WorkflowID),
		zap.String("channel", pub.Channel),
		zap.String("asset_url", pub.AssetURL))
	return id, nil
}

// PublishStage 审核通过后把素材交给发布渠道
type PublishStage struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewPublishStage 创建发布阶段；publisher 为 nil 时使用 LogPublisher
func NewPublishStage(publisher Publisher, opts Options) *PublishStage {
	opts = opts.withDefaults()
	if publisher == nil {
		publisher = NewLogPublisher(opts.Logger)
	}
	return &PublishStage{publisher: publisher, logger: opts.Logger.With(zap.String("stage", NodePublish))}
}

// Handle 实现 workflow.StageHandler
func (s *PublishStage) Handle(ctx context.Context, state *workflow.WorkflowState) (*workflow.StageResult, error) {
	if d, ok := state.Decision(NodeApproval); ok && d != workflow.DecisionApproved {
		return nil, workflow.Permanent(fmt.Errorf("campaign not approved: decision %q", d))
	}
	asset := resultString(state, NodeAsset, "asset_url")
	if asset == "" {
		return nil, workflow.Permanent(fmt.Errorf("nothing to publish: node %q has no asset_url", NodeAsset))
	}

	pub := Publication{
		WorkflowID: state.ID,
		Channel:    stringInput(state.Inputs, InputChannel, "social"),
		AssetURL:   asset,
		Brief:      resultString(state, NodeBrief, "brief"),
		Comment:    resultString(state, NodeApproval, "comment"),
	}
	if r, ok := state.Results[NodeEvaluate]; ok {
		pub.Score, _ = number(r.Data["score"])
	}

	id, err := s.publisher.Publish(ctx, pub)
	if err != nil {
		return nil, fmt.Errorf("publish to %s: %w", pub.Channel, err)
	}
	return &workflow.StageResult{Data: map[string]any{
		"publication_id": id,
		"channel":        pub.Channel,
		"asset_url":      pub.AssetURL,
	}}, nil
}
