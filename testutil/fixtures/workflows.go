// =============================================================================
// 📦 测试数据工厂 - 工作流状态与配置
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/campaignflow/config"
	"github.com/BaSui01/campaignflow/workflow"
)

// Epoch 固定的测试时间点
var Epoch = time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)

// FastOrchestratorConfig 毫秒级退避、无抖动的编排器配置
func FastOrchestratorConfig() config.OrchestratorConfig {
	cfg := config.DefaultOrchestratorConfig()
	cfg.MaxRetries = 2
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	cfg.BackoffJitter = false
	cfg.WorkflowTimeout = 10 * time.Second
	cfg.HandlerGracePeriod = 50 * time.Millisecond
	cfg.EventBufferSize = 256
	return cfg
}

// CampaignInputs 典型的活动输入
func CampaignInputs() map[string]any {
	return map[string]any{
		"product":      "Trail Runner X",
		"audience":     "weekend hikers",
		"channel":      "social",
		"quality_tier": "high",
	}
}

// InterruptedState 停在 human-approval 的实例快照
func InterruptedState(id string) *workflow.WorkflowState {
	st := workflow.NewWorkflowState(id, "campaign", "brief", []string{"human-approval"}, CampaignInputs())
	st.Status = workflow.StatusInterrupted
	st.CurrentNode = "human-approval"
	st.CreatedAt, st.UpdatedAt = Epoch, Epoch
	st.PendingDecision = &workflow.PendingDecision{NodeID: "human-approval", RequestedAt: Epoch}
	for i, node := range []string{"brief", "image", "evaluate"} {
		data := map[string]any{"step": float64(i)}
		if node == "evaluate" {
			data["score"] = 8.0
		}
		r := workflow.StageResult{
			NodeID:     node,
			Status:     workflow.StageSuccess,
			Data:       data,
			Attempt:    1,
			StartedAt:  Epoch,
			FinishedAt: Epoch,
		}
		st.Results[node] = r
		st.History = append(st.History, r)
	}
	st.Version = 7
	return st
}
