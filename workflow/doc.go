// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供可恢复、可中断的工作流状态机。

# 概述

工作流由有向图描述：节点是阶段处理器（StageHandler）或人工审核中断点，
边可以是无条件边、条件边、默认边与错误边，条件边允许回环。
Orchestrator 为每个实例启动一个 goroutine 顺序执行节点，每次状态迁移
都写入检查点，中断点处暂停并释放 goroutine，Resume 注入决定后继续。

# 核心类型

  - Graph / ExecutableGraph - 图构建器与编译后的只读图
  - StageHandler            - 阶段处理器接口，HandlerRegistry 按名称登记
  - WorkflowState           - 实例状态（结果、错误、重试计数、历史）
  - Orchestrator            - Start / Resume / Abort / GetState / Wait / Recover
  - CheckpointStore         - 检查点存储接口，MemoryStore 为进程内实现
  - EventBus                - 生命周期事件的有界分发

# 状态机

	pending → running → interrupted → running → … → completed | failed

节点失败按 BackoffPolicy 在重试预算内重试；回环重新进入已执行节点
同样消耗该节点的重试预算，预算耗尽时实例失败（ErrRetriesExhausted）。
*/
package workflow
