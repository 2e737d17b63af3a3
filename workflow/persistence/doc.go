// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

// Package persistence 提供 workflow.CheckpointStore 的持久化实现：
// Redis（internal/cache）、关系数据库（GORM）与 MongoDB。
// 所有实现均以 JSON 序列化完整 WorkflowState，按实例 ID 覆盖写，
// 同时实现 CheckpointLister / CheckpointDeleter，供崩溃恢复使用。
package persistence
