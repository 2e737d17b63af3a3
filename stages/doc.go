// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

// Package stages 提供活动流水线的标准阶段处理器（简报、素材生成、评估、发布）
// 以及内置的 campaign 工作流图。生成类阶段通过 routing.Router 选择供应商并自动回退；
// 生成内容本身由供应商决定，这里只负责组织请求、解析结果与错误分类。
package stages
