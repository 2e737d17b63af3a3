// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

// Package dsl 提供 YAML/JSON 声明式工作流图定义，
// 边条件使用轻量表达式（results.<node>.<field>、decision.<node>、vars.<name>），
// 节点处理器按名称从 workflow.HandlerRegistry 解析，编译为 workflow.ExecutableGraph。
package dsl
