// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CampaignFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现工作流控制面、供应商管理、事件流与健康检查的 HTTP 端点。
所有 Handler 依赖小接口（WorkflowService、VendorRegistry、RoutePlanner、
EventSubscriber），由 workflow.Orchestrator、routing.Registry、routing.Router
与 workflow.EventBus 实现，并通过 Register(mux) 挂载 Go 1.22 风格的
方法 + 路径模式路由。

# 核心类型

  - WorkflowHandler  - 启动、查询、列表、恢复、终止工作流实例
  - VendorHandler    - 供应商画像查询、部分更新、配额重置、路由预演
  - EventsHandler    - 基于 coder/websocket 的事件推送，支持按实例与类型过滤
  - HealthHandler    - 存活与就绪探针，就绪检查并发执行
  - Response         - 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        - 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   - 包装 http.ResponseWriter 以捕获状态码（支持 Hijack）

# 错误映射

WriteError 通过 types.HTTPStatusFor 将错误码映射为 HTTP 状态码；
非 types.Error 的错误一律作为内部错误返回 500，不泄露原因。
DecodeJSONBody 限制请求体 1 MB 并拒绝未知字段。
*/
package handlers
