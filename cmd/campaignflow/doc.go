// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 CampaignFlow 服务端程序入口。

# 概述

cmd/campaignflow 组装工作流编排器、供应商路由器与检查点存储，
对外提供 HTTP API、WebSocket 事件流、数据库迁移、健康检查和版本查询等子命令。

# 核心类型

  - Server      - 按配置连接后端并运行 API、Metrics 双端口，负责优雅关闭
  - Middleware  - HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、RateLimiter（基于 IP）
  - 供应商文件热更新：VendorsWatcher 变更后重新 Sync 注册表
  - 启动恢复：RecoverOnStart 时从检查点继续 running 状态的实例
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
