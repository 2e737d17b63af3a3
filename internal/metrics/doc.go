// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、工作流、
供应商路由与数据库连接四个维度。

# 概述

Collector 通过 promauto 注册全部向量指标，按 namespace 隔离。
它同时满足 workflow.MetricsRecorder 与 routing.MetricsRecorder，
由 cmd/campaignflow 注入编排器与路由器；本包不反向依赖二者，
状态一律以字符串标签传入。

# 主要能力

  - HTTP 指标：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：运行开始/结束、运行耗时、活跃运行数、节点执行与重试。
  - 路由指标：决策（按选中供应商）、可选供应商数量分布、失败原因、
    供应商调用次数/耗时/成本。
  - 数据库指标：打开/空闲连接数 Gauge。
*/
package metrics
