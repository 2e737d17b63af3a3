// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，为 CampaignFlow 安装全局
// TracerProvider 与 MeterProvider。工作流编排与供应商路由的 span 均经由全局
// Provider 导出；遥测禁用时保持 noop，不连接任何外部服务。
package telemetry
