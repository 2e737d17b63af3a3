// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 CampaignFlow API 与指标端口的 HTTP 服务器生命周期。

# 概述

Manager 封装 net/http.Server：非阻塞启动、按 ShutdownTimeout 优雅关闭、
异步错误传播。MaxConnections 大于 0 时监听器经 netutil.LimitListener
限流；配置 TLSConfig 后以 HTTPS 提供服务。

Run 将启动与关闭合并为一个阻塞调用，便于在 errgroup 中与编排器、
供应商清单监听、健康检查循环一同运行。
*/
package server
