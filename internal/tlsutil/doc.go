// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 提供集中式 TLS 配置（TLS 1.2+，仅 AEAD 密码套件），
// 供应商网关客户端与 HTTPS 服务端共用同一套加固参数。
package tlsutil
