// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 campaignflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、routing、stages、
api 等上层模块提供统一的错误码与 Context 传播约定，避免循环依赖。

# 核心接口与类型

  - Error / ErrorCode - 结构化错误体系，含 HTTP 状态码、Retryable、Vendor 标记
  - HTTPStatusFor     - 错误码到 HTTP 状态码的统一映射

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithWorkflowID / WithNodeID
  - 错误检查：IsRetryable / GetErrorCode 支持 errors.As 穿透包装链
*/
package types
