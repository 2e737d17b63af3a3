// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
Package routing 提供多供应商内容生成的路由、降级与配额管理。

# 概述

Router 在每次生成阶段被调用：先从 Registry 取出指定能力类别的供应商快照，
过滤掉被屏蔽、能力不足、配额用尽、可用性低于 SLA 下限或估算成本超限的候选，
再按六项子分（优先级、成本、延迟、可靠性、可用性、质量）等权平均排序，
返回主选与至多三个备选。Execute 依次尝试，首个成功者计入配额与滑动指标。

# 核心接口与类型

  - Registry：供应商目录，显式 Register/Unregister/UpdateVendorProfile 生命周期；
    map 锁仅保护成员关系，每个供应商独立加锁。
  - QuotaCounter：配额计数（MemoryQuotaCounter / RedisQuotaCounter）。
  - ServiceAdapter：供应商调用契约，HTTPAdapter 为 JSON over HTTP 实现。
  - HealthChecker：周期探活，平滑更新观测可用性。
  - NoEligibleVendorError / AllVendorsFailedError：可用 errors.Is 匹配
    ErrNoEligibleVendor / ErrAllVendorsFailed。
*/
package routing
