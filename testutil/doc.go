// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 CampaignFlow 测试的共享工具和辅助函数。

# 概述

testutil 为工作流、路由、阶段与 HTTP 层的测试提供统一的辅助能力，
供外部测试包（xxx_test）使用。workflow / routing 包内部测试
不能导入本包，以免形成导入环。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel / WaitForStatus
  - 事件辅助: CollectEvents / EventTypes
  - 数据工具: MustJSON / MustParseJSON / AssertJSONEqual

# 子包

  - testutil/mocks: MockAdapter（供应商适配器）、MockHandler（阶段处理器）、
    MockCheckpointStore（可注入故障的快照存储），均支持 Builder 模式与调用记录
  - testutil/fixtures: 预置供应商画像、路由器与工作流状态

# 使用示例

	ctx := testutil.TestContext(t)
	adapter := mocks.NewMockAdapter().WithOutput(map[string]any{"asset_url": "https://cdn/a.png"})
	router := fixtures.NewRouter(t, fixtures.ImageVendor("v1", 8), adapter)
*/
package testutil
