// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
包 database 负责打开检查点存储所用的关系型数据库，并管理其连接池。

# 概述

Open 按 config.DatabaseConfig.Driver 选择 gorm 方言（postgres、mysql、
纯 Go 的 sqlite），SQL 日志经 GormLogger 写入 zap。PoolManager 应用连接池
参数，Run 在后台定时探活，并把打开/空闲连接数上报给 StatsRecorder
（通常是 metrics.Collector）。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB/Ping/GetStats/Close/Run。
  - PoolConfig：连接池参数；PoolConfigFrom 从应用配置派生，sqlite 固定为单连接。
  - GormLogger：gorm 日志适配器，慢查询记 Warn，未找到记录不算错误。
*/
package database
