// Copyright (c) CampaignFlow Authors.
// Licensed under the MIT License.

/*
包 migration 管理检查点表 workflow_checkpoints 的 Schema 迁移，
支持 PostgreSQL、MySQL 与 SQLite（mattn/go-sqlite3，需要 cgo），基于 golang-migrate。

# 概述

各方言的 SQL 文件通过 embed 内嵌在 migrations/<dialect>/ 下，
文件名形如 000001_create_workflow_checkpoints.up.sql。表结构与
workflow/persistence 中 GORM 模型的列保持一致。

# 核心类型

  - Migrator：Up/Down/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：golang-migrate 实现，使用独立数据库连接，
    迁移日志写入 zap；ctx 取消时在当前迁移结束后停止。
  - CLI：campaignflow migrate 子命令的终端输出。
*/
package migration
