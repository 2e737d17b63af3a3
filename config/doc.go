// Package config 提供 CampaignFlow 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → 环境变量）、配置校验，
// 以及供应商清单文件的轮询热加载。
package config
