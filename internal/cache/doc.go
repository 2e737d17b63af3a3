// 版权所有 2024 CampaignFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的共享连接管理，服务于工作流检查点存储与
供应商配额计数。

# 概述

本包封装 go-redis 客户端，Manager 负责连接生命周期管理，包括初始化、
后台健康检查与优雅关闭，并提供字符串、JSON、计数器三类读写接口。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete/GetJSON/SetJSON、
    Incr/GetInt 计数器以及 ScanKeys 键遍历。
  - Config：地址、密码、连接池大小、默认 TTL 与健康检查间隔。

# 主要能力

  - TTL 语义：0 使用默认过期时间，负数表示永不过期（检查点使用）。
  - 错误语义：ErrCacheMiss 与 ErrClosed 哨兵错误，IsCacheMiss 判断函数。
*/
package cache
