/*
包 migration 提供数据库 Schema 迁移管理能力，支持 SQLite、PostgreSQL
与 MySQL 三种数据库，基于 golang-migrate 实现。

# 概述

迁移文件以线性版本链的形式存放在可配置的目录中，由 Generate 在运行时
生成空的 up/down 修订对，再由开发者填入 SQL。每次引擎操作都从目录重新
读取修订链，因此新生成的修订无需重启即可生效。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Init/Generate/Up/Down/Version/
    History/Info/State/Close 操作集。
  - FileMigrator：Migrator 的默认实现，封装 golang-migrate 引擎与
    数据库连接管理。
  - BackupManager：嵌入式数据库的文件级备份与恢复。
  - Record / Info：修订记录与 Schema 状态摘要。
  - CLI：命令行交互层，封装 Migrator 提供格式化输出。

# 安全措施

  - 变更前备份：升级按配置、降级始终在执行任何语句前创建并校验备份，
    备份失败则中止迁移，数据库保持原版本。
  - 事后校验：迁移完成后核对实际版本与期望版本，不一致返回
    VERIFICATION_MISMATCH。
  - 互斥锁：迁移目录中的锁文件防止并发迁移，包括跨进程的并发。
*/
package migration
