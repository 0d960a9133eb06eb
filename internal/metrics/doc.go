// Package metrics 提供基于 Prometheus 的数据层指标采集。
//
// Collector 以命名空间隔离注册以下指标族:
//
//   - 数据库: 连接建立计数、池占用 Gauge（open/in_use/idle）、
//     语句计数与耗时直方图、慢查询与错误计数。
//   - 缓存: 按层（remote/local）区分的命中与未命中计数，
//     以及远程层故障后本地兜底次数。
//   - 迁移: 按方向与结果区分的迁移操作计数。
//
// HealthMonitor 与 CacheManager 持有可选的 Collector 引用;
// 为 nil 时所有记录调用都被跳过。
package metrics
