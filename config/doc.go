// Package config 提供 CoreData 的集中式配置管理。
// 支持 YAML 文件与环境变量两种来源，环境变量以 COREDATA_ 为前缀，
// 优先级为 默认值 → YAML → 环境变量。配置在 Load 之后不可变，
// 由各组件以值拷贝方式读取。
package config
