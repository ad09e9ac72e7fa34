// Package cli 实现 portalctl 命令行工具：浏览预设、离线编译计划，
// 并通过门户 API 完成模拟、水龙头领取、账户查询与问答。
package cli
