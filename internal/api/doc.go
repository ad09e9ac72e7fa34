// Package api 暴露门户的 REST 接口：网络与预设查询、PTB 编译与模拟、
// 异步作业、账户看板、水龙头和问答，以及 /metrics 指标端点。
package api
