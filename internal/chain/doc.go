// Package chain 描述门户如何与 OneChain 网络交互：网络目录、由具体 RPC 客户端
// 实现的 Client 抽象、节点返回的 JSON 结构，以及仪表盘使用的多过滤交易历史。
package chain
