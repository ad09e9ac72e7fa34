// Package knowledge 提供 OneChain 开发者问答使用的本地知识库。
// 知识库在启动时加载一次，之后作为不可变值传递给问答模块。
package knowledge
