// Package ptb 在内存中构建可编程交易块（Programmable Transaction Block）。
//
// Transaction 只负责累积输入与命令并做本地校验：参数引用是否越界、地址与
// 类型参数是否合法。它有两种输出形式：MarshalJSON 生成钱包桥接服务使用的
// 交易文档，Build 在补齐 gas 与对象版本后生成可签名的 BCS 字节。
package ptb
