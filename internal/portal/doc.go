// Package portal 组合计划编译器、链客户端、钱包、水龙头与问答，
// 提供开发者门户的业务操作：编译、模拟、执行、仪表盘与余额轮询。
package portal
