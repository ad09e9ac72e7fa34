// Package sqlstore 负责门户的持久化：运行记录仓库与数据库连接、迁移。
// 支持 MySQL 与内嵌 SQLite 两种方言，也提供基于 JSON 日志文件的轻量实现。
package sqlstore
