// Package plan 定义 PTB 计划（有序步骤）并把它编译为 ptb.Transaction。
//
// 编译是纯内存的单次遍历：不访问网络，不重排步骤。每次编译拥有独立的变量表，
// 步骤失败时返回带有步骤 ID、序号与标签元数据的错误。
package plan
