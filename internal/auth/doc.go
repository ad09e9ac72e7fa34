// Package auth 为门户 API 提供基于 API Key 的访问控制。
//
// 未配置任何 Key 时认证关闭，所有请求直接放行，适合本地开发。配置后每个请求
// 需要携带 Authorization: Bearer <key> 或 X-API-Key 头，并按 HTTP 方法检查权限。
package auth
