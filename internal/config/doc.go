// Package config 负责加载 portald 与 portalctl 的运行配置。配置文件支持 YAML
// 与 JSON，任意键都可以通过 PORTAL_ 前缀的环境变量覆盖，例如
// PORTAL_SERVER_ADDRESS 或 PORTAL_QUEUE_DRIVER。
package config
