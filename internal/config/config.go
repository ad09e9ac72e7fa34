package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"OneChain-Portal/internal/auth"
	"OneChain-Portal/pkg/logger"
)

// EnvPrefix 是环境变量覆盖使用的前缀。
const EnvPrefix = "PORTAL"

// Config 描述了 portald 启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   logger.Config   `mapstructure:"logging"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
}

// ServerConfig 控制 REST 服务的监听地址与超时。
type ServerConfig struct {
	Address                string `mapstructure:"address"`
	ReadHeaderTimeoutSecs  int    `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// ShutdownTimeout 返回优雅退出的等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// ReadHeaderTimeout 返回读取请求头的超时。
func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutSecs) * time.Second
}

// AuthConfig 列出允许访问 API 的 Key。KeysPath 指向的 YAML 文件与 Keys 合并，
// 两者都为空时不启用认证。
type AuthConfig struct {
	KeysPath string           `mapstructure:"keys_path"`
	Keys     []auth.KeyConfig `mapstructure:"keys"`
}

// ChainConfig 指定网络目录与链客户端参数。
type ChainConfig struct {
	NetworksPath    string `mapstructure:"networks_path"`
	DefaultNetwork  string `mapstructure:"default_network"`
	SharedCacheSize int    `mapstructure:"shared_cache_size"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// Timeout 返回单次 RPC 请求的超时。
func (c ChainConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig 描述运行记录与作业状态的存储后端。
type StorageConfig struct {
	Runs DatabaseConfig `mapstructure:"runs"`
	Jobs JobStoreConfig `mapstructure:"jobs"`
}

// DatabaseConfig 是一个 SQL 后端的连接信息。Driver 取值 memory、mysql 或 sqlite。
type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `mapstructure:"conn_max_idle_time_seconds"`
}

// ConnMaxLifetime 返回连接的最长存活时间。
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接的最长空闲时间。
func (d DatabaseConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(d.ConnMaxIdleTimeSeconds) * time.Second
}

// JobStoreConfig 在数据库配置之外附带作业的默认重试次数。
type JobStoreConfig struct {
	DatabaseConfig `mapstructure:",squash"`
	Retries        int `mapstructure:"retries"`
}

// QueueConfig 选择作业队列实现。
type QueueConfig struct {
	Driver   string         `mapstructure:"driver"`
	Workers  int            `mapstructure:"workers"`
	Size     int            `mapstructure:"size"`
	// Kinds 限定本实例消费的作业类型，为空时消费全部。
	Kinds    []string       `mapstructure:"kinds"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RedisConfig 是 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `mapstructure:"address"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	Queue            string `mapstructure:"queue"`
	BlockWaitSeconds int    `mapstructure:"block_wait_seconds"`
}

// BlockWait 返回消费端单次阻塞等待的时长。
func (r RedisConfig) BlockWait() time.Duration {
	return time.Duration(r.BlockWaitSeconds) * time.Second
}

// RabbitMQConfig 是 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL                string `mapstructure:"url"`
	Exchange           string `mapstructure:"exchange"`
	Queue              string `mapstructure:"queue"`
	DeadLetterExchange string `mapstructure:"dead_letter_exchange"`
	Prefetch           int    `mapstructure:"prefetch"`
	Durable            bool   `mapstructure:"durable"`
	AutoDelete         bool   `mapstructure:"auto_delete"`
}

// WalletConfig 指定浏览器钱包桥接服务。BridgeURL 为空时禁用执行功能。
type WalletConfig struct {
	BridgeURL        string   `mapstructure:"bridge_url"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	PreferredWallets []string `mapstructure:"preferred_wallets"`
}

// Timeout 返回等待用户签名的超时。
func (w WalletConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// LLMConfig 配置问答使用的大模型。Provider 为 none 时只使用本地知识库。
type LLMConfig struct {
	Provider       string  `mapstructure:"provider"`
	APIKey         string  `mapstructure:"api_key"`
	APIKeyEnv      string  `mapstructure:"api_key_env"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	Organization   string  `mapstructure:"organization"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
}

// Timeout 返回单次推理的超时。
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用 api_key，其次读取 api_key_env 指向的环境变量。
func (l LLMConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(l.APIKey); key != "" {
		return key
	}
	if l.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(l.APIKeyEnv))
	}
	return ""
}

// KnowledgeConfig 指定知识库 JSON 文件，为空时使用内置知识库。
type KnowledgeConfig struct {
	Path string `mapstructure:"path"`
}

// PortalConfig 是门户服务本身的参数。
type PortalConfig struct {
	WatchIntervalSeconds int    `mapstructure:"watch_interval_seconds"`
	ObjectLimit          int    `mapstructure:"object_limit"`
	DefaultGasBudget     uint64 `mapstructure:"default_gas_budget"`
	GasPrice             uint64 `mapstructure:"gas_price"`
}

// WatchInterval 返回余额轮询间隔。
func (p PortalConfig) WatchInterval() time.Duration {
	return time.Duration(p.WatchIntervalSeconds) * time.Second
}

// AlertingConfig 描述作业失败告警的投递目标。
type AlertingConfig struct {
	MinimumSeverity string          `mapstructure:"minimum_severity"`
	Webhooks        []WebhookConfig `mapstructure:"webhooks"`
}

// WebhookConfig 是一个告警 webhook。Kind 取值 webhook、dingtalk 或 slack。
type WebhookConfig struct {
	Kind string `mapstructure:"kind"`
	URL  string `mapstructure:"url"`
}

// MetricsConfig 控制独立的指标端口。Address 为空时只在 API 上暴露 /metrics。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

var (
	queueDrivers   = []string{"memory", "redis", "rabbitmq"}
	storageDrivers = []string{"memory", "mysql", "sqlite"}
	llmProviders   = []string{"none", "openai", "langchain"}
	jobKinds       = []string{"simulate", "execute"}
)

// Load 解析指定路径的配置文件并叠加环境变量。path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 为每个键注册默认值，这样 AutomaticEnv 才能在 Unmarshal 时生效。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.shutdown_timeout_seconds", 10)

	v.SetDefault("auth.keys_path", "")

	v.SetDefault("chain.networks_path", "")
	v.SetDefault("chain.default_network", "")
	v.SetDefault("chain.shared_cache_size", 1024)
	v.SetDefault("chain.timeout_seconds", 30)

	for _, prefix := range []string{"storage.runs", "storage.jobs"} {
		v.SetDefault(prefix+".driver", "memory")
		v.SetDefault(prefix+".dsn", "")
		v.SetDefault(prefix+".max_open_conns", 10)
		v.SetDefault(prefix+".max_idle_conns", 5)
		v.SetDefault(prefix+".conn_max_lifetime_seconds", 300)
		v.SetDefault(prefix+".conn_max_idle_time_seconds", 60)
	}
	v.SetDefault("storage.jobs.retries", 3)

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.size", 1024)
	v.SetDefault("queue.redis.address", "")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.queue", "")
	v.SetDefault("queue.redis.block_wait_seconds", 5)
	v.SetDefault("queue.rabbitmq.url", "")
	v.SetDefault("queue.rabbitmq.queue", "")
	v.SetDefault("queue.rabbitmq.exchange", "")
	v.SetDefault("queue.rabbitmq.dead_letter_exchange", "")
	v.SetDefault("queue.rabbitmq.prefetch", 8)
	v.SetDefault("queue.rabbitmq.durable", true)
	v.SetDefault("queue.rabbitmq.auto_delete", false)

	v.SetDefault("wallet.bridge_url", "")
	v.SetDefault("wallet.timeout_seconds", 120)

	v.SetDefault("llm.provider", "none")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.organization", "")
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1000)

	v.SetDefault("knowledge.path", "")

	v.SetDefault("portal.watch_interval_seconds", 30)
	v.SetDefault("portal.object_limit", 50)
	v.SetDefault("portal.default_gas_budget", 10_000_000)
	v.SetDefault("portal.gas_price", 0)

	v.SetDefault("alerting.minimum_severity", "warning")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.audit.enabled", false)
	v.SetDefault("logging.audit.path", "")

	v.SetDefault("runtime.data_dir", "data")
}

// applyDefaults 修正用户填写的越界值，并把相对路径解析到配置文件所在目录。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Server.ReadHeaderTimeoutSecs <= 0 {
		c.Server.ReadHeaderTimeoutSecs = 5
	}
	if c.Storage.Jobs.Retries <= 0 {
		c.Storage.Jobs.Retries = 3
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 1
	}
	if c.Portal.WatchIntervalSeconds <= 0 {
		c.Portal.WatchIntervalSeconds = 30
	}

	c.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Queue.Driver))
	for i, kind := range c.Queue.Kinds {
		c.Queue.Kinds[i] = strings.ToLower(strings.TrimSpace(kind))
	}
	c.Storage.Runs.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Runs.Driver))
	c.Storage.Jobs.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Jobs.Driver))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	}
	c.Chain.NetworksPath = resolvePath(baseDir, c.Chain.NetworksPath)
	c.Knowledge.Path = resolvePath(baseDir, c.Knowledge.Path)
	c.Auth.KeysPath = resolvePath(baseDir, c.Auth.KeysPath)
	if c.Storage.Runs.Driver == "sqlite" && c.Storage.Runs.DSN == "" {
		c.Storage.Runs.DSN = filepath.Join(c.Runtime.DataDir, "portal.db")
	}
	if c.Storage.Jobs.Driver == "sqlite" && c.Storage.Jobs.DSN == "" {
		c.Storage.Jobs.DSN = filepath.Join(c.Runtime.DataDir, "portal.db")
	}
}

// Validate 检查驱动与 provider 名称，以及所选驱动必需的字段。
func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.Queue.Driver, queueDrivers) {
		errs = append(errs, fmt.Errorf("未知的队列驱动: %s", c.Queue.Driver))
	}
	if !oneOf(c.Storage.Runs.Driver, storageDrivers) {
		errs = append(errs, fmt.Errorf("未知的运行记录存储驱动: %s", c.Storage.Runs.Driver))
	}
	if !oneOf(c.Storage.Jobs.Driver, storageDrivers) {
		errs = append(errs, fmt.Errorf("未知的作业存储驱动: %s", c.Storage.Jobs.Driver))
	}
	if !oneOf(c.LLM.Provider, llmProviders) {
		errs = append(errs, fmt.Errorf("未知的大模型 provider: %s", c.LLM.Provider))
	}
	if c.Queue.Driver == "redis" && c.Queue.Redis.Address == "" {
		errs = append(errs, errors.New("redis 队列需要配置 queue.redis.address"))
	}
	if c.Queue.Driver == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("rabbitmq 队列需要配置 queue.rabbitmq.url"))
	}
	for i, kind := range c.Queue.Kinds {
		if !oneOf(kind, jobKinds) {
			errs = append(errs, fmt.Errorf("queue.kinds[%d] 必须是 simulate 或 execute: %s", i, kind))
		}
	}
	if c.Storage.Runs.Driver == "mysql" && c.Storage.Runs.DSN == "" {
		errs = append(errs, errors.New("mysql 运行记录存储需要配置 storage.runs.dsn"))
	}
	if c.Storage.Jobs.Driver == "mysql" && c.Storage.Jobs.DSN == "" {
		errs = append(errs, errors.New("mysql 作业存储需要配置 storage.jobs.dsn"))
	}
	for i, hook := range c.Alerting.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			errs = append(errs, fmt.Errorf("alerting.webhooks[%d] 缺少 url", i))
		}
	}
	return errors.Join(errs...)
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
