package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, "memory", cfg.Storage.Runs.Driver)
	assert.Equal(t, 3, cfg.Storage.Jobs.Retries)
	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.Equal(t, 30, cfg.Portal.WatchIntervalSeconds)
	assert.Equal(t, 50, cfg.Portal.ObjectLimit)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, filepath.Join(".", "data"), cfg.Runtime.DataDir)
}

func TestLoadYAMLResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, "portal.yaml", `
server:
  address: ":9090"
chain:
  networks_path: networks.yaml
storage:
  runs:
    driver: sqlite
  jobs:
    driver: mysql
    dsn: "user:pass@tcp(localhost:3306)/portal"
    retries: 5
queue:
  driver: redis
  workers: 8
  redis:
    address: "localhost:6379"
alerting:
  webhooks:
    - kind: slack
      url: https://hooks.example/slack
runtime:
  data_dir: state
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "networks.yaml"), cfg.Chain.NetworksPath)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Runtime.DataDir)
	assert.Equal(t, filepath.Join(dir, "state", "portal.db"), cfg.Storage.Runs.DSN)
	assert.Equal(t, "mysql", cfg.Storage.Jobs.Driver)
	assert.Equal(t, 5, cfg.Storage.Jobs.Retries)
	assert.Equal(t, 10, cfg.Storage.Jobs.MaxOpenConns)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, "localhost:6379", cfg.Queue.Redis.Address)
	require.Len(t, cfg.Alerting.Webhooks, 1)
	assert.Equal(t, "slack", cfg.Alerting.Webhooks[0].Kind)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "portal.json", `{"llm":{"provider":"OpenAI","model":"gpt-4o-mini"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PORTAL_SERVER_ADDRESS", ":7070")
	t.Setenv("PORTAL_QUEUE_WORKERS", "12")
	t.Setenv("PORTAL_WALLET_BRIDGE_URL", "http://127.0.0.1:5175")

	path := writeConfig(t, "portal.yaml", "server:\n  address: \":9090\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 12, cfg.Queue.Workers)
	assert.Equal(t, "http://127.0.0.1:5175", cfg.Wallet.BridgeURL)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "queue driver", content: "queue:\n  driver: kafka\n", want: "未知的队列驱动"},
		{name: "redis address", content: "queue:\n  driver: redis\n", want: "queue.redis.address"},
		{name: "mysql dsn", content: "storage:\n  runs:\n    driver: mysql\n", want: "storage.runs.dsn"},
		{name: "llm provider", content: "llm:\n  provider: claude\n", want: "未知的大模型 provider"},
		{name: "webhook url", content: "alerting:\n  webhooks:\n    - kind: slack\n", want: "alerting.webhooks[0]"},
		{name: "queue kinds", content: "queue:\n  kinds: [simulate, deploy]\n", want: "queue.kinds[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "portal.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "读取配置文件失败")
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("PORTAL_TEST_KEY", " secret ")
	assert.Equal(t, "inline", LLMConfig{APIKey: "inline", APIKeyEnv: "PORTAL_TEST_KEY"}.ResolveAPIKey())
	assert.Equal(t, "secret", LLMConfig{APIKeyEnv: "PORTAL_TEST_KEY"}.ResolveAPIKey())
	assert.Empty(t, LLMConfig{}.ResolveAPIKey())
}
