package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"OneChain-Portal/internal/api"
	"OneChain-Portal/internal/auth"
	"OneChain-Portal/internal/chain"
	"OneChain-Portal/internal/chain/provider"
	"OneChain-Portal/internal/chat"
	"OneChain-Portal/internal/config"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/faucet"
	"OneChain-Portal/internal/knowledge"
	"OneChain-Portal/internal/llm"
	"OneChain-Portal/internal/llm/langchain"
	"OneChain-Portal/internal/llm/openai"
	"OneChain-Portal/internal/observability/alerting"
	"OneChain-Portal/internal/observability/metrics"
	"OneChain-Portal/internal/plan"
	"OneChain-Portal/internal/portal"
	"OneChain-Portal/internal/storage/sqlstore"
	"OneChain-Portal/internal/task"
	"OneChain-Portal/internal/wallet"
	"OneChain-Portal/pkg/logger"
)

// main 是门户守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("portald 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PORTAL_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "portal.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	appLog := logger.Named("portald")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	networks, err := chain.LoadNetworks(cfg.Chain.NetworksPath)
	if err != nil {
		return err
	}
	if cfg.Chain.DefaultNetwork != "" {
		networks.Default = cfg.Chain.DefaultNetwork
	}
	registry, err := provider.NewRegistry(networks,
		provider.WithHTTPClient(&http.Client{Timeout: cfg.Chain.Timeout()}),
		provider.WithSharedCacheSize(cfg.Chain.SharedCacheSize),
	)
	if err != nil {
		return err
	}
	defer registry.Close()

	dbs := newDatabasePool()
	defer dbs.Close()

	runRepo, err := openRunRepository(ctx, cfg, dbs)
	if err != nil {
		return err
	}
	defer runRepo.Close()

	jobStore, err := openJobStore(ctx, cfg, dbs)
	if err != nil {
		return err
	}

	queue, err := openQueue(ctx, cfg)
	if err != nil {
		_ = jobStore.Close()
		return err
	}
	// 作业服务关闭时一并释放存储与队列。
	jobService := task.NewService(jobStore, queue, cfg.Storage.Jobs.Retries)
	defer func() {
		if err := jobService.Close(); err != nil {
			appLog.Warn("关闭作业服务失败", slog.Any("error", err))
		}
	}()

	responder, err := createResponder(cfg)
	if err != nil {
		return err
	}

	opts := []portal.Option{
		portal.WithCompiler(plan.NewCompiler(
			plan.WithLogger(logger.Named("plan")),
			plan.WithDefaultGasBudget(cfg.Portal.DefaultGasBudget),
			plan.WithGasPrice(cfg.Portal.GasPrice),
		)),
		portal.WithRunRepository(runRepo),
		portal.WithFaucet(faucet.NewClient()),
		portal.WithResponder(responder),
		portal.WithWatchInterval(cfg.Portal.WatchInterval()),
		portal.WithObjectLimit(cfg.Portal.ObjectLimit),
	}
	if cfg.Wallet.BridgeURL != "" {
		bridge, err := wallet.NewHTTPBridge(cfg.Wallet.BridgeURL, &http.Client{Timeout: cfg.Wallet.Timeout()})
		if err != nil {
			return err
		}
		opts = append(opts, portal.WithWallet(wallet.NewConnector(bridge,
			wallet.WithPreferredWallets(cfg.Wallet.PreferredWallets...),
		)))
	} else {
		appLog.Info("未配置钱包桥接服务，执行功能不可用")
	}

	svc, err := portal.New(registry, opts...)
	if err != nil {
		return err
	}

	dispatcher, err := createDispatcher(cfg)
	if err != nil {
		return err
	}

	processor := task.NewProcessor(portal.NewJobExecutor(svc), jobStore, queue, queue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithAlertDispatcher(dispatcher),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("作业处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	keys, err := loadKeyStore(cfg)
	if err != nil {
		return err
	}
	if keys.Len() == 0 {
		appLog.Warn("未配置 API Key，接口不做认证")
	}

	server := api.NewServer(cfg.Server.Address, svc,
		api.WithJobService(jobService),
		api.WithAuth(keys),
		api.WithLogger(logger.Named("api")),
		api.WithTimeouts(cfg.Server.ReadHeaderTimeout(), cfg.Server.ShutdownTimeout()),
	)
	appLog.Info("门户服务启动",
		slog.String("address", cfg.Server.Address),
		slog.String("default_network", registry.DefaultNetwork()),
		slog.String("queue", cfg.Queue.Driver))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// databasePool 让驱动和 DSN 相同的运行记录库与作业库共用一个连接池。
type databasePool struct {
	open map[string]*sqlstore.DB
}

func newDatabasePool() *databasePool {
	return &databasePool{open: make(map[string]*sqlstore.DB)}
}

func (p *databasePool) Get(ctx context.Context, db config.DatabaseConfig) (*sqlstore.DB, error) {
	key := db.Driver + "|" + db.DSN
	if conn, ok := p.open[key]; ok {
		return conn, nil
	}
	conn, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          db.Driver,
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime(),
		ConnMaxIdleTime: db.ConnMaxIdleTime(),
	})
	if err != nil {
		return nil, err
	}
	p.open[key] = conn
	return conn, nil
}

func (p *databasePool) Close() {
	for key, conn := range p.open {
		_ = conn.Close()
		delete(p.open, key)
	}
}

func openRunRepository(ctx context.Context, cfg *config.Config, dbs *databasePool) (sqlstore.RunRepository, error) {
	switch cfg.Storage.Runs.Driver {
	case "", "memory":
		return sqlstore.NewMemoryRunRepository(cfg.Runtime.DataDir)
	case "mysql", "sqlite":
		db, err := dbs.Get(ctx, cfg.Storage.Runs)
		if err != nil {
			return nil, err
		}
		return sqlstore.NewSQLRunRepository(db), nil
	default:
		return nil, fmt.Errorf("未知的运行记录存储驱动: %s", cfg.Storage.Runs.Driver)
	}
}

func openJobStore(ctx context.Context, cfg *config.Config, dbs *databasePool) (task.Store, error) {
	switch cfg.Storage.Jobs.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql", "sqlite":
		db, err := dbs.Get(ctx, cfg.Storage.Jobs.DatabaseConfig)
		if err != nil {
			return nil, err
		}
		return task.NewSQLStore(db), nil
	default:
		return nil, fmt.Errorf("未知的作业存储驱动: %s", cfg.Storage.Jobs.Driver)
	}
}

func openQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Queue.Size), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: cfg.Queue.Redis.BlockWait(),
			Kinds:     jobKinds(cfg.Queue.Kinds),
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:                cfg.Queue.RabbitMQ.URL,
			Exchange:           cfg.Queue.RabbitMQ.Exchange,
			Queue:              cfg.Queue.RabbitMQ.Queue,
			DeadLetterExchange: cfg.Queue.RabbitMQ.DeadLetterExchange,
			Kinds:              jobKinds(cfg.Queue.Kinds),
			Prefetch:           cfg.Queue.RabbitMQ.Prefetch,
			Durable:            cfg.Queue.RabbitMQ.Durable,
			AutoDelete:         cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func jobKinds(names []string) []task.Kind {
	kinds := make([]task.Kind, 0, len(names))
	for _, name := range names {
		kinds = append(kinds, task.Kind(name))
	}
	return kinds
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		apiKey := cfg.LLM.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:       apiKey,
			BaseURL:      cfg.LLM.BaseURL,
			Model:        cfg.LLM.Model,
			Organization: cfg.LLM.Organization,
			Timeout:      cfg.LLM.Timeout(),
		})
	case "langchain":
		return langchain.NewClient(langchain.Config{
			APIKey:  cfg.LLM.ResolveAPIKey(),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createResponder(cfg *config.Config) (*chat.Responder, error) {
	var (
		base *knowledge.Base
		err  error
	)
	if cfg.Knowledge.Path != "" {
		base, err = knowledge.Load(cfg.Knowledge.Path)
	} else {
		base, err = knowledge.Default()
	}
	if err != nil {
		return nil, err
	}

	opts := []chat.Option{
		chat.WithSampling(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		chat.WithNetwork(cfg.Chain.DefaultNetwork),
		chat.WithLogger(logger.Named("chat")),
	}
	model, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	if model != nil {
		opts = append(opts, chat.WithModel(model))
	}
	return chat.NewResponder(base, opts...)
}

func createDispatcher(cfg *config.Config) (alerting.Dispatcher, error) {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Audit()}}
	for _, hook := range cfg.Alerting.Webhooks {
		n, err := alerting.NewWebhookNotifier(alerting.Channel(hook.Kind), hook.URL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	var opts []alerting.FanoutOption
	if cfg.Alerting.MinimumSeverity != "" {
		opts = append(opts, alerting.WithMinimumSeverity(xerrors.Severity(cfg.Alerting.MinimumSeverity)))
	}
	return alerting.NewFanout(notifiers, opts...), nil
}

func loadKeyStore(cfg *config.Config) (*auth.KeyStore, error) {
	keys := append([]auth.KeyConfig(nil), cfg.Auth.Keys...)
	if cfg.Auth.KeysPath != "" {
		fromFile, err := auth.LoadKeys(cfg.Auth.KeysPath)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fromFile...)
	}
	return auth.NewKeyStore(keys)
}
