package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"OneChain-Portal/internal/auth"
	"OneChain-Portal/internal/observability/metrics"
	"OneChain-Portal/internal/portal"
	"OneChain-Portal/internal/task"
	"OneChain-Portal/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Server 负责暴露 REST 接口。
type Server struct {
	addr              string
	portal            *portal.Service
	jobs              *task.Service
	keys              *auth.KeyStore
	logger            *slog.Logger
	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration
	maxWait           time.Duration
}

// Option 定义服务的可选配置。
type Option func(*Server)

// WithJobService 启用异步作业接口。
func WithJobService(jobs *task.Service) Option {
	return func(s *Server) {
		s.jobs = jobs
	}
}

// WithAuth 启用 API Key 认证。store 为空或没有 Key 时不做认证。
func WithAuth(store *auth.KeyStore) Option {
	return func(s *Server) {
		s.keys = store
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeouts 覆盖读取请求头与优雅退出的超时。
func WithTimeouts(readHeader, shutdown time.Duration) Option {
	return func(s *Server) {
		if readHeader > 0 {
			s.readHeaderTimeout = readHeader
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *portal.Service, opts ...Option) *Server {
	s := &Server{
		addr:              addr,
		portal:            svc,
		readHeaderTimeout: 5 * time.Second,
		shutdownTimeout:   5 * time.Second,
		maxWait:           time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", s.handleHealth)
	s.route(mux, "GET /api/v1/networks", s.handleNetworks)
	s.route(mux, "GET /api/v1/ptb/presets", s.handlePresets)
	s.route(mux, "POST /api/v1/ptb/compile", s.handleCompile)
	s.route(mux, "POST /api/v1/ptb/simulate", s.handleSimulate)
	s.route(mux, "POST /api/v1/ptb/execute", s.handleExecute)
	s.route(mux, "POST /api/v1/ptb/jobs", s.handleSubmitJob)
	s.route(mux, "GET /api/v1/ptb/jobs", s.handleListJobs)
	s.route(mux, "GET /api/v1/ptb/jobs/{id}", s.handleJobDetail)
	s.route(mux, "GET /api/v1/ptb/runs", s.handleListRuns)
	s.route(mux, "GET /api/v1/ptb/runs/{id}", s.handleRunDetail)
	s.route(mux, "POST /api/v1/faucet", s.handleFaucet)
	s.route(mux, "GET /api/v1/accounts/{address}/balances", s.handleBalances)
	s.route(mux, "GET /api/v1/accounts/{address}/balances/stream", s.handleBalanceStream)
	s.route(mux, "GET /api/v1/accounts/{address}/objects", s.handleObjects)
	s.route(mux, "GET /api/v1/accounts/{address}/transactions", s.handleTransactions)
	s.route(mux, "GET /api/v1/accounts/{address}/dashboard", s.handleDashboard)
	s.route(mux, "POST /api/v1/chat", s.handleChat)
	mux.Handle("GET /metrics", metrics.Handler())

	return auth.Middleware(s.keys, auth.MiddlewareConfig{
		Public:          []string{"/healthz", "/metrics"},
		PathPermissions: map[string][]string{"/api/v1/ptb/execute": {auth.PermissionExecute}},
		Deny:            writeError,
	})(mux)
}

// route 注册处理器，并以路由模式作为指标标签。
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, instrument(pattern, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody("UNAVAILABLE", "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush 让 SSE 在包装后仍然可以刷新。
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(start))
	})
}
