package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"OneChain-Portal/pkg/logger"
)

// DefaultPermissions 按 HTTP 方法给出所需权限。
var DefaultPermissions = map[string][]string{
	http.MethodGet:  {PermissionRead},
	http.MethodPost: {PermissionWrite},
}

// MiddlewareConfig 配置认证中间件。
type MiddlewareConfig struct {
	// RequiredPermissions 以 HTTP 方法为键，"*" 为兜底。
	RequiredPermissions map[string][]string
	// PathPermissions 为特定路径追加权限，例如执行接口需要 portal:execute。
	PathPermissions map[string][]string
	// Public 列出无需认证的路径。
	Public []string
	// Deny 输出认证失败的响应，为空时使用 http.Error。
	Deny func(w http.ResponseWriter, err error)
}

// Middleware 返回执行认证、授权与审计的 HTTP 中间件。store 为空或没有任何 Key
// 时直接放行。
func Middleware(store *KeyStore, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.RequiredPermissions == nil {
		cfg.RequiredPermissions = DefaultPermissions
	}
	public := make(map[string]struct{}, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = struct{}{}
	}
	deny := cfg.Deny
	if deny == nil {
		deny = func(w http.ResponseWriter, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}
	audit := logger.Audit()

	return func(next http.Handler) http.Handler {
		if store.Len() == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := store.Lookup(extractKey(r))
			if err != nil {
				audit.Warn("access_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.String("error", err.Error()))
				deny(w, err)
				return
			}

			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			perms = append(append([]string(nil), perms...), cfg.PathPermissions[r.URL.Path]...)
			if err := subject.Authorize(perms...); err != nil {
				audit.Warn("permission_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.String("key", subject.Name),
					slog.String("error", err.Error()))
				deny(w, err)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			audit.Info("api_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("key", subject.Name))
		})
	}
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush 透传给底层连接，余额推送依赖它。
func (w *auditWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
