package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

// Registry 是门户进程使用的指标注册表。
var Registry = prometheus.NewRegistry()

// Metrics used by the portal daemon.
var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed by the portal API.",
		},
		[]string{"handler", "method", "code"},
	)
	httpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		},
		[]string{"handler", "method"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"handler", "method"},
	)
	compiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ptb_compilations_total",
			Help:      "Number of step plans compiled, by result.",
		},
		[]string{"result"},
	)
	compiledSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ptb_plan_steps",
			Help:      "Number of steps per compiled plan.",
			Buckets:   prometheus.LinearBuckets(1, 2, 8),
		},
	)
	jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Number of simulate/execute jobs reaching a state.",
		},
		[]string{"kind", "status"},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_rpc_calls_total",
			Help:      "Number of chain JSON-RPC calls, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	faucetRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faucet_requests_total",
			Help:      "Number of faucet requests, by network and outcome.",
		},
		[]string{"network", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpErrors,
		httpDuration,
		compiles,
		compiledSteps,
		jobs,
		rpcCalls,
		faucetRequests,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveCompile records one compilation of a plan with steps steps.
func ObserveCompile(steps int, err error) {
	compiles.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		compiledSteps.Observe(float64(steps))
	}
}

// ObserveJob records a job reaching status.
func ObserveJob(kind, status string) {
	jobs.WithLabelValues(kind, status).Inc()
}

// ObserveRPC records a chain RPC call.
func ObserveRPC(method string, err error) {
	rpcCalls.WithLabelValues(method, outcome(err)).Inc()
}

// ObserveFaucet records a faucet request.
func ObserveFaucet(network string, err error) {
	faucetRequests.WithLabelValues(network, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
