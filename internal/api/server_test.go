package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"OneChain-Portal/internal/auth"
	"OneChain-Portal/internal/chain"
	"OneChain-Portal/internal/chain/provider"
	"OneChain-Portal/internal/plan"
	"OneChain-Portal/internal/portal"
	"OneChain-Portal/internal/ptb"
	"OneChain-Portal/internal/storage/sqlstore"
	"OneChain-Portal/internal/task"
	"OneChain-Portal/pkg/logger"
)

const sender = "0x00000000000000000000000000000000000000000000000000000000000000a1"

type stubChain struct {
	chain.Client
}

func (stubChain) Network() chain.Network { return chain.Network{Name: "testnet"} }

func (stubChain) Balances(context.Context, string) ([]chain.Balance, error) {
	return []chain.Balance{{CoinType: chain.NativeCoinType, TotalBalance: "1000000000"}}, nil
}

func (stubChain) OwnedObjects(context.Context, string, string, int) (chain.ObjectPage, error) {
	return chain.ObjectPage{Data: []chain.ObjectResponse{}}, nil
}

func (stubChain) BatchQueryTransactions(_ context.Context, queries []chain.TransactionQuery) ([]chain.TransactionPageResult, error) {
	return make([]chain.TransactionPageResult, len(queries)), nil
}

func (stubChain) DryRun(context.Context, *ptb.Transaction) (chain.DryRunResult, error) {
	return chain.DryRunResult{Effects: chain.TransactionEffects{
		Status:  chain.ExecutionStatus{Status: "success"},
		GasUsed: &chain.GasCostSummary{ComputationCost: "1000", StorageCost: "0", StorageRebate: "0"},
	}}, nil
}

type fixture struct {
	server *httptest.Server
	jobs   *task.Service
}

func newFixture(t *testing.T, withJobs bool, extra ...Option) *fixture {
	t.Helper()
	reg, err := provider.NewRegistry(chain.DefaultNetworks(), provider.WithClient("testnet", stubChain{}))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	runs, err := sqlstore.NewMemoryRunRepository(t.TempDir())
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	svc, err := portal.New(reg, portal.WithRunRepository(runs), portal.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("portal: %v", err)
	}

	f := &fixture{}
	opts := []Option{WithLogger(logger.Discard())}
	if withJobs {
		store := task.NewMemoryStore()
		queue := task.NewMemoryQueue(16)
		f.jobs = task.NewService(store, queue, 3)
		processor := task.NewProcessor(portal.NewJobExecutor(svc), store, queue, queue,
			task.WithProcessorLogger(logger.Discard()))
		ctx, cancel := context.WithCancel(context.Background())
		go func() { _ = processor.Start(ctx) }()
		t.Cleanup(func() {
			cancel()
			_ = queue.Close()
		})
		opts = append(opts, WithJobService(f.jobs))
	}

	opts = append(opts, extra...)
	f.server = httptest.NewServer(NewServer(":0", svc, opts...).Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type apiError struct {
	Error ErrorPayload `json:"error"`
}

func TestCatalogEndpoints(t *testing.T) {
	f := newFixture(t, false)

	var health map[string]string
	if code := f.do(t, http.MethodGet, "/healthz", nil, &health); code != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", code, health)
	}

	var networks struct {
		Default  string          `json:"default"`
		Networks []chain.Network `json:"networks"`
	}
	f.do(t, http.MethodGet, "/api/v1/networks", nil, &networks)
	if networks.Default != "testnet" || len(networks.Networks) != 2 {
		t.Fatalf("unexpected networks %+v", networks)
	}

	var presets struct {
		Presets []plan.Preset `json:"presets"`
	}
	f.do(t, http.MethodGet, "/api/v1/ptb/presets", nil, &presets)
	if len(presets.Presets) != 3 || presets.Presets[0].ID != "oct-transfer" {
		t.Fatalf("unexpected presets %+v", presets)
	}

	if code := f.do(t, http.MethodPost, "/api/v1/networks", nil, nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}

func TestCompileEndpoint(t *testing.T) {
	f := newFixture(t, false)

	var res portal.CompileResult
	code := f.do(t, http.MethodPost, "/api/v1/ptb/compile", portal.PlanRequest{
		PresetID: "oct-transfer",
		Params:   plan.Params{plan.ParamRecipient: sender},
	}, &res)
	if code != http.StatusOK || len(res.Steps) != 3 || res.Transaction == nil {
		t.Fatalf("unexpected compile %d %+v", code, res)
	}

	var failure apiError
	code = f.do(t, http.MethodPost, "/api/v1/ptb/compile", portal.PlanRequest{PresetID: "oct-transfer"}, &failure)
	if code != http.StatusBadRequest || failure.Error.Code != string(plan.CodeMissingValue) {
		t.Fatalf("expected missing value, got %d %+v", code, failure)
	}
	if failure.Error.Metadata[plan.MetaStepID] != "transfer" {
		t.Fatalf("error should name the failing step: %+v", failure.Error.Metadata)
	}

	code = f.do(t, http.MethodPost, "/api/v1/ptb/compile", portal.PlanRequest{PresetID: "nope"}, &failure)
	if code != http.StatusNotFound || failure.Error.Code != string(plan.CodeUnknownPreset) {
		t.Fatalf("expected unknown preset, got %d %+v", code, failure)
	}

	resp, err := f.server.Client().Post(f.server.URL+"/api/v1/ptb/compile", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestSimulateAndRuns(t *testing.T) {
	f := newFixture(t, false)

	var res portal.SimulateResult
	code := f.do(t, http.MethodPost, "/api/v1/ptb/simulate", portal.PlanRequest{
		PresetID: "split-and-transfer",
		Params:   plan.Params{plan.ParamSender: sender},
	}, &res)
	if code != http.StatusOK || res.Status != "success" || res.GasUsed != 1000 {
		t.Fatalf("unexpected simulate %d %+v", code, res)
	}

	var runs struct {
		Runs []sqlstore.RunRecord `json:"runs"`
	}
	f.do(t, http.MethodGet, "/api/v1/ptb/runs?sender="+sender, nil, &runs)
	if len(runs.Runs) != 1 || runs.Runs[0].ID != res.RunID {
		t.Fatalf("unexpected runs %+v", runs)
	}

	var run sqlstore.RunRecord
	if code := f.do(t, http.MethodGet, "/api/v1/ptb/runs/"+res.RunID, nil, &run); code != http.StatusOK || run.Kind != sqlstore.RunSimulate {
		t.Fatalf("unexpected run %d %+v", code, run)
	}
	if code := f.do(t, http.MethodGet, "/api/v1/ptb/runs/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := f.do(t, http.MethodGet, "/api/v1/ptb/runs?limit=-1", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
}

func TestJobEndpoints(t *testing.T) {
	f := newFixture(t, true)

	var job task.Job
	code := f.do(t, http.MethodPost, "/api/v1/ptb/jobs?wait=5s", JobRequest{
		ID:   "job-1",
		Kind: task.KindSimulate,
		Request: portal.PlanRequest{
			PresetID: "split-and-transfer",
			Params:   plan.Params{plan.ParamSender: sender},
		},
	}, &job)
	if code != http.StatusOK || job.Status != task.StatusSucceeded {
		t.Fatalf("expected completed job, got %d %+v", code, job)
	}
	var result portal.SimulateResult
	if err := json.Unmarshal(job.Result, &result); err != nil || result.Status != "success" {
		t.Fatalf("unexpected job result %s", job.Result)
	}

	var detail task.Job
	if code := f.do(t, http.MethodGet, "/api/v1/ptb/jobs/job-1", nil, &detail); code != http.StatusOK || detail.ID != "job-1" {
		t.Fatalf("unexpected detail %d %+v", code, detail)
	}

	var list struct {
		Jobs  []task.Job `json:"jobs"`
		Stats task.Stats `json:"stats"`
	}
	f.do(t, http.MethodGet, "/api/v1/ptb/jobs?status=succeeded&kind=simulate", nil, &list)
	if len(list.Jobs) != 1 || list.Stats.Succeeded != 1 {
		t.Fatalf("unexpected list %+v", list)
	}

	if code := f.do(t, http.MethodGet, "/api/v1/ptb/jobs/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	var failure apiError
	code = f.do(t, http.MethodPost, "/api/v1/ptb/jobs", JobRequest{Kind: "deploy"}, &failure)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d %+v", code, failure)
	}
}

func TestJobEndpointsDisabled(t *testing.T) {
	f := newFixture(t, false)
	if code := f.do(t, http.MethodGet, "/api/v1/ptb/jobs", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestAccountEndpoints(t *testing.T) {
	f := newFixture(t, false)

	var balances struct {
		Balances []chain.Balance `json:"balances"`
	}
	if code := f.do(t, http.MethodGet, "/api/v1/accounts/0xa1/balances", nil, &balances); code != http.StatusOK || len(balances.Balances) != 1 {
		t.Fatalf("unexpected balances %d %+v", code, balances)
	}

	var dash portal.Dashboard
	if code := f.do(t, http.MethodGet, "/api/v1/accounts/0xa1/dashboard?network=testnet", nil, &dash); code != http.StatusOK {
		t.Fatalf("unexpected dashboard status %d", code)
	}
	if dash.Address != sender || len(dash.Errors) != 0 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}

	var failure apiError
	code := f.do(t, http.MethodGet, "/api/v1/accounts/zzz/balances", nil, &failure)
	if code != http.StatusBadRequest || failure.Error.Code != "INVALID_ARGUMENT" {
		t.Fatalf("expected invalid address, got %d %+v", code, failure)
	}
	code = f.do(t, http.MethodGet, "/api/v1/accounts/0xa1/objects?network=mainnet", nil, &failure)
	if code != http.StatusBadRequest || failure.Error.Code != string(chain.CodeUnknownNetwork) {
		t.Fatalf("expected unknown network, got %d %+v", code, failure)
	}
}

func TestBalanceStream(t *testing.T) {
	f := newFixture(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/v1/accounts/0xa1/balances/stream?interval=1s", nil)
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	var update portal.BalanceUpdate
	if err := json.Unmarshal([]byte(data), &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if event != "balances" || update.Address != sender || len(update.Balances) != 1 {
		t.Fatalf("unexpected update %s %+v", event, update)
	}

	bad, err := f.server.Client().Get(f.server.URL + "/api/v1/accounts/0xa1/balances/stream?interval=10ms")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for short interval, got %d", bad.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodGet, "/healthz", nil, nil)

	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "portal_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestChatWithoutResponder(t *testing.T) {
	f := newFixture(t, false)
	var failure apiError
	code := f.do(t, http.MethodPost, "/api/v1/chat", ChatRequest{Query: "hi"}, &failure)
	if code != http.StatusServiceUnavailable || failure.Error.Code != "INITIALIZATION_FAILURE" {
		t.Fatalf("expected 503, got %d %+v", code, failure)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	keys, err := auth.NewKeyStore([]auth.KeyConfig{
		{Name: "ci", Key: "ci-key", Permissions: []string{auth.PermissionRead, auth.PermissionWrite}},
	})
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	f := newFixture(t, true, WithAuth(keys))

	send := func(method, path, key string, body string) (int, apiError) {
		t.Helper()
		req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		resp, err := f.server.Client().Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		defer resp.Body.Close()
		var out apiError
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	if code, _ := send(http.MethodGet, "/healthz", "", ""); code != http.StatusOK {
		t.Fatalf("health should stay public, got %d", code)
	}
	code, body := send(http.MethodGet, "/api/v1/networks", "", "")
	if code != http.StatusUnauthorized || body.Error.Code != string(auth.CodeUnauthenticated) {
		t.Fatalf("expected 401, got %d %+v", code, body)
	}
	if code, _ := send(http.MethodGet, "/api/v1/networks", "ci-key", ""); code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", code)
	}
	code, body = send(http.MethodPost, "/api/v1/ptb/execute", "ci-key", `{"presetId":"oct-transfer"}`)
	if code != http.StatusForbidden || body.Error.Metadata["permission"] != auth.PermissionExecute {
		t.Fatalf("expected execute to be forbidden, got %d %+v", code, body)
	}
	code, body = send(http.MethodPost, "/api/v1/ptb/jobs", "ci-key", `{"kind":"execute","request":{"presetId":"oct-transfer"}}`)
	if code != http.StatusForbidden {
		t.Fatalf("expected execute job to be forbidden, got %d %+v", code, body)
	}
}
