// Package portal provides a small Go client for the OneChain developer
// portal HTTP API.
package portal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used when no HTTP client is supplied.
const DefaultHTTPTimeout = 30 * time.Second

// Client wraps HTTP access to the portal API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient constructs a new API client. baseURL should point to the server
// root (e.g. http://localhost:8080). It panics on a malformed URL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		panic(fmt.Sprintf("invalid base URL %q", baseURL))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// APIError represents a structured error returned by the API.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Result carries the partial result the server returned with the error,
	// for example a failed execution with its digest.
	Result json.RawMessage `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil, nil)
}

// Networks returns the configured networks and the default network name.
func (c *Client) Networks(ctx context.Context) ([]Network, string, error) {
	var out struct {
		Default  string    `json:"default"`
		Networks []Network `json:"networks"`
	}
	if err := c.get(ctx, "/api/v1/networks", nil, &out); err != nil {
		return nil, "", err
	}
	return out.Networks, out.Default, nil
}

// Presets lists the built-in plan templates.
func (c *Client) Presets(ctx context.Context) ([]Preset, error) {
	var out struct {
		Presets []Preset `json:"presets"`
	}
	if err := c.get(ctx, "/api/v1/ptb/presets", nil, &out); err != nil {
		return nil, err
	}
	return out.Presets, nil
}

// Compile turns a plan into a transaction without touching the chain.
func (c *Client) Compile(ctx context.Context, req PlanRequest) (*CompileResult, error) {
	var out CompileResult
	if err := c.post(ctx, "/api/v1/ptb/compile", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Simulate compiles the plan and dry-runs it on the selected network.
func (c *Client) Simulate(ctx context.Context, req PlanRequest) (*SimulateResult, error) {
	var out SimulateResult
	if err := c.post(ctx, "/api/v1/ptb/simulate", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute compiles the plan and executes it through the connected wallet.
func (c *Client) Execute(ctx context.Context, req PlanRequest) (*ExecuteResult, error) {
	var out ExecuteResult
	if err := c.post(ctx, "/api/v1/ptb/execute", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitJob queues an asynchronous simulation or execution. A positive wait
// asks the server to hold the response until the job finishes or the wait
// elapses.
func (c *Client) SubmitJob(ctx context.Context, sub JobSubmission, wait time.Duration) (*Job, error) {
	query := url.Values{}
	if wait > 0 {
		query.Set("wait", wait.String())
	}
	var job Job
	if err := c.post(ctx, "/api/v1/ptb/jobs", query, sub, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("job id is required")
	}
	var job Job
	if err := c.get(ctx, "/api/v1/ptb/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs matching filter together with aggregate counts.
func (c *Client) ListJobs(ctx context.Context, filter JobFilter) ([]Job, JobStats, error) {
	query := url.Values{}
	if len(filter.Statuses) > 0 {
		query.Set("status", strings.Join(filter.Statuses, ","))
	}
	if len(filter.Kinds) > 0 {
		query.Set("kind", strings.Join(filter.Kinds, ","))
	}
	if filter.Network != "" {
		query.Set("network", filter.Network)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}
	var out struct {
		Jobs  []Job    `json:"jobs"`
		Stats JobStats `json:"stats"`
	}
	if err := c.get(ctx, "/api/v1/ptb/jobs", query, &out); err != nil {
		return nil, JobStats{}, err
	}
	return out.Jobs, out.Stats, nil
}

// Runs lists recorded simulations and executions, newest first.
func (c *Client) Runs(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := url.Values{}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Sender != "" {
		query.Set("sender", filter.Sender)
	}
	if filter.Kind != "" {
		query.Set("kind", filter.Kind)
	}
	var out struct {
		Runs []RunRecord `json:"runs"`
	}
	if err := c.get(ctx, "/api/v1/ptb/runs", query, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Faucet requests test tokens for recipient on network.
func (c *Client) Faucet(ctx context.Context, network, recipient string) (*FaucetResult, error) {
	body := map[string]string{"network": network, "recipient": recipient}
	var out FaucetResult
	if err := c.post(ctx, "/api/v1/faucet", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balances returns all coin balances of address.
func (c *Client) Balances(ctx context.Context, network, address string) ([]Balance, error) {
	var out struct {
		Balances []Balance `json:"balances"`
	}
	if err := c.get(ctx, accountPath(address, "balances"), networkQuery(network), &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

// Objects returns one page of objects owned by address.
func (c *Client) Objects(ctx context.Context, network, address, cursor string, limit int) (*ObjectPage, error) {
	query := networkQuery(network)
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out ObjectPage
	if err := c.get(ctx, accountPath(address, "objects"), query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transactions returns the merged transaction history of address.
func (c *Client) Transactions(ctx context.Context, network, address string) (*HistoryPage, error) {
	var out HistoryPage
	if err := c.get(ctx, accountPath(address, "transactions"), networkQuery(network), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Dashboard loads balances, objects and history in one call.
func (c *Client) Dashboard(ctx context.Context, network, address string) (*Dashboard, error) {
	var out Dashboard
	if err := c.get(ctx, accountPath(address, "dashboard"), networkQuery(network), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat asks the developer assistant a question.
func (c *Client) Chat(ctx context.Context, query string) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.post(ctx, "/api/v1/chat", nil, map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchBalances subscribes to balance changes of address. The returned
// channel is closed when ctx is cancelled or the stream ends. A zero
// interval uses the server default.
func (c *Client) WatchBalances(ctx context.Context, network, address string, interval time.Duration) (<-chan BalanceUpdate, error) {
	query := networkQuery(network)
	if interval > 0 {
		query.Set("interval", interval.String())
	}
	req, err := c.newRequest(ctx, http.MethodGet, accountPath(address, "balances/stream"), query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive the client's request timeout.
	streaming := *c.httpClient
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	out := make(chan BalanceUpdate)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

func readEvents(ctx context.Context, body io.Reader, out chan<- BalanceUpdate) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if data == "" {
				continue
			}
			update, ok := parseEvent(event, data)
			event, data = "", ""
			if !ok {
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}
}

func parseEvent(event, data string) (BalanceUpdate, bool) {
	if event == "error" {
		apiErr := &APIError{}
		if err := json.Unmarshal([]byte(data), apiErr); err != nil {
			return BalanceUpdate{}, false
		}
		return BalanceUpdate{Err: apiErr, At: time.Now()}, true
	}
	var update BalanceUpdate
	if err := json.Unmarshal([]byte(data), &update); err != nil {
		return BalanceUpdate{}, false
	}
	return update, true
}

func accountPath(address, suffix string) string {
	return "/api/v1/accounts/" + url.PathEscape(address) + "/" + suffix
}

func networkQuery(network string) url.Values {
	query := url.Values{}
	if network != "" {
		query.Set("network", network)
	}
	return query
}

func (c *Client) post(ctx context.Context, path string, query url.Values, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, query, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	rel := &url.URL{Path: path}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)

	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope struct {
		Error  *APIError       `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == nil {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	envelope.Error.StatusCode = resp.StatusCode
	envelope.Error.Result = envelope.Result
	return envelope.Error
}
