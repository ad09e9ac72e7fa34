package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recipient = "0x00000000000000000000000000000000000000000000000000000000000000b2"

func newTestApp() (*App, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &App{
		Out:    out,
		Err:    errOut,
		Styles: PlainStyles(),
		Now:    func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	}, out, errOut
}

func TestPresetsJSON(t *testing.T) {
	app, out, _ := newTestApp()
	code := Execute(context.Background(), app, []string{"presets", "--json"})
	require.Equal(t, 0, code)

	var presets []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &presets))
	ids := make([]string, 0, len(presets))
	for _, p := range presets {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, "oct-transfer")
}

func TestCompileOffline(t *testing.T) {
	app, out, _ := newTestApp()
	code := Execute(context.Background(), app, []string{
		"compile", "--offline", "--preset", "oct-transfer",
		"--param", "recipient=" + recipient, "--param", "amount=1000",
	})
	require.Equal(t, 0, code)

	var res map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Contains(t, res, "transaction")
}

func TestCompileOfflineReportsFailedStep(t *testing.T) {
	app, _, errOut := newTestApp()
	code := Execute(context.Background(), app, []string{"compile", "--offline", "--preset", "oct-transfer"})
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "transfer")
}

func TestPlanFlagsValidation(t *testing.T) {
	app, _, errOut := newTestApp()
	assert.Equal(t, 1, Execute(context.Background(), app, []string{"simulate"}))
	assert.Contains(t, errOut.String(), "--preset")

	errOut.Reset()
	assert.Equal(t, 1, Execute(context.Background(), app, []string{"compile", "--offline", "--preset", "oct-transfer", "--param", "broken"}))
	assert.Contains(t, errOut.String(), "key=value")
}

func TestSimulateFailureExitCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ptb/simulate", r.URL.Path)
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "localnet", req["network"])
		_, _ = w.Write([]byte(`{"runId":"r1","network":"localnet","status":"failure","error":"InsufficientGas","gasUsed":1000}`))
	}))
	defer srv.Close()

	app, out, _ := newTestApp()
	app.HTTPClient = srv.Client()
	code := Execute(context.Background(), app, []string{
		"simulate", "--server", srv.URL, "--network", "localnet", "--preset", "oct-transfer",
	})
	assert.Equal(t, 2, code)
	assert.Contains(t, out.String(), "InsufficientGas")
}

func TestBalancesAndAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/accounts/" + recipient + "/balances":
			_, _ = w.Write([]byte(`{"balances":[{"coinType":"0x2::oct::OCT","coinObjectCount":2,"totalBalance":"1500000000"}]}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"INVALID_ARGUMENT","message":"地址非法"}}`))
		}
	}))
	defer srv.Close()

	app, out, errOut := newTestApp()
	app.HTTPClient = srv.Client()
	require.Equal(t, 0, Execute(context.Background(), app, []string{"balances", recipient, "--server", srv.URL}))
	assert.Contains(t, out.String(), "OCT")
	assert.Contains(t, out.String(), "1.500000")

	assert.Equal(t, 1, Execute(context.Background(), app, []string{"balances", "nope", "--server", srv.URL}))
	assert.Contains(t, errOut.String(), "INVALID_ARGUMENT")
}

func TestServerFromEnvironment(t *testing.T) {
	t.Setenv("PORTALCTL_SERVER", "http://portal.internal:9000")
	app, _, _ := newTestApp()
	root := NewRootCommand(app)
	require.NoError(t, root.ParseFlags(nil))
	assert.Equal(t, "http://portal.internal:9000", app.server())
}

func TestChatOfflineAnswersFromKnowledge(t *testing.T) {
	app, out, _ := newTestApp()
	code := Execute(context.Background(), app, []string{"chat", "--offline", "--json", "how", "do", "I", "connect", "a", "wallet?"})
	require.Equal(t, 0, code)

	var resp struct {
		Source string `json:"source"`
		Topic  string `json:"topic"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "knowledge", resp.Source)
	assert.Equal(t, "wallet", resp.Topic)
}

func TestChatPrintsFallbackWhenPortalUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	app, out, errOut := newTestApp()
	code := Execute(context.Background(), app, []string{"chat", "--server", url, "--json", "what", "are", "PTBs?"})
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "无法连接门户")

	var resp struct {
		Source string `json:"source"`
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "fallback", resp.Source)
	assert.NotEmpty(t, resp.Answer)
}

func TestChatReturnsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"INVALID_ARGUMENT","message":"问题不能为空"}}`))
	}))
	defer srv.Close()

	app, out, errOut := newTestApp()
	app.HTTPClient = srv.Client()
	assert.Equal(t, 1, Execute(context.Background(), app, []string{"chat", "--server", srv.URL, "?"}))
	assert.Contains(t, errOut.String(), "INVALID_ARGUMENT")
	assert.Empty(t, out.String())
}
