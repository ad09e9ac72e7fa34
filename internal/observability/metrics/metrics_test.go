package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/ptb/simulate", http.MethodPost))
	ObserveHTTPRequest("/api/v1/ptb/simulate", http.MethodPost, http.StatusOK, 20*time.Millisecond)
	ObserveHTTPRequest("/api/v1/ptb/simulate", http.MethodPost, http.StatusBadGateway, time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/ptb/simulate", http.MethodPost)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequests.WithLabelValues("/api/v1/ptb/simulate", http.MethodPost, "200")), 1.0)
}

func TestDomainCounters(t *testing.T) {
	okBefore := testutil.ToFloat64(compiles.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(compiles.WithLabelValues("error"))
	ObserveCompile(3, nil)
	ObserveCompile(0, errors.New("bad"))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(compiles.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(compiles.WithLabelValues("error")))

	ObserveJob("simulate", "succeeded")
	assert.GreaterOrEqual(t, testutil.ToFloat64(jobs.WithLabelValues("simulate", "succeeded")), 1.0)

	ObserveRPC("suix_getAllBalances", nil)
	ObserveFaucet("testnet", errors.New("429"))
	assert.GreaterOrEqual(t, testutil.ToFloat64(faucetRequests.WithLabelValues("testnet", "error")), 1.0)
}

func TestHandlerExposesRegistry(t *testing.T) {
	ObserveRPC("sui_dryRunTransactionBlock", nil)
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "portal_chain_rpc_calls_total"))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}

func TestStartServerRequiresAddress(t *testing.T) {
	require.Error(t, StartServer(t.Context(), ""))
}
