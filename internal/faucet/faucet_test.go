package faucet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"OneChain-Portal/internal/chain"
	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/pkg/logger"
)

const recipient = "0xa1"

func network(url string) chain.Network {
	return chain.Network{Name: "testnet", FaucetURL: url}
}

func TestRequestSuccess(t *testing.T) {
	var body Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"transferredGasObjects":[{"amount":1000,"id":"0x1","transferTxDigest":"D1"},{"amount":500,"id":"0x2","transferTxDigest":"D1"}]}`))
	}))
	defer srv.Close()

	client := NewClient(WithHTTPClient(srv.Client()), WithLogger(logger.Discard()))
	resp, err := client.Request(context.Background(), network(srv.URL), recipient)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Total() != 1500 || len(resp.TransferredGasObjects) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.HasSuffix(body.FixedAmountRequest.Recipient, "a1") || len(body.FixedAmountRequest.Recipient) != 66 {
		t.Fatalf("recipient should be normalised, got %q", body.FixedAmountRequest.Recipient)
	}
}

func TestRequestFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("slow down"))
		case "/broken":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad"))
		default:
			_, _ = w.Write([]byte(`{"transferredGasObjects":[],"error":"faucet drained"}`))
		}
	}))
	defer srv.Close()

	client := NewClient(WithHTTPClient(srv.Client()), WithLogger(logger.Discard()))
	ctx := context.Background()

	_, err := client.Request(ctx, network(srv.URL+"/limited"), recipient)
	if xerrors.CodeOf(err) != CodeFaucetFailure || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected status error, got %v", err)
	}
	if !xerrors.RetryableError(err) {
		t.Fatal("rate limited requests should be retryable")
	}

	_, err = client.Request(ctx, network(srv.URL+"/broken"), recipient)
	if xerrors.RetryableError(err) {
		t.Fatalf("client errors should not be retryable: %v", err)
	}

	_, err = client.Request(ctx, network(srv.URL), recipient)
	if err == nil || !strings.Contains(err.Error(), "faucet drained") {
		t.Fatalf("expected error field to surface, got %v", err)
	}

	if _, err := client.Request(ctx, network(srv.URL), "not-an-address"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := client.Request(ctx, network(""), recipient); xerrors.CodeOf(err) != CodeFaucetUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
