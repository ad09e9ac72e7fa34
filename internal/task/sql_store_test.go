package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OneChain-Portal/internal/storage/sqlstore"
)

func openSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLStore(context.Background(), sqlstore.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openSQLiteStore(t)

	job := &Job{ID: "sql-1", Kind: KindExecute, Network: "testnet", Payload: json.RawMessage(`{"presetId":"split"}`), MaxRetries: 1}
	require.NoError(t, store.Create(ctx, job))
	assert.True(t, errors.Is(store.Create(ctx, job), ErrJobConflict))

	got, err := store.Get(ctx, "sql-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, KindExecute, got.Kind)
	assert.JSONEq(t, `{"presetId":"split"}`, string(got.Payload))
	assert.Nil(t, got.Result)

	claimed, err := store.Claim(ctx, "sql-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = store.Claim(ctx, "sql-1")
	assert.True(t, errors.Is(err, ErrJobConflict))

	require.NoError(t, store.MarkFailed(ctx, "sql-1", "UPSTREAM_FAILURE", "timeout", false))
	_, err = store.Claim(ctx, "sql-1")
	assert.True(t, errors.Is(err, ErrJobExhausted))

	require.NoError(t, store.MarkSucceeded(ctx, "sql-1", Outcome{Digest: "DIG", Result: json.RawMessage(`{"status":"success"}`)}))
	done, err := store.Get(ctx, "sql-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, done.Status)
	assert.Equal(t, "DIG", done.Digest)
	assert.Empty(t, done.LastError)
	assert.JSONEq(t, `{"status":"success"}`, string(done.Result))

	_, err = store.Claim(ctx, "sql-1")
	assert.True(t, errors.Is(err, ErrJobCompleted))

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, errors.Is(store.MarkFailed(ctx, "missing", "X", "y", true), ErrJobNotFound))
}

func TestSQLStoreListAndStats(t *testing.T) {
	ctx := context.Background()
	store := openSQLiteStore(t)

	for _, job := range []*Job{
		{ID: "a", Kind: KindSimulate, Network: "testnet", Payload: json.RawMessage(`{"presetId":"split"}`), MaxRetries: 3},
		{ID: "b", Kind: KindSimulate, Network: "devnet", Payload: json.RawMessage(`{"presetId":"merge"}`), MaxRetries: 3},
		{ID: "c", Kind: KindExecute, Network: "testnet", Payload: json.RawMessage(`{"presetId":"split"}`), MaxRetries: 1},
	} {
		require.NoError(t, store.Create(ctx, job))
	}
	require.NoError(t, store.MarkFailed(ctx, "c", "EXECUTION_FAILED", "InsufficientGas", true))

	empty, err := store.Stats(ctx, Filter{Network: "mainnet"})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, empty)

	stats, err := store.Stats(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Failed)

	testnet, err := store.List(ctx, Filter{Network: "testnet", Statuses: []Status{StatusPending}})
	require.NoError(t, err)
	require.Len(t, testnet, 1)
	assert.Equal(t, "a", testnet[0].ID)

	byKind, err := store.List(ctx, Filter{Kinds: []Kind{KindExecute}})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "InsufficientGas", byKind[0].LastError)

	byQuery, err := store.List(ctx, Filter{Query: "insufficient"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "c", byQuery[0].ID)

	limited, err := store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byCode, err := store.List(ctx, Filter{ErrorCode: "execution_failed"})
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "c", byCode[0].ID)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
