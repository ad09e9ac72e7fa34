package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := time.Unix(1700000000, 0)
	store.now = func() time.Time { return clock }

	job := &Job{ID: "a", Kind: KindSimulate, Payload: json.RawMessage(`{}`), MaxRetries: 2}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, job); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "b", Kind: "deploy"}); err == nil {
		t.Fatal("expected validation error for unknown kind")
	}

	claimed, err := store.Claim(ctx, "a")
	if err != nil || claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claim %+v %v", claimed, err)
	}
	if _, err := store.Claim(ctx, "a"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("running job must not be claimed twice, got %v", err)
	}

	if err := store.MarkFailed(ctx, "a", "UPSTREAM_FAILURE", "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ := store.Get(ctx, "a")
	if got.Status != StatusPending || got.LastError != "boom" {
		t.Fatalf("non-terminal failure should return to pending: %+v", got)
	}

	if _, err := store.Claim(ctx, "a"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	_ = store.MarkFailed(ctx, "a", "UPSTREAM_FAILURE", "boom", false)
	if _, err := store.Claim(ctx, "a"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "a", Outcome{Digest: "D", Result: json.RawMessage(`{"x":1}`)}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "a"); !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreListAndStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := int64(1700000000)

	seed := []*Job{
		{ID: "s1", Kind: KindSimulate, Network: "testnet", Payload: json.RawMessage(`{"presetId":"split"}`)},
		{ID: "s2", Kind: KindSimulate, Network: "devnet", Payload: json.RawMessage(`{"presetId":"merge"}`)},
		{ID: "e1", Kind: KindExecute, Network: "testnet", Payload: json.RawMessage(`{"presetId":"split"}`)},
	}
	for i, job := range seed {
		ts := base + int64(i)
		store.now = func() time.Time { return time.Unix(ts, 0) }
		job.MaxRetries = 3
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	store.now = func() time.Time { return time.Unix(base+10, 0) }
	_ = store.MarkSucceeded(ctx, "s1", Outcome{Digest: "ABC"})

	all, _ := store.List(ctx, Filter{})
	if len(all) != 3 || all[0].ID != "s1" {
		t.Fatalf("unexpected order %v", ids(all))
	}
	asc, _ := store.List(ctx, Filter{Oldest: true})
	if asc[0].ID != "s2" {
		t.Fatalf("unexpected asc order %v", ids(asc))
	}

	testnet, _ := store.List(ctx, Filter{Network: "testnet", Kinds: []Kind{KindSimulate}})
	if len(testnet) != 1 || testnet[0].ID != "s1" {
		t.Fatalf("unexpected filter result %v", ids(testnet))
	}
	byQuery, _ := store.List(ctx, Filter{Query: "MERGE"})
	if len(byQuery) != 1 || byQuery[0].ID != "s2" {
		t.Fatalf("unexpected query result %v", ids(byQuery))
	}
	paged, _ := store.List(ctx, Filter{Limit: 1, Offset: 5})
	if len(paged) != 0 {
		t.Fatalf("expected empty page, got %v", ids(paged))
	}
	byDigest, _ := store.List(ctx, Filter{Digest: "ABC"})
	if len(byDigest) != 1 || byDigest[0].ID != "s1" {
		t.Fatalf("unexpected digest result %v", ids(byDigest))
	}
	recent, _ := store.List(ctx, Filter{Since: time.Unix(base+5, 0)})
	if len(recent) != 1 || recent[0].ID != "s1" {
		t.Fatalf("unexpected since result %v", ids(recent))
	}

	stats, _ := store.Stats(ctx, Filter{})
	if stats.Total != 3 || stats.Pending != 2 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.OldestUpdatedAt != base+1 {
		t.Fatalf("unexpected oldest %d", stats.OldestUpdatedAt)
	}
	onlyDone, _ := store.Stats(ctx, Filter{Statuses: []Status{StatusSucceeded, "bogus"}})
	if onlyDone.Total != 1 {
		t.Fatalf("unexpected filtered stats %+v", onlyDone)
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
