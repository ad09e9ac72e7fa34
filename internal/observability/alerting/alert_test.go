package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/pkg/logger"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDispatchesAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelSlack}
	bad := &recordingNotifier{channel: ChannelDingTalk, err: errors.New("boom")}
	d := NewFanout([]Notifier{ok, bad, nil})

	err := d.Notify(context.Background(), Event{Code: "X", Severity: xerrors.SeverityWarning, JobID: "job-1"})
	if err == nil || !strings.Contains(err.Error(), "dingtalk") {
		t.Fatalf("expected joined channel error, got %v", err)
	}
	if len(ok.events) != 1 || len(bad.events) != 1 {
		t.Fatalf("expected both notifiers to be called")
	}
	if ok.events[0].OccurredAt.IsZero() {
		t.Fatal("expected OccurredAt to be filled")
	}
	if got := d.Channels(); len(got) != 2 || got[0] != ChannelDingTalk {
		t.Fatalf("unexpected channels %v", got)
	}
}

func TestFanoutMinimumSeverity(t *testing.T) {
	rec := &recordingNotifier{channel: ChannelLog}
	d := NewFanout([]Notifier{rec}, WithMinimumSeverity(xerrors.SeverityCritical))
	_ = d.Notify(context.Background(), Event{Severity: xerrors.SeverityWarning})
	_ = d.Notify(context.Background(), Event{Severity: xerrors.SeverityCritical})
	if len(rec.events) != 1 {
		t.Fatalf("expected only critical event, got %d", len(rec.events))
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}

func TestWebhookNotifierFormats(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	event := Event{
		Code:       "JOB_PROCESSING_FAILED",
		Message:    "dry run failed",
		Severity:   xerrors.SeverityWarning,
		JobID:      "job-9",
		Kind:       "simulate",
		Attempts:   2,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "retry"},
		OccurredAt: time.Unix(1700000000, 0),
	}

	slack, _ := NewWebhookNotifier(ChannelSlack, srv.URL)
	if err := slack.Notify(context.Background(), event); err != nil {
		t.Fatalf("slack: %v", err)
	}
	ding, _ := NewWebhookNotifier(ChannelDingTalk, srv.URL)
	if err := ding.Notify(context.Background(), event); err != nil {
		t.Fatalf("dingtalk: %v", err)
	}
	generic, _ := NewWebhookNotifier("", srv.URL)
	if err := generic.Notify(context.Background(), event); err != nil {
		t.Fatalf("generic: %v", err)
	}

	if text, _ := bodies[0]["text"].(string); !strings.Contains(text, "job-9") || !strings.Contains(text, "- stage: retry") {
		t.Fatalf("unexpected slack body %v", bodies[0])
	}
	if bodies[1]["msgtype"] != "text" {
		t.Fatalf("unexpected dingtalk body %v", bodies[1])
	}
	if bodies[2]["job_id"] != "job-9" || generic.Channel() != ChannelWebhook {
		t.Fatalf("unexpected generic body %v", bodies[2])
	}

	failing, _ := NewWebhookNotifier(ChannelWebhook, srv.URL+"/fail")
	if err := failing.Notify(context.Background(), event); err == nil {
		t.Fatal("expected error on 502")
	}
	if _, err := NewWebhookNotifier(ChannelSlack, " "); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestLogNotifier(t *testing.T) {
	n := &LogNotifier{Logger: logger.Discard()}
	if err := n.Notify(context.Background(), Event{JobID: "j"}); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
	if n.Channel() != ChannelLog {
		t.Fatal("unexpected channel")
	}
}
