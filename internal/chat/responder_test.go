package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/internal/knowledge"
	"OneChain-Portal/internal/llm"
	"OneChain-Portal/pkg/logger"
)

type fakeModel struct {
	req     llm.Request
	content string
	err     error
}

func (f *fakeModel) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

func newResponder(t *testing.T, opts ...Option) *Responder {
	t.Helper()
	base, err := knowledge.Default()
	if err != nil {
		t.Fatalf("knowledge: %v", err)
	}
	opts = append(opts, WithLogger(logger.Discard()))
	r, err := NewResponder(base, opts...)
	if err != nil {
		t.Fatalf("responder: %v", err)
	}
	return r
}

func TestRespondPrefersModel(t *testing.T) {
	model := &fakeModel{content: "model answer"}
	r := newResponder(t, WithModel(model))

	resp, err := r.Respond(context.Background(), "How do PTBs work?")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Source != SourceLLM || resp.Answer != "model answer" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Suggestions[0] != "PTB gas optimization tips" {
		t.Fatalf("unexpected suggestions %v", resp.Suggestions)
	}
	if model.req.Temperature != 0.7 || model.req.MaxTokens != 1500 {
		t.Fatalf("unexpected sampling %+v", model.req)
	}
	if !strings.Contains(model.req.System, "200,000+ TPS") {
		t.Fatal("system prompt should embed the knowledge overview")
	}
	if strings.Contains(model.req.System, "connected to") {
		t.Fatal("network line should be omitted when no network is configured")
	}
}

func TestRespondPromptNamesNetwork(t *testing.T) {
	model := &fakeModel{content: "ok"}
	r := newResponder(t, WithModel(model), WithNetwork(" testnet "))

	if _, err := r.Respond(context.Background(), "How do PTBs work?"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.Contains(model.req.System, "connected to the OneChain testnet network") {
		t.Fatalf("system prompt should name the network:\n%s", model.req.System)
	}
	if !strings.Contains(model.req.System, "Relevant notes:\n[1] ") {
		t.Fatalf("system prompt should list matching topics:\n%s", model.req.System)
	}
}

func TestRespondFallsBackToKnowledge(t *testing.T) {
	r := newResponder(t, WithModel(&fakeModel{err: errors.New("quota")}))

	resp, err := r.Respond(context.Background(), "how do I connect a wallet?")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Source != SourceTopic || resp.Topic != "wallet" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(resp.Answer, "dapp-kit") {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}

	resp, err = newResponder(t).Respond(context.Background(), "what is the weather")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Source != SourceGeneral || !strings.HasPrefix(resp.Answer, "# OneChain Development Help") {
		t.Fatalf("unexpected general answer %+v", resp)
	}
	if len(resp.Suggestions) != 4 {
		t.Fatalf("expected default suggestions, got %v", resp.Suggestions)
	}
}

func TestRespondValidation(t *testing.T) {
	r := newResponder(t)
	if _, err := r.Respond(context.Background(), "   "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := NewResponder(nil); err == nil {
		t.Fatal("expected error without knowledge base")
	}
	if fb := r.Fallback(); fb.Source != SourceFallback || !strings.HasPrefix(fb.Answer, "# OneChain Help") {
		t.Fatalf("unexpected fallback %+v", fb)
	}
}
