package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultMatchesTopics(t *testing.T) {
	base, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if !strings.Contains(base.Overview, "OneChain") {
		t.Fatal("overview should describe OneChain")
	}

	cases := map[string]string{
		"How do I create my first Move package?": "move-package",
		"What are PTBs?":                         "ptb",
		"how to connect a wallet":                "wallet",
		"shared object vs owned":                 "objects",
		"install the CLI":                        "setup",
	}
	for query, want := range cases {
		topic, ok := base.Match(query)
		if !ok || topic.ID != want {
			t.Fatalf("query %q: expected %s, got %+v", query, want, topic.ID)
		}
	}

	if _, ok := base.Match("tell me about wallets"); ok {
		t.Fatal("wallet topic requires connect or integrate")
	}
}

func TestSuggest(t *testing.T) {
	base, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if got := base.Suggest("Move abilities"); got[0] != "How to publish my Move package?" {
		t.Fatalf("unexpected move suggestions %v", got)
	}
	if got := base.Suggest("hello"); len(got) != 4 || got[0] != "How do I start developing on OneChain?" {
		t.Fatalf("unexpected default suggestions %v", got)
	}
	got := base.Suggest("hello")
	got[0] = "mutated"
	if base.Suggest("hello")[0] == "mutated" {
		t.Fatal("suggestions must be copied")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.json")
	content := `{"generalHelp":"help","topics":[{"id":"gas","keywords":["gas"],"answer":"Gas answer"}]}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	base, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if base.Fallback != "help" {
		t.Fatalf("fallback should default to general help, got %q", base.Fallback)
	}
	if topics := base.Search("gas budget", 0); len(topics) != 1 {
		t.Fatalf("expected one topic, got %v", topics)
	}

	if err := os.WriteFile(path, []byte(`{"topics":[]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error without generalHelp")
	}
}
