package channels

import (
	"strings"
	"testing"
	"time"
)

func TestPendingHistoryBuildContext(t *testing.T) {
	h := NewPendingHistory()
	h.Record("chat1", HistoryEntry{Sender: "@alice", Body: "anyone around?", Timestamp: time.Now()}, 10)
	h.Record("chat1", HistoryEntry{Sender: "@bob", Body: "yes", Timestamp: time.Now()}, 10)

	out := h.BuildContext("chat1", "[From: @carol]\nbot, summarize", 10)
	if !strings.Contains(out, "@alice: anyone around?") || !strings.Contains(out, "@bob: yes") {
		t.Fatalf("missing history entries:\n%s", out)
	}
	if !strings.HasSuffix(out, "bot, summarize") {
		t.Fatalf("current message should come last:\n%s", out)
	}
}

func TestPendingHistoryLimit(t *testing.T) {
	h := NewPendingHistory()
	for i := 0; i < 5; i++ {
		h.Record("c", HistoryEntry{Sender: "s", Body: string(rune('a' + i))}, 3)
	}
	out := h.BuildContext("c", "now", 3)
	if strings.Contains(out, "s: a") || strings.Contains(out, "s: b") {
		t.Fatalf("oldest entries should have been dropped:\n%s", out)
	}
	if !strings.Contains(out, "s: e") {
		t.Fatalf("newest entry missing:\n%s", out)
	}
}

func TestPendingHistoryClear(t *testing.T) {
	h := NewPendingHistory()
	h.Record("c", HistoryEntry{Sender: "s", Body: "old"}, 10)
	h.Clear("c")
	if out := h.BuildContext("c", "fresh", 10); out != "fresh" {
		t.Fatalf("expected no history after Clear, got:\n%s", out)
	}
}

func TestBaseChannelAllowlist(t *testing.T) {
	c := NewBaseChannel("test", nil, []string{"123", "@alice"})

	for _, id := range []string{"123", "123|bob", "alice"} {
		if !c.IsAllowed(id) {
			t.Errorf("IsAllowed(%q) = false, want true", id)
		}
	}
	if c.IsAllowed("999|mallory") {
		t.Error("unexpected sender allowed")
	}

	open := NewBaseChannel("open", nil, nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allowlist should allow all")
	}
}
