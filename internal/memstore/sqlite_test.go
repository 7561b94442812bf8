package memstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/san-techie21/gulama-gateway/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesSchemaAndMigrations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != CurrentSchemaVersion {
		t.Fatalf("SchemaVersion = %d, want %d", v, CurrentSchemaVersion)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	v, err := s2.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != CurrentSchemaVersion {
		t.Fatalf("SchemaVersion after reopen = %d, want %d", v, CurrentSchemaVersion)
	}
}

func TestConversationAndMessageLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "cli", "user-1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected non-empty conversation id")
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got == nil || got.Channel != "cli" {
		t.Fatalf("GetConversation returned %+v", got)
	}

	if _, err := s.AddMessage(ctx, conv.ID, store.RoleUser, "hello", 2); err != nil {
		t.Fatalf("AddMessage user: %v", err)
	}
	if _, err := s.AddMessage(ctx, conv.ID, store.RoleAssistant, "hi there", 3); err != nil {
		t.Fatalf("AddMessage assistant: %v", err)
	}

	msgs, err := s.GetMessages(ctx, conv.ID, 10, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Fatalf("messages out of chronological order: %+v", msgs)
	}

	if err := s.EndConversation(ctx, conv.ID, "greeting exchange"); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	ended, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation after end: %v", err)
	}
	if ended.EndedAt == "" || ended.Summary != "greeting exchange" {
		t.Fatalf("expected ended conversation with summary, got %+v", ended)
	}
}

func TestGetRecentMessagesOrdersDescending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "cli", "user-1")

	s.AddMessage(ctx, conv.ID, store.RoleUser, "first", 1)
	s.AddMessage(ctx, conv.ID, store.RoleAssistant, "second", 1)
	s.AddMessage(ctx, conv.ID, store.RoleUser, "third", 1)

	msgs, err := s.GetRecentMessages(ctx, 2)
	if err != nil {
		t.Fatalf("GetRecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "third" {
		t.Fatalf("most recent message = %q, want %q", msgs[0].Content, "third")
	}
}

func TestFactsAddGetSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.AddFact(ctx, store.FactPreference, "prefers dark mode", "", 0.9); err != nil {
		t.Fatalf("AddFact: %v", err)
	}
	if _, err := s.AddFact(ctx, store.FactIdentity, "name is Alex", "", 1.0); err != nil {
		t.Fatalf("AddFact: %v", err)
	}

	prefs, err := s.GetFacts(ctx, store.FactPreference, 10)
	if err != nil {
		t.Fatalf("GetFacts: %v", err)
	}
	if len(prefs) != 1 {
		t.Fatalf("len(prefs) = %d, want 1", len(prefs))
	}

	all, err := s.GetFacts(ctx, "", 10)
	if err != nil {
		t.Fatalf("GetFacts all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	found, err := s.SearchFacts(ctx, "dark mode", 10)
	if err != nil {
		t.Fatalf("SearchFacts: %v", err)
	}
	if len(found) != 1 || found[0].Content != "prefers dark mode" {
		t.Fatalf("SearchFacts returned %+v", found)
	}
}

func TestCostTrackingAndBudget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.RecordCost(ctx, store.CostRow{
		Provider:     "anthropic",
		Model:        "claude",
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      0.25,
	}); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}
	if _, err := s.RecordCost(ctx, store.CostRow{
		Provider:     "anthropic",
		Model:        "claude",
		InputTokens:  200,
		OutputTokens: 100,
		CostUSD:      0.50,
	}); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	total, err := s.GetTodayCost(ctx)
	if err != nil {
		t.Fatalf("GetTodayCost: %v", err)
	}
	if total != 0.75 {
		t.Fatalf("GetTodayCost = %v, want 0.75", total)
	}

	summary, err := s.GetCostSummary(ctx, 7)
	if err != nil {
		t.Fatalf("GetCostSummary: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("len(summary) = %d, want 1", len(summary))
	}
	if summary[0].CostUSD != 0.75 {
		t.Fatalf("summary cost = %v, want 0.75", summary[0].CostUSD)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv, _ := s.CreateConversation(ctx, "cli", "u1")
	s.AddMessage(ctx, conv.ID, store.RoleUser, "hi", 1)
	s.AddFact(ctx, store.FactContext, "testing", "", 1.0)
	s.RecordCost(ctx, store.CostRow{Provider: "p", Model: "m", CostUSD: 0.1})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["conversations"] != 1 || stats["messages"] != 1 || stats["facts"] != 1 || stats["cost_tracking"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCascadeDeleteNotExercisedButForeignKeysEnabled(t *testing.T) {
	s := openTestStore(t)
	var fkOn int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&fkOn); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fkOn != 1 {
		t.Fatalf("foreign_keys = %d, want 1 (enabled)", fkOn)
	}
}
