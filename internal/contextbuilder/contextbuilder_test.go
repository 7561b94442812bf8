package contextbuilder

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-techie21/gulama-gateway/internal/memstore"
	"github.com/san-techie21/gulama-gateway/internal/providers"
	"github.com/san-techie21/gulama-gateway/internal/store"
)

func newTestMemory(t *testing.T) store.MemoryStore {
	t.Helper()
	s, err := memstore.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildMessagesIncludesSystemAndUser(t *testing.T) {
	mem := newTestMemory(t)
	b := New(mem, nil, 0)

	msgs := b.BuildMessages(context.Background(), "hello there", "", PromptContext{
		AutonomyLevel: 2, Provider: "anthropic", Model: "claude", SandboxEnabled: true, PolicyEnabled: true,
	})

	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2 (system + user)", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Fatalf("msgs[0].Role = %q, want system", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "Autonomy level: 2") {
		t.Fatalf("system prompt missing autonomy interpolation: %q", msgs[0].Content)
	}
	if msgs[len(msgs)-1].Role != "user" || msgs[len(msgs)-1].Content != "hello there" {
		t.Fatalf("last message should be the user message, got %+v", msgs[len(msgs)-1])
	}
}

func TestBuildMessagesIncludesConversationHistory(t *testing.T) {
	mem := newTestMemory(t)
	ctx := context.Background()
	conv, err := mem.CreateConversation(ctx, "cli", "u1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	mem.AddMessage(ctx, conv.ID, store.RoleUser, "what's the weather", 5)
	mem.AddMessage(ctx, conv.ID, store.RoleAssistant, "sunny", 3)

	b := New(mem, nil, 0)
	msgs := b.BuildMessages(ctx, "and tomorrow?", conv.ID, PromptContext{Provider: "p", Model: "m"})

	if len(msgs) != 4 {
		t.Fatalf("len(msgs) = %d, want 4 (system + 2 history + user)", len(msgs))
	}
	if msgs[1].Content != "what's the weather" || msgs[2].Content != "sunny" {
		t.Fatalf("history out of order: %+v", msgs[1:3])
	}
}

func TestBuildMessagesFallsBackToSubstringFactSearch(t *testing.T) {
	mem := newTestMemory(t)
	ctx := context.Background()
	mem.AddFact(ctx, store.FactPreference, "likes dark mode interfaces", "", 0.9)

	b := New(mem, nil, 0)
	msgs := b.BuildMessages(ctx, "dark mode", "", PromptContext{Provider: "p", Model: "m"})

	found := false
	for _, m := range msgs {
		if strings.Contains(m.Content, "Relevant context from memory") && strings.Contains(m.Content, "dark mode") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected substring fact search result in messages, got %+v", msgs)
	}
}

type fakeRetriever struct {
	available bool
	facts     []SimilarityFact
	msgs      []SimilarityMessage
	convos    []SimilarityConversation
}

func (f *fakeRetriever) Available() bool { return f.available }
func (f *fakeRetriever) SearchFacts(ctx context.Context, query string, limit int) ([]SimilarityFact, error) {
	return f.facts, nil
}
func (f *fakeRetriever) SearchMessages(ctx context.Context, query string, limit int) ([]SimilarityMessage, error) {
	return f.msgs, nil
}
func (f *fakeRetriever) SearchConversations(ctx context.Context, query string, limit int) ([]SimilarityConversation, error) {
	return f.convos, nil
}

func TestRetrieverSimilarityFloorsAreEnforced(t *testing.T) {
	mem := newTestMemory(t)
	retriever := &fakeRetriever{
		available: true,
		facts: []SimilarityFact{
			{Category: "preference", Content: "above floor", Similarity: 0.5},
			{Category: "preference", Content: "below floor", Similarity: 0.2},
		},
		msgs: []SimilarityMessage{
			{Content: "above floor msg", Similarity: 0.5},
			{Content: "below floor msg", Similarity: 0.35},
		},
		convos: []SimilarityConversation{
			{Summary: "above floor convo", Similarity: 0.5},
			{Summary: "below floor convo", Similarity: 0.1},
		},
	}

	b := New(mem, retriever, 0)
	msgs := b.BuildMessages(context.Background(), "query", "", PromptContext{Provider: "p", Model: "m"})

	var ragContent, convoContent string
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, "Relevant context from memory") {
			ragContent = m.Content
		}
		if strings.HasPrefix(m.Content, "Related past conversations") {
			convoContent = m.Content
		}
	}

	if !strings.Contains(ragContent, "above floor") || strings.Contains(ragContent, "below floor") {
		t.Fatalf("fact/message similarity floor not enforced: %q", ragContent)
	}
	if !strings.Contains(convoContent, "above floor convo") || strings.Contains(convoContent, "below floor convo") {
		t.Fatalf("conversation similarity floor not enforced: %q", convoContent)
	}
}

func TestTrimToBudgetPreservesSystemAndFinalMessage(t *testing.T) {
	system := providers.Message{Role: "system", Content: strings.Repeat("s", 40)}
	final := providers.Message{Role: "user", Content: "final question"}

	middle := []providers.Message{}
	for i := 0; i < 20; i++ {
		middle = append(middle, providers.Message{Role: "user", Content: strings.Repeat("x", 200)})
	}

	all := append([]providers.Message{system}, middle...)
	all = append(all, final)

	trimmed := trimToBudget(all, 50)

	if trimmed[0].Content != system.Content {
		t.Fatalf("system message was dropped")
	}
	if trimmed[len(trimmed)-1].Content != final.Content {
		t.Fatalf("final message was dropped")
	}
	if estimateTokens(trimmed) > 50 && len(trimmed) > 2 {
		t.Fatalf("trim did not reduce below budget where possible: %d tokens, %d messages", estimateTokens(trimmed), len(trimmed))
	}
}
