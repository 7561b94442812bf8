package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/san-techie21/gulama-gateway/internal/memstore"
	"github.com/san-techie21/gulama-gateway/internal/providers"
	"github.com/san-techie21/gulama-gateway/internal/store"
)

type summaryProvider struct{}

func (p *summaryProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: "They discussed backup scripts."}, nil
}

func (p *summaryProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *summaryProvider) DefaultModel() string { return "fake" }
func (p *summaryProvider) Name() string         { return "fake" }

func TestSummarizeIdleClosesConversation(t *testing.T) {
	ctx := context.Background()

	mem, err := memstore.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	defer mem.Close()

	conv, err := mem.CreateConversation(ctx, "telegram", "u1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := mem.AddMessage(ctx, conv.ID, store.RoleUser, "back up my notes", 4); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := mem.AddMessage(ctx, conv.ID, store.RoleAssistant, "done", 1); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	reg := providers.NewRegistry()
	reg.Register(&summaryProvider{})
	router := providers.NewRouter(providers.RouterConfig{Registry: reg, PrimaryName: "fake"})

	s := NewSummarizer(mem, router, 0)
	s.idleAfter = -time.Minute // cutoff in the future: everything counts as idle

	n, err := s.SummarizeIdle(ctx)
	if err != nil {
		t.Fatalf("SummarizeIdle: %v", err)
	}
	if n != 1 {
		t.Fatalf("closed = %d, want 1", n)
	}

	got, err := mem.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.EndedAt == "" {
		t.Error("conversation should be ended")
	}
	if got.Summary != "They discussed backup scripts." {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestSummarizeIdleSkipsActiveConversations(t *testing.T) {
	ctx := context.Background()

	mem, err := memstore.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	defer mem.Close()

	conv, err := mem.CreateConversation(ctx, "telegram", "u1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := mem.AddMessage(ctx, conv.ID, store.RoleUser, "hi", 1); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	reg := providers.NewRegistry()
	reg.Register(&summaryProvider{})
	router := providers.NewRouter(providers.RouterConfig{Registry: reg, PrimaryName: "fake"})

	// Default idle threshold: a message written a moment ago is not idle.
	s := NewSummarizer(mem, router, 0)
	n, err := s.SummarizeIdle(ctx)
	if err != nil {
		t.Fatalf("SummarizeIdle: %v", err)
	}
	if n != 0 {
		t.Fatalf("closed = %d, want 0", n)
	}
}
