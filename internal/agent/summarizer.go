package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/san-techie21/gulama-gateway/internal/providers"
	"github.com/san-techie21/gulama-gateway/internal/store"
)

// DefaultIdleBeforeSummary is how long a conversation must sit without a
// new message before the summarizer closes it.
const DefaultIdleBeforeSummary = 6 * time.Hour

// summaryMessageLimit caps how much history feeds one summary request.
const summaryMessageLimit = 100

// Summarizer compacts idle conversations: it asks the LLM for a short
// summary of the exchange, stores it on the conversation, and marks the
// conversation ended. Summaries later surface through the Context
// Builder's related-conversations block.
type Summarizer struct {
	memory    store.MemoryStore
	router    *providers.Router
	idleAfter time.Duration
}

// NewSummarizer builds a Summarizer; idleAfter <= 0 uses the default.
func NewSummarizer(memory store.MemoryStore, router *providers.Router, idleAfter time.Duration) *Summarizer {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleBeforeSummary
	}
	return &Summarizer{memory: memory, router: router, idleAfter: idleAfter}
}

// RunPeriodic summarizes idle conversations on the given interval until
// ctx is done. Errors are logged, never fatal — missing one cycle just
// means the next one catches up.
func (s *Summarizer) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SummarizeIdle(ctx)
			if err != nil {
				slog.Warn("summarizer.cycle_failed", "error", err)
			} else if n > 0 {
				slog.Info("summarizer.conversations_closed", "count", n)
			}
		}
	}
}

// SummarizeIdle finds conversations idle past the threshold and closes
// each with an LLM-written summary. Returns how many were closed.
func (s *Summarizer) SummarizeIdle(ctx context.Context) (int, error) {
	if !s.router.CheckBudget(ctx) {
		return 0, nil // don't spend summary tokens when over budget
	}

	cutoff := time.Now().UTC().Add(-s.idleAfter)
	idle, err := s.memory.ListIdleConversations(ctx, cutoff, 10)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, conv := range idle {
		if err := s.summarizeOne(ctx, conv); err != nil {
			slog.Warn("summarizer.conversation_failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *Summarizer) summarizeOne(ctx context.Context, conv store.Conversation) error {
	msgs, err := s.memory.GetMessages(ctx, conv.ID, summaryMessageLimit, 0)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return s.memory.EndConversation(ctx, conv.ID, "")
	}

	var transcript strings.Builder
	for _, m := range msgs {
		if m.Role != store.RoleUser && m.Role != store.RoleAssistant {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, truncateForSummary(m.Content, 500))
	}

	resp, err := s.router.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "Summarize the following conversation in 2-4 sentences. Capture decisions, facts about the user, and any unfinished business. Output only the summary."},
			{Role: "user", Content: transcript.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("summarize conversation %s: %w", conv.ID, err)
	}

	return s.memory.EndConversation(ctx, conv.ID, strings.TrimSpace(resp.Content))
}

func truncateForSummary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
