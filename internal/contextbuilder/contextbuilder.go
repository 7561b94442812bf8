// Package contextbuilder assembles the ordered message list handed to
// the LLM Router on every turn (C12). It is deliberately RAG-first
// rather than a full-history dump: recent conversation messages, a
// handful of similarity-ranked facts, and related past-conversation
// summaries, trimmed to a token budget before the final user message is
// appended.
//
// Grounded on the reference implementation's agent/context_builder.py:
// same five-step assembly order, same similarity floors (facts ≥0.3,
// cross-conversation messages ≥0.4, conversation summaries ≥0.3), same
// 4-chars/token trim heuristic that protects the system block and the
// final user message.
package contextbuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/san-techie21/gulama-gateway/internal/providers"
	"github.com/san-techie21/gulama-gateway/internal/store"
)

// Autonomy level descriptions interpolated into the system prompt,
// matching AUTONOMY_DESCRIPTIONS in the reference implementation.
var AutonomyDescriptions = map[int]string{
	0: "Observer — ask before every action",
	1: "Assistant — auto-read, ask before writes",
	2: "Co-pilot — auto-handle safe actions, ask before shell/network",
	3: "Autopilot-cautious — auto-handle most things, ask before destructive",
	4: "Autopilot — auto-handle everything except financial/credential",
	5: "Full autonomous — unrestricted (dangerous)",
}

// SimilarityFact is one scored fact candidate, as a vector store (when
// configured) or the substring-search fallback would return it.
type SimilarityFact struct {
	Category   string
	Content    string
	Similarity float64
}

// SimilarityMessage is one scored cross-conversation message candidate.
type SimilarityMessage struct {
	Content    string
	Similarity float64
}

// SimilarityConversation is one scored past-conversation summary candidate.
type SimilarityConversation struct {
	Summary    string
	Similarity float64
}

// Retriever is the optional vector-search surface. When nil or when
// Available() is false, the builder falls back to the Memory Store's
// substring search over facts and skips related-conversation retrieval
// entirely, matching the reference implementation's degraded path.
type Retriever interface {
	Available() bool
	SearchFacts(ctx context.Context, query string, limit int) ([]SimilarityFact, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]SimilarityMessage, error)
	SearchConversations(ctx context.Context, query string, limit int) ([]SimilarityConversation, error)
}

const (
	factSimilarityFloor    = 0.3
	messageSimilarityFloor = 0.4
	convoSimilarityFloor   = 0.3

	factSearchLimit  = 5
	msgSearchLimit   = 3
	convoSearchLimit = 3

	defaultSlidingWindow = 20
)

// PromptContext carries the dynamic values interpolated into the system
// prompt: autonomy level, active provider/model, and the security
// feature flags the user-facing copy reports as enabled or not.
type PromptContext struct {
	AutonomyLevel  int
	Provider       string
	Model          string
	SandboxEnabled bool
	PolicyEnabled  bool

	// BasePrompt overrides the built-in default system prompt template,
	// e.g. the active persona's rendered prompt. Leave empty to use
	// DefaultSystemPrompt.
	BasePrompt string

	// CapabilityBlock is an optional, separately-built block describing
	// which optional skills are ready vs. need API-key setup. Appended
	// verbatim after the base prompt.
	CapabilityBlock string
}

// DefaultSystemPrompt is used when PromptContext.BasePrompt is empty.
const DefaultSystemPrompt = `You are a secure personal AI assistant running on the user's own computer.

You have real capabilities: you can read and write files, execute shell commands inside a sandbox, search the web, and save or recall notes, all through the tools made available to you. When asked to do something those tools can accomplish, use them — don't claim you can't access the filesystem or run commands.

Security is enforced automatically by the policy engine and sandbox beneath you. Tool calls are checked before they run; destructive actions may require explicit confirmation. Never leak secrets, API keys, or other users' data in your responses.

Current context:
- Autonomy level: %d (%s)
- Provider: %s / %s
- Sandbox enabled: %t
- Policy engine enabled: %t`

func buildSystemPrompt(pc PromptContext) string {
	base := pc.BasePrompt
	if base == "" {
		desc := AutonomyDescriptions[pc.AutonomyLevel]
		if desc == "" {
			desc = "unknown"
		}
		base = fmt.Sprintf(DefaultSystemPrompt, pc.AutonomyLevel, desc, pc.Provider, pc.Model, pc.SandboxEnabled, pc.PolicyEnabled)
	}
	if pc.CapabilityBlock != "" {
		base += "\n\n" + pc.CapabilityBlock
	}
	return base
}

// Builder assembles LLM messages for a single turn.
type Builder struct {
	memory         store.MemoryStore
	retriever      Retriever
	maxTokens      int
	slidingWindow  int
}

// New constructs a Builder. retriever may be nil — the builder falls
// back to memory's substring fact search. maxTokens is the context
// budget in approximate tokens (4 chars/token); a value <= 0 defaults
// to 8000, matching the reference implementation's documented budget.
func New(memory store.MemoryStore, retriever Retriever, maxTokens int) *Builder {
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	return &Builder{
		memory:        memory,
		retriever:     retriever,
		maxTokens:     maxTokens,
		slidingWindow: defaultSlidingWindow,
	}
}

// BuildMessages assembles the ordered message list for one LLM call:
// system prompt, optional RAG-context block, optional related-
// conversations block, the sliding window of prior turns, and finally
// the new user message — trimmed to the token budget.
func (b *Builder) BuildMessages(ctx context.Context, userMessage, conversationID string, pc PromptContext) []providers.Message {
	var messages []providers.Message

	messages = append(messages, providers.Message{
		Role:    "system",
		Content: buildSystemPrompt(pc),
	})

	if ragBlock := b.ragContext(ctx, userMessage); ragBlock != "" {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: "Relevant context from memory:\n" + ragBlock,
		})
	}

	if convoBlock := b.relatedConversations(ctx, userMessage); convoBlock != "" {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: "Related past conversations:\n" + convoBlock,
		})
	}

	if conversationID != "" {
		messages = append(messages, b.conversationHistory(ctx, conversationID)...)
	}

	messages = append(messages, providers.Message{Role: "user", Content: userMessage})

	return trimToBudget(messages, b.maxTokens)
}

func (b *Builder) ragContext(ctx context.Context, query string) string {
	if b.retriever == nil || !b.retriever.Available() {
		return b.textSearchFacts(ctx, query)
	}

	var parts []string

	if facts, err := b.retriever.SearchFacts(ctx, query, factSearchLimit); err == nil {
		var lines []string
		for _, f := range facts {
			if f.Similarity >= factSimilarityFloor {
				lines = append(lines, fmt.Sprintf("- [%s] %s", f.Category, f.Content))
			}
		}
		if len(lines) > 0 {
			parts = append(parts, "Facts:\n"+strings.Join(lines, "\n"))
		}
	}

	if msgs, err := b.retriever.SearchMessages(ctx, query, msgSearchLimit); err == nil {
		var lines []string
		for _, m := range msgs {
			if m.Similarity >= messageSimilarityFloor {
				lines = append(lines, "- "+truncate(m.Content, 200))
			}
		}
		if len(lines) > 0 {
			parts = append(parts, "Related messages:\n"+strings.Join(lines, "\n"))
		}
	}

	return strings.Join(parts, "\n\n")
}

func (b *Builder) textSearchFacts(ctx context.Context, query string) string {
	if b.memory == nil {
		return ""
	}
	facts, err := b.memory.SearchFacts(ctx, query, factSearchLimit)
	if err != nil || len(facts) == 0 {
		return ""
	}
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- [%s] %s", f.Category, f.Content))
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) relatedConversations(ctx context.Context, query string) string {
	if b.retriever == nil || !b.retriever.Available() {
		return ""
	}
	convos, err := b.retriever.SearchConversations(ctx, query, convoSearchLimit)
	if err != nil || len(convos) == 0 {
		return ""
	}
	var lines []string
	for _, c := range convos {
		if c.Similarity >= convoSimilarityFloor && c.Summary != "" {
			lines = append(lines, "- "+truncate(c.Summary, 300))
		}
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) conversationHistory(ctx context.Context, conversationID string) []providers.Message {
	if b.memory == nil {
		return nil
	}
	msgs, err := b.memory.GetMessages(ctx, conversationID, 1<<30, 0)
	if err != nil {
		return nil
	}
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != store.RoleUser && m.Role != store.RoleAssistant {
			continue
		}
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	if len(out) > b.slidingWindow {
		out = out[len(out)-b.slidingWindow:]
	}
	return out
}

// trimToBudget drops oldest middle-window messages (after the leading
// system block, before the final user message) until the estimate fits,
// never dropping the system block or the final message.
func trimToBudget(messages []providers.Message, maxTokens int) []providers.Message {
	if estimateTokens(messages) <= maxTokens || len(messages) <= 2 {
		return messages
	}

	systemEnd := 0
	for i, m := range messages {
		if m.Role == "system" {
			systemEnd = i + 1
		} else {
			break
		}
	}

	systemMsgs := messages[:systemEnd]
	current := messages[len(messages)-1]
	middle := append([]providers.Message(nil), messages[systemEnd:len(messages)-1]...)

	for len(middle) > 0 && estimateTokens(concat(systemMsgs, middle, current)) > maxTokens {
		middle = middle[1:]
	}

	return concat(systemMsgs, middle, current)
}

func concat(system, middle []providers.Message, current providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(system)+len(middle)+1)
	out = append(out, system...)
	out = append(out, middle...)
	out = append(out, current)
	return out
}

// estimateTokens approximates token count at 4 characters per token,
// matching the reference implementation's heuristic.
func estimateTokens(messages []providers.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / 4
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// sortFactsBySimilarity is a small helper retained for callers building
// a custom Retriever that doesn't already return pre-sorted results.
func sortFactsBySimilarity(facts []SimilarityFact) {
	sort.Slice(facts, func(i, j int) bool { return facts[i].Similarity > facts[j].Similarity })
}
