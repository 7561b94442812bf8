package store

import (
	"context"
	"time"
)

// Conversation is one channel/user binding's ongoing or ended exchange.
type Conversation struct {
	ID         string
	Channel    string
	UserID     string
	StartedAt  string // ISO-8601 UTC
	EndedAt    string // ISO-8601 UTC, empty if still open
	Summary    string
	TokenCount int
}

// MessageRole enumerates the roles a persisted Message may carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one turn inside a Conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Timestamp      string // ISO-8601 UTC
	TokenCount     int
	EmbeddingID    string
}

// Fact categories, matching spec.md's Data Model enumeration.
const (
	FactPreference         = "preference"
	FactIdentity           = "identity"
	FactKnowledge          = "knowledge"
	FactSkill              = "skill"
	FactContext            = "context"
	FactConversationSummary = "conversation_summary"
	FactDecision           = "decision"
)

// Fact is a piece of extracted long-term knowledge about the user or world.
type Fact struct {
	ID              string
	Category        string
	Content         string
	SourceMessageID string
	Confidence      float64
	CreatedAt       string
	UpdatedAt       string
	EmbeddingID     string
}

// CostRow is one append-only LLM usage/cost record.
type CostRow struct {
	ID             string
	Timestamp      string
	Provider       string
	Model          string
	InputTokens    int64
	OutputTokens   int64
	CostUSD        float64
	Channel        string
	Skill          string
	ConversationID string
}

// CostSummaryRow is one (day, provider, model) aggregate bucket.
type CostSummaryRow struct {
	Day          string
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// MemoryStore is the Memory Store (C2): local structured storage of
// conversations, messages, facts, and cost rows, with versioned
// migrations. All timestamps are UTC and serialized as ISO-8601.
type MemoryStore interface {
	CreateConversation(ctx context.Context, channel, userID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	EndConversation(ctx context.Context, id, summary string) error

	ListIdleConversations(ctx context.Context, idleBefore time.Time, limit int) ([]Conversation, error)

	AddMessage(ctx context.Context, conversationID, role, content string, tokenCount int) (*Message, error)
	GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)
	GetRecentMessages(ctx context.Context, limit int) ([]Message, error)

	AddFact(ctx context.Context, category, content, sourceMessageID string, confidence float64) (*Fact, error)
	GetFacts(ctx context.Context, category string, limit int) ([]Fact, error)
	SearchFacts(ctx context.Context, query string, limit int) ([]Fact, error)

	RecordCost(ctx context.Context, row CostRow) (string, error)
	GetTodayCost(ctx context.Context) (float64, error)
	GetCostSummary(ctx context.Context, days int) ([]CostSummaryRow, error)

	SchemaVersion(ctx context.Context) (int, error)
	Stats(ctx context.Context) (map[string]int, error)

	Close() error
}
