package agent

// Brain implements the Agent Brain (C13): process_message / stream_message.
// Brain is the single-tenant reasoning loop the spec describes — it owns the
// Memory Store round trip, the budget gate, Context Builder assembly, and
// the bounded tool-round loop, and it never raises out of its entry point.
//
// Grounded on the reference implementation's agent/brain.py contract
// (process_message/stream_message signatures and the budget-short-circuit,
// tool-round-loop, persist-then-return algorithm). A tool-call round invokes
// the registry, appends a synthetic assistant tool-call message plus a
// role:"tool" result message, and tracks which skills ran.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/san-techie21/gulama-gateway/internal/contextbuilder"
	"github.com/san-techie21/gulama-gateway/internal/providers"
	"github.com/san-techie21/gulama-gateway/internal/store"
	"github.com/san-techie21/gulama-gateway/internal/tools"
)

// DefaultMaxToolRounds is the typical bound from the spec ("max, typical: 8").
const DefaultMaxToolRounds = 8

// BudgetExceededMessage is the response body returned when CheckBudget fails.
const BudgetExceededMessage = "I've hit today's spending limit for LLM usage, so I can't process this request right now. It will reset at midnight UTC."

// ProcessRequest is the input to Brain.ProcessMessage.
type ProcessRequest struct {
	Message        string
	ConversationID string // empty creates a new conversation
	Channel        string
	UserID         string
}

// ProcessResult is the output of Brain.ProcessMessage, matching the spec's
// {response, conversation_id, tokens_used, cost_usd, tools_used[]} contract.
type ProcessResult struct {
	Response       string
	ConversationID string
	TokensUsed     int64
	CostUSD        float64
	ToolsUsed      []string
}

// StreamEvent is one item emitted by Brain.StreamMessage: a partial chunk,
// the terminating complete event carrying the same totals as ProcessResult,
// or an error event.
type StreamEvent struct {
	Type    string // "chunk", "complete", "error"
	Content string
	Result  *ProcessResult
}

// Brain ties together the Memory Store, Context Builder, LLM Router, and
// Tool Executor into the process_message/stream_message contract.
type Brain struct {
	memory          store.MemoryStore
	builder         *contextbuilder.Builder
	router          *providers.Router
	tools           *tools.Registry
	visibility      *tools.PolicyEngine
	maxToolRounds   int
	promptCtx       contextbuilder.PromptContext
	modelForCost    string
	providerForCost string
}

// BrainConfig configures a new Brain.
type BrainConfig struct {
	Memory        store.MemoryStore
	Builder       *contextbuilder.Builder
	Router        *providers.Router
	Tools         *tools.Registry
	Visibility    *tools.PolicyEngine // nil shows the model every registered tool
	MaxToolRounds int                 // <= 0 uses DefaultMaxToolRounds
	Prompt        contextbuilder.PromptContext
}

// New constructs a Brain.
func New(cfg BrainConfig) *Brain {
	max := cfg.MaxToolRounds
	if max <= 0 {
		max = DefaultMaxToolRounds
	}
	return &Brain{
		memory:          cfg.Memory,
		builder:         cfg.Builder,
		router:          cfg.Router,
		tools:           cfg.Tools,
		visibility:      cfg.Visibility,
		maxToolRounds:   max,
		promptCtx:       cfg.Prompt,
		modelForCost:    cfg.Prompt.Model,
		providerForCost: cfg.Prompt.Provider,
	}
}

// ProcessMessage runs the full process_message algorithm. It never
// returns an error to the caller for ordinary LLM/tool failures — those
// become a best-effort textual response — but can return an error for
// unrecoverable store failures (e.g. unable to open/create a conversation).
func (b *Brain) ProcessMessage(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	ctx, span := otel.Tracer("agent").Start(ctx, "brain.process_message")
	span.SetAttributes(attribute.String("channel", req.Channel))
	defer span.End()

	ctx = b.toolContext(ctx, req)
	conversationID, err := b.ensureConversation(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent: open conversation: %w", err)
	}

	if _, err := b.memory.AddMessage(ctx, conversationID, store.RoleUser, req.Message, estimateTokens(req.Message)); err != nil {
		slog.Warn("brain.persist_user_message_failed", "error", err)
	}

	if !b.router.CheckBudget(ctx) {
		result := &ProcessResult{Response: BudgetExceededMessage, ConversationID: conversationID}
		b.persistAssistant(ctx, conversationID, result.Response)
		return result, nil
	}

	messages := b.builder.BuildMessages(ctx, req.Message, conversationID, b.promptCtx)

	result, err := b.runToolLoop(ctx, messages, conversationID)
	if err != nil {
		result = &ProcessResult{
			Response:       fmt.Sprintf("Something went wrong processing that: %v", err),
			ConversationID: conversationID,
		}
	}
	result.ConversationID = conversationID
	return result, nil
}

// StreamMessage mirrors ProcessMessage but emits chunk/complete/error
// events on the returned channel instead of only returning a final
// result. It closes the channel when done and never panics out of the
// goroutine — an unhandled failure becomes an "error" event.
func (b *Brain) StreamMessage(ctx context.Context, req ProcessRequest) <-chan StreamEvent {
	out := make(chan StreamEvent, 8)

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				out <- StreamEvent{Type: "error", Content: fmt.Sprintf("internal error: %v", r)}
			}
		}()

		ctx := b.toolContext(ctx, req)

		conversationID, err := b.ensureConversation(ctx, req)
		if err != nil {
			out <- StreamEvent{Type: "error", Content: err.Error()}
			return
		}

		if _, err := b.memory.AddMessage(ctx, conversationID, store.RoleUser, req.Message, estimateTokens(req.Message)); err != nil {
			slog.Warn("brain.persist_user_message_failed", "error", err)
		}

		if !b.router.CheckBudget(ctx) {
			result := &ProcessResult{Response: BudgetExceededMessage, ConversationID: conversationID}
			b.persistAssistant(ctx, conversationID, result.Response)
			out <- StreamEvent{Type: "chunk", Content: result.Response}
			out <- StreamEvent{Type: "complete", Result: result}
			return
		}

		messages := b.builder.BuildMessages(ctx, req.Message, conversationID, b.promptCtx)

		result, err := b.runToolLoopStreaming(ctx, messages, conversationID, out)
		if err != nil {
			out <- StreamEvent{Type: "error", Content: err.Error()}
			return
		}
		result.ConversationID = conversationID
		out <- StreamEvent{Type: "complete", Result: result}
	}()

	return out
}

// toolDefs returns the tool definitions shown to the model this turn,
// filtered by the visibility policy when one is configured.
func (b *Brain) toolDefs() []providers.ToolDefinition {
	if b.visibility != nil {
		return b.visibility.FilterTools(b.tools, b.promptCtx.Provider)
	}
	return b.tools.ProviderDefs()
}

// toolContext carries the caller's identity and the configured autonomy
// level into the tool pipeline, where the policy engine reads them.
func (b *Brain) toolContext(ctx context.Context, req ProcessRequest) context.Context {
	ctx = tools.WithAutonomyLevel(ctx, b.promptCtx.AutonomyLevel)
	ctx = tools.WithToolAgentID(ctx, "agent")
	if req.Channel != "" {
		ctx = tools.WithToolChannel(ctx, req.Channel)
	}
	if req.UserID != "" {
		ctx = tools.WithToolUserID(ctx, req.UserID)
	}
	return ctx
}

func (b *Brain) ensureConversation(ctx context.Context, req ProcessRequest) (string, error) {
	if req.ConversationID != "" {
		return req.ConversationID, nil
	}
	conv, err := b.memory.CreateConversation(ctx, req.Channel, req.UserID)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

func (b *Brain) persistAssistant(ctx context.Context, conversationID, content string) {
	if _, err := b.memory.AddMessage(ctx, conversationID, store.RoleAssistant, content, estimateTokens(content)); err != nil {
		slog.Warn("brain.persist_assistant_message_failed", "error", err)
	}
}

// runToolLoop executes the bounded think→act→observe cycle without
// streaming: call the router, execute any tool calls, append the
// resulting messages, and repeat until the model stops requesting tools
// or the round cap is reached.
func (b *Brain) runToolLoop(ctx context.Context, messages []providers.Message, conversationID string) (*ProcessResult, error) {
	var toolsUsed []string
	var totalTokens int64
	var totalCost float64

	toolDefs := b.toolDefs()

	for round := 0; round < b.maxToolRounds; round++ {
		resp, err := b.router.Chat(ctx, providers.ChatRequest{Messages: messages, Tools: toolDefs})
		if err != nil {
			return nil, err
		}
		if resp.Usage != nil {
			totalTokens += int64(resp.Usage.TotalTokens)
		}

		if len(resp.ToolCalls) == 0 {
			b.persistAssistant(ctx, conversationID, resp.Content)
			b.recordCost(ctx, conversationID, resp, totalCost)
			return &ProcessResult{Response: resp.Content, TokensUsed: totalTokens, CostUSD: totalCost, ToolsUsed: toolsUsed}, nil
		}

		messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, tc := range resp.ToolCalls {
			toolCtx, toolSpan := otel.Tracer("agent").Start(ctx, "tool."+tc.Name)
			result := b.tools.Execute(toolCtx, tc.Name, tc.Arguments)
			toolSpan.End()
			toolsUsed = append(toolsUsed, tc.Name)
			messages = append(messages, providers.Message{
				Role:       store.RoleTool,
				Content:    toolOutputFor(result),
				ToolCallID: tc.ID,
			})
		}
	}

	return nil, fmt.Errorf("exceeded maximum of %d tool rounds", b.maxToolRounds)
}

func (b *Brain) runToolLoopStreaming(ctx context.Context, messages []providers.Message, conversationID string, out chan<- StreamEvent) (*ProcessResult, error) {
	var toolsUsed []string
	var totalTokens int64
	var totalCost float64

	toolDefs := b.toolDefs()

	for round := 0; round < b.maxToolRounds; round++ {
		var full string
		resp, err := b.router.ChatStream(ctx, providers.ChatRequest{Messages: messages, Tools: toolDefs}, func(c providers.StreamChunk) {
			if c.Content != "" {
				full += c.Content
				out <- StreamEvent{Type: "chunk", Content: c.Content}
			}
		})
		if err != nil {
			return nil, err
		}
		if resp.Usage != nil {
			totalTokens += int64(resp.Usage.TotalTokens)
		}

		if len(resp.ToolCalls) == 0 {
			content := resp.Content
			if content == "" {
				content = full
			}
			b.persistAssistant(ctx, conversationID, content)
			b.recordCost(ctx, conversationID, resp, totalCost)
			return &ProcessResult{Response: content, TokensUsed: totalTokens, CostUSD: totalCost, ToolsUsed: toolsUsed}, nil
		}

		messages = append(messages, providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, tc := range resp.ToolCalls {
			result := b.tools.Execute(ctx, tc.Name, tc.Arguments)
			toolsUsed = append(toolsUsed, tc.Name)
			messages = append(messages, providers.Message{
				Role:       store.RoleTool,
				Content:    toolOutputFor(result),
				ToolCallID: tc.ID,
			})
		}
	}

	return nil, fmt.Errorf("exceeded maximum of %d tool rounds", b.maxToolRounds)
}

func (b *Brain) recordCost(ctx context.Context, conversationID string, resp *providers.ChatResponse, costUSD float64) {
	if resp.Usage == nil {
		return
	}
	_, err := b.memory.RecordCost(ctx, store.CostRow{
		Provider:       b.providerForCost,
		Model:          b.modelForCost,
		InputTokens:    int64(resp.Usage.PromptTokens),
		OutputTokens:   int64(resp.Usage.CompletionTokens),
		CostUSD:        costUSD,
		ConversationID: conversationID,
	})
	if err != nil {
		slog.Warn("brain.record_cost_failed", "error", err)
	}
}

// toolOutputFor renders a tool Result the way the spec's "append a
// role:tool message carrying the result's output" step expects: the
// decision surface for ask_user/deny, otherwise ForLLM.
func toolOutputFor(result *tools.Result) string {
	if result == nil {
		return "{}"
	}
	if result.IsError {
		payload, _ := json.Marshal(map[string]string{"error": result.ForLLM})
		return string(payload)
	}
	return result.ForLLM
}

func estimateTokens(s string) int {
	return len(s) / 4
}
