package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/san-techie21/gulama-gateway/internal/contextbuilder"
	"github.com/san-techie21/gulama-gateway/internal/memstore"
	"github.com/san-techie21/gulama-gateway/internal/providers"
	"github.com/san-techie21/gulama-gateway/internal/store"
	"github.com/san-techie21/gulama-gateway/internal/tools"
)

type brainFakeProvider struct {
	name      string
	responses []*providers.ChatResponse
	call      int
}

func (f *brainFakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	r := f.responses[f.call]
	if f.call < len(f.responses)-1 {
		f.call++
	}
	return r, nil
}

func (f *brainFakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	r := f.responses[f.call]
	if r.Content != "" {
		onChunk(providers.StreamChunk{Content: r.Content})
	}
	if f.call < len(f.responses)-1 {
		f.call++
	}
	return r, nil
}

func (f *brainFakeProvider) DefaultModel() string { return "fake" }
func (f *brainFakeProvider) Name() string         { return f.name }

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes input" }
func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	return tools.NewResult("echoed")
}

func newTestBrain(t *testing.T, responses []*providers.ChatResponse) *Brain {
	t.Helper()
	mem, err := memstore.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	reg := providers.NewRegistry()
	reg.Register(&brainFakeProvider{name: "fake", responses: responses})
	router := providers.NewRouter(providers.RouterConfig{Registry: reg, PrimaryName: "fake"})

	toolReg := tools.NewRegistry()
	toolReg.Register(echoTool{})

	builder := contextbuilder.New(mem, nil, 0)

	return New(BrainConfig{
		Memory:  mem,
		Builder: builder,
		Router:  router,
		Tools:   toolReg,
		Prompt:  contextbuilder.PromptContext{AutonomyLevel: 2, Provider: "fake", Model: "fake"},
	})
}

func TestProcessMessageSimpleReply(t *testing.T) {
	b := newTestBrain(t, []*providers.ChatResponse{
		{Content: "hello back", FinishReason: "stop"},
	})

	result, err := b.ProcessMessage(context.Background(), ProcessRequest{Message: "hi", Channel: "cli"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Response != "hello back" {
		t.Fatalf("Response = %q, want %q", result.Response, "hello back")
	}
	if result.ConversationID == "" {
		t.Fatal("expected a conversation id to be created")
	}
}

func TestProcessMessageRunsToolRound(t *testing.T) {
	b := newTestBrain(t, []*providers.ChatResponse{
		{
			ToolCalls: []providers.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]interface{}{}}},
			FinishReason: "tool_calls",
		},
		{Content: "done", FinishReason: "stop"},
	})

	result, err := b.ProcessMessage(context.Background(), ProcessRequest{Message: "use echo", Channel: "cli"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Response != "done" {
		t.Fatalf("Response = %q, want done", result.Response)
	}
	if len(result.ToolsUsed) != 1 || result.ToolsUsed[0] != "echo" {
		t.Fatalf("ToolsUsed = %v, want [echo]", result.ToolsUsed)
	}
}

func TestProcessMessagePersistsConversation(t *testing.T) {
	b := newTestBrain(t, []*providers.ChatResponse{{Content: "ack", FinishReason: "stop"}})

	result, err := b.ProcessMessage(context.Background(), ProcessRequest{Message: "remember this", Channel: "cli"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	msgs, err := b.memory.GetMessages(context.Background(), result.ConversationID, 10, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2 (user + assistant)", len(msgs))
	}
}

func TestProcessMessageBudgetExceeded(t *testing.T) {
	mem, err := memstore.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	ctx := context.Background()
	if _, err := mem.RecordCost(ctx, store.CostRow{Provider: "fake", Model: "fake", CostUSD: 2.0}); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	reg := providers.NewRegistry()
	reg.Register(&brainFakeProvider{name: "fake", responses: []*providers.ChatResponse{{Content: "should not see this"}}})
	router := providers.NewRouter(providers.RouterConfig{
		Registry:       reg,
		PrimaryName:    "fake",
		Budget:         mem,
		DailyBudgetUSD: 1.0,
	})

	toolReg := tools.NewRegistry()
	builder := contextbuilder.New(mem, nil, 0)
	b := New(BrainConfig{Memory: mem, Builder: builder, Router: router, Tools: toolReg, Prompt: contextbuilder.PromptContext{AutonomyLevel: 2, Provider: "fake", Model: "fake"}})

	result, err := b.ProcessMessage(ctx, ProcessRequest{Message: "hi", Channel: "cli"})
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Response != BudgetExceededMessage {
		t.Fatalf("Response = %q, want budget exceeded message", result.Response)
	}
}

func TestStreamMessageEmitsChunksAndComplete(t *testing.T) {
	b := newTestBrain(t, []*providers.ChatResponse{{Content: "streamed reply", FinishReason: "stop"}})

	events := b.StreamMessage(context.Background(), ProcessRequest{Message: "hi", Channel: "cli"})

	var sawChunk, sawComplete bool
	var final *ProcessResult
	for ev := range events {
		switch ev.Type {
		case "chunk":
			sawChunk = true
		case "complete":
			sawComplete = true
			final = ev.Result
		case "error":
			t.Fatalf("unexpected error event: %s", ev.Content)
		}
	}
	if !sawChunk || !sawComplete {
		t.Fatalf("expected both chunk and complete events, got chunk=%v complete=%v", sawChunk, sawComplete)
	}
	if final == nil || final.Response != "streamed reply" {
		t.Fatalf("final result = %+v", final)
	}
}
