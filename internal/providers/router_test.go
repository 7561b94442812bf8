package providers

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	name      string
	chatErr   error
	chatResp  *ChatResponse
	streamErr error
}

func (f *fakeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chatResp, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	onChunk(StreamChunk{Content: "hi"})
	return f.chatResp, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return f.name }

type fakeBudget struct {
	cost float64
	err  error
}

func (f *fakeBudget) GetTodayCost(ctx context.Context) (float64, error) { return f.cost, f.err }

func TestRouterChatUsesPrimary(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "primary", chatResp: &ChatResponse{Content: "ok"}})

	r := NewRouter(RouterConfig{Registry: reg, PrimaryName: "primary"})
	resp, err := r.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("Content = %q, want ok", resp.Content)
	}
}

func TestRouterFallsBackOnPrimaryFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "primary", chatErr: errors.New("primary down")})
	reg.Register(&fakeProvider{name: "fallback", chatResp: &ChatResponse{Content: "fallback ok"}})

	r := NewRouter(RouterConfig{Registry: reg, PrimaryName: "primary", FallbackName: "fallback"})
	resp, err := r.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "fallback ok" {
		t.Fatalf("Content = %q, want fallback ok", resp.Content)
	}
}

func TestRouterReturnsErrorWhenAllProvidersFail(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "primary", chatErr: errors.New("primary down")})
	reg.Register(&fakeProvider{name: "fallback", chatErr: errors.New("fallback down")})

	r := NewRouter(RouterConfig{Registry: reg, PrimaryName: "primary", FallbackName: "fallback"})
	_, err := r.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	var allFailed *ErrAllProvidersFailed
	if !errors.As(err, &allFailed) {
		t.Fatalf("expected *ErrAllProvidersFailed, got %T: %v", err, err)
	}
}

func TestCheckBudgetDisabledByDefault(t *testing.T) {
	reg := NewRegistry()
	r := NewRouter(RouterConfig{Registry: reg})
	if !r.CheckBudget(context.Background()) {
		t.Fatal("budget check should pass when DailyBudgetUSD <= 0")
	}
}

func TestCheckBudgetRejectsWhenOverBudget(t *testing.T) {
	reg := NewRegistry()
	r := NewRouter(RouterConfig{Registry: reg, Budget: &fakeBudget{cost: 10.0}, DailyBudgetUSD: 5.0})
	if r.CheckBudget(context.Background()) {
		t.Fatal("expected budget check to fail when today's cost exceeds budget")
	}
}

func TestCheckBudgetAllowsWhenUnderBudget(t *testing.T) {
	reg := NewRegistry()
	r := NewRouter(RouterConfig{Registry: reg, Budget: &fakeBudget{cost: 1.0}, DailyBudgetUSD: 5.0})
	if !r.CheckBudget(context.Background()) {
		t.Fatal("expected budget check to pass when under budget")
	}
}

func TestCheckBudgetFailsOpenOnReaderError(t *testing.T) {
	reg := NewRegistry()
	r := NewRouter(RouterConfig{Registry: reg, Budget: &fakeBudget{err: errors.New("db down")}, DailyBudgetUSD: 5.0})
	if !r.CheckBudget(context.Background()) {
		t.Fatal("expected budget check to fail open on reader error")
	}
}

func TestRouterChatStreamUsesPrimary(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "primary", chatResp: &ChatResponse{Content: "streamed"}})

	r := NewRouter(RouterConfig{Registry: reg, PrimaryName: "primary"})
	var chunks []string
	resp, err := r.ChatStream(context.Background(), ChatRequest{}, func(c StreamChunk) {
		chunks = append(chunks, c.Content)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Content != "streamed" {
		t.Fatalf("Content = %q, want streamed", resp.Content)
	}
	if len(chunks) != 1 || chunks[0] != "hi" {
		t.Fatalf("chunks = %v, want [hi]", chunks)
	}
}
