package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// BudgetChecker reads today's aggregate LLM spend so the Router can fail
// closed before placing a call that would push the day over budget.
// Implemented by the Memory Store.
type BudgetChecker interface {
	GetTodayCost(ctx context.Context) (float64, error)
}

// ErrBudgetExceeded is returned by Router.CheckBudget (and surfaced by
// the Agent Brain as a short-circuit response) once today's spend has
// reached the configured daily budget.
var ErrBudgetExceeded = errors.New("providers: daily budget exceeded")

// ErrAllProvidersFailed wraps the primary provider's error when no
// fallback is configured, or both primary and fallback failed.
type ErrAllProvidersFailed struct {
	Primary error
}

func (e *ErrAllProvidersFailed) Error() string {
	return fmt.Sprintf("providers: all llm providers failed, primary error: %v", e.Primary)
}

func (e *ErrAllProvidersFailed) Unwrap() error { return e.Primary }

// Router is the LLM Router (C11): a provider-agnostic chat/stream
// surface with primary→fallback failover and a daily budget gate. Its
// behavior is defined entirely by this contract; concrete provider
// endpoints are looked up from the Registry by name.
type Router struct {
	registry        *Registry
	budget          BudgetChecker
	dailyBudgetUSD  float64
	primaryName     string
	fallbackName    string

	totalInputTokens  int64
	totalOutputTokens int64
	totalCostUSD      float64
}

// RouterConfig configures a new Router.
type RouterConfig struct {
	Registry       *Registry
	Budget         BudgetChecker
	DailyBudgetUSD float64 // <= 0 disables budget enforcement
	PrimaryName    string  // provider name to try first; "" uses Registry.Default()
	FallbackName   string  // provider name to try on primary failure; "" disables fallback
}

// NewRouter constructs a Router over an already-populated provider Registry.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		registry:       cfg.Registry,
		budget:         cfg.Budget,
		dailyBudgetUSD: cfg.DailyBudgetUSD,
		primaryName:    cfg.PrimaryName,
		fallbackName:   cfg.FallbackName,
	}
}

// CheckBudget reads today's aggregate cost from the Memory Store and
// compares it against the configured daily budget. A non-positive
// budget disables enforcement (always returns true). A budget-reader
// error fails open with a warning logged, since refusing every request
// because the cost ledger hiccuped is worse than temporarily skipping
// the check.
func (r *Router) CheckBudget(ctx context.Context) bool {
	if r.dailyBudgetUSD <= 0 || r.budget == nil {
		return true
	}
	today, err := r.budget.GetTodayCost(ctx)
	if err != nil {
		slog.Warn("router.budget_check_failed", "error", err)
		return true
	}
	if today >= r.dailyBudgetUSD {
		slog.Warn("router.budget_exceeded", "today_cost", today, "budget", r.dailyBudgetUSD)
		return false
	}
	return true
}

func (r *Router) primary() (Provider, error) {
	if r.primaryName != "" {
		return r.registry.Get(r.primaryName)
	}
	return r.registry.Default()
}

func (r *Router) fallback() (Provider, bool) {
	if r.fallbackName == "" {
		return nil, false
	}
	p, err := r.registry.Get(r.fallbackName)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Chat sends req to the primary provider, falling back to the
// configured fallback provider on any error. The returned response's
// Usage, if present, is accumulated into the Router's running totals.
func (r *Router) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	primary, err := r.primary()
	if err != nil {
		return nil, fmt.Errorf("providers: router has no primary provider: %w", err)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		r.trackUsage(resp)
		return resp, nil
	}
	slog.Warn("router.primary_llm_failed", "provider", primary.Name(), "error", err)

	if fb, ok := r.fallback(); ok {
		slog.Info("router.trying_fallback_llm", "provider", fb.Name())
		resp, fbErr := fb.Chat(ctx, req)
		if fbErr == nil {
			r.trackUsage(resp)
			return resp, nil
		}
		slog.Error("router.fallback_llm_failed", "provider", fb.Name(), "error", fbErr)
	}

	return nil, &ErrAllProvidersFailed{Primary: err}
}

// ChatStream streams req from the primary provider, falling back to the
// configured fallback provider if the primary call fails to even start
// streaming. Partial output already emitted from a stream that fails
// mid-flight is not retried — this mirrors the Python reference, which
// does not restart a stream after the first chunk.
func (r *Router) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	primary, err := r.primary()
	if err != nil {
		return nil, fmt.Errorf("providers: router has no primary provider: %w", err)
	}

	started := false
	resp, err := primary.ChatStream(ctx, req, func(c StreamChunk) {
		started = true
		onChunk(c)
	})
	if err == nil {
		r.trackUsage(resp)
		return resp, nil
	}
	slog.Warn("router.primary_llm_stream_failed", "provider", primary.Name(), "error", err)
	if started {
		return nil, &ErrAllProvidersFailed{Primary: err}
	}

	if fb, ok := r.fallback(); ok {
		slog.Info("router.trying_fallback_llm_stream", "provider", fb.Name())
		resp, fbErr := fb.ChatStream(ctx, req, onChunk)
		if fbErr == nil {
			r.trackUsage(resp)
			return resp, nil
		}
		slog.Error("router.fallback_llm_stream_failed", "provider", fb.Name(), "error", fbErr)
	}

	return nil, &ErrAllProvidersFailed{Primary: err}
}

func (r *Router) trackUsage(resp *ChatResponse) {
	if resp == nil || resp.Usage == nil {
		return
	}
	r.totalInputTokens += int64(resp.Usage.PromptTokens)
	r.totalOutputTokens += int64(resp.Usage.CompletionTokens)
}

// UsageSummary reports cumulative token counts tracked across every
// Chat/ChatStream call this Router has made since construction. Cost is
// tracked separately per-call by the caller (the Agent Brain persists it
// to the Memory Store), since only the caller knows per-request pricing
// context (channel, skill, conversation).
func (r *Router) UsageSummary() (inputTokens, outputTokens int64) {
	return r.totalInputTokens, r.totalOutputTokens
}
