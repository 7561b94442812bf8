// Registry is the Tool Executor: the single path every tool call takes
// from the agent loop to the outside world. It looks a tool up by name,
// then runs the call through the defense-in-depth pipeline — input
// validation, policy authorization, the tool's own Execute, egress DLP,
// and canary-leak detection — appending one audit entry for the stage that
// decides the call (plus one more when the output scan flags a leak).
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/san-techie21/gulama-gateway/internal/audit"
	"github.com/san-techie21/gulama-gateway/internal/canary"
	"github.com/san-techie21/gulama-gateway/internal/egress"
	"github.com/san-techie21/gulama-gateway/internal/policy"
	"github.com/san-techie21/gulama-gateway/internal/providers"
	"github.com/san-techie21/gulama-gateway/internal/validate"
)

// AsyncCallback delivers a tool's result once it completes, for tools that
// return Result.Async immediately and finish out-of-band.
type AsyncCallback func(ctx context.Context, result *Result)

// Tool is anything the agent loop can call by name. Parameters returns a
// JSON-Schema-shaped object describing its arguments, used both to build
// the provider tool definition and to render help.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ToProviderDef converts a registered Tool into the wire shape a Provider
// expects in ChatRequest.Tools.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Registry holds every tool available to an agent and is the sole entry
// point for running one. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	policyEngine *policy.Engine
	validator    *validate.Validator
	canaries     *canary.System
	egressFilter *egress.Filter
	auditLog     *audit.Log
	rateLimiter  *ToolRateLimiter
	scrubbing    bool
}

// NewRegistry returns an empty Registry wired with the standard security
// pipeline: a fresh policy engine, a shared canary system, an egress
// filter backed by that canary system, and output scrubbing enabled. The
// audit log is nil until SetAuditLog is called (tool calls still run;
// they just aren't recorded until a log is attached).
func NewRegistry() *Registry {
	canaries := canary.NewSystem()
	return &Registry{
		tools:        map[string]Tool{},
		policyEngine: policy.NewEngine(),
		validator:    validate.New(),
		canaries:     canaries,
		egressFilter: egress.NewFilter(canaries),
		scrubbing:    true,
	}
}

// Register adds or replaces a tool under its own Name().
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name; a no-op if it isn't registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name, sorted for deterministic
// iteration order (matters for prompt-stability across calls).
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ProviderDefs returns every registered tool's definition in provider wire
// format, unfiltered by policy — callers that need per-agent filtering
// should go through PolicyEngine.FilterTools instead.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, name := range r.sortedNamesLocked() {
		defs = append(defs, ToProviderDef(r.tools[name]))
	}
	return defs
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetRateLimiter attaches a per-agent call-rate limit. Pass nil to disable.
func (r *Registry) SetRateLimiter(l *ToolRateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = l
}

// SetScrubbing toggles canary injection and egress scanning on tool
// output. Disabling it is only appropriate for trusted, fully local
// development setups.
func (r *Registry) SetScrubbing(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrubbing = enabled
}

// SetAuditLog attaches the audit trail every pipeline decision is recorded
// to.
func (r *Registry) SetAuditLog(l *audit.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditLog = l
}

// SetPolicyEngine overrides the default policy engine, e.g. for tests or
// an agent with a custom rule chain.
func (r *Registry) SetPolicyEngine(e *policy.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policyEngine = e
}

// Canaries returns the shared canary system, so callers can inject a
// prompt canary at conversation start and check LLM responses for leaks.
func (r *Registry) Canaries() *canary.System {
	return r.canaries
}

// Execute is the Tool Executor: it resolves name, then runs the full
// pipeline (validate → policy → Execute → egress → canary → audit)
// before returning the result to the agent loop.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	start := time.Now()
	actor := ToolAgentIDFromCtx(ctx)
	channel := ToolChannelFromCtx(ctx)
	userID := ToolUserIDFromCtx(ctx)

	tool, ok := r.Get(name)
	if !ok {
		r.record(audit.Entry{
			Actor: actor, Channel: channel, UserID: userID,
			Action: name, Decision: "deny", Policy: "unknown_tool",
			Reason: "no tool registered with this name",
		})
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if r.rateLimiter != nil && !r.rateLimiter.Allow(actor) {
		r.record(audit.Entry{
			Actor: actor, Channel: channel, UserID: userID,
			Action: name, Decision: "deny", Policy: "rate_limit",
			Reason: "per-agent tool call rate exceeded",
		})
		return ErrorResult("rate limit exceeded for tool calls; try again later")
	}

	resource := resourceFor(name, args)

	if reason, ok := r.validateInput(name, resource); !ok {
		r.record(audit.Entry{
			Actor: actor, Channel: channel, UserID: userID,
			Action: name, Resource: resource, Decision: "deny", Policy: "input_validation",
			Reason: reason, DurationMs: time.Since(start).Milliseconds(),
		})
		return ErrorResult(fmt.Sprintf("rejected by input validation: %s", reason))
	}

	pctx := policy.Context{
		Action:        actionFor(name),
		Resource:      resource,
		AutonomyLevel: AutonomyLevelFromCtx(ctx),
		Channel:       channel,
		UserID:        userID,
	}
	verdict := r.policyEngine.Evaluate(pctx)
	switch verdict.Decision {
	case policy.Deny:
		r.record(audit.Entry{
			Actor: actor, Channel: channel, UserID: userID,
			Action: name, Resource: resource, Decision: "deny", Policy: verdict.Policy,
			Reason: verdict.Reason, DurationMs: time.Since(start).Milliseconds(),
		})
		return ErrorResult(fmt.Sprintf("denied by policy %s: %s", verdict.Policy, verdict.Reason))
	case policy.AskUser:
		r.record(audit.Entry{
			Actor: actor, Channel: channel, UserID: userID,
			Action: name, Resource: resource, Decision: "ask_user", Policy: verdict.Policy,
			Reason: verdict.Reason, DurationMs: time.Since(start).Milliseconds(),
		})
		return ErrorResult(fmt.Sprintf("requires user confirmation (%s): %s", verdict.Policy, verdict.Reason))
	}

	result := tool.Execute(ctx, args)

	if r.scrubbing && result != nil && !result.IsError {
		result.ForLLM = r.scrub(ctx, name, result.ForLLM)
	}

	r.record(audit.Entry{
		Actor: actor, Channel: channel, UserID: userID,
		Action: name, Resource: resource, Decision: "allow", Policy: verdict.Policy,
		DurationMs: time.Since(start).Milliseconds(),
	})
	return result
}

// ExecuteWithContext is a convenience wrapper around Execute for callers
// (the agent loop) that carry channel/chat/session identity as plain
// strings rather than an already-populated context.Context. asyncCB, if
// non-nil, is attached so a tool that returns Result.Async can deliver its
// real result out-of-band once it finishes.
func (r *Registry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID, peerKind, sessionKey string, asyncCB AsyncCallback) *Result {
	ctx = WithToolChannel(ctx, channel)
	ctx = WithToolChatID(ctx, chatID)
	ctx = WithToolPeerKind(ctx, peerKind)
	if sessionKey != "" {
		ctx = WithToolSandboxKey(ctx, sessionKey)
	}
	if asyncCB != nil {
		ctx = WithToolAsyncCB(ctx, asyncCB)
	}
	return r.Execute(ctx, name, args)
}

// validateInput runs the one input-validator method appropriate for name's
// resource kind. Tools with no specific validator (e.g. memory_search) are
// passed through unchecked here — they still go through policy.
func (r *Registry) validateInput(name, resource string) (string, bool) {
	switch actionFor(name) {
	case "shell_exec":
		res := r.validator.ValidateCommand(resource)
		if !res.Valid {
			return res.BlockedReason, false
		}
	case "file_read", "file_write", "file_delete":
		res := r.validator.ValidatePath(resource)
		if !res.Valid {
			return res.BlockedReason, false
		}
	case "http_request":
		res := r.validator.ValidateURL(resource)
		if !res.Valid {
			return res.BlockedReason, false
		}
	case "send_message":
		res := r.validator.ValidateMessage(resource)
		if !res.Valid {
			return res.BlockedReason, false
		}
	}
	return "", true
}

// scrub applies the egress DLP filter and canary-leak check to a tool's
// output, recording a dedicated audit entry if either catches something.
// It never blocks the result from reaching the agent (the agent needs to
// see tool output to reason about it) — it only records the finding so
// the leak is visible in the audit trail before the response ever reaches
// egress over the network.
func (r *Registry) scrub(ctx context.Context, name, output string) string {
	marked, _, err := r.canaries.InjectToolOutput(output)
	if err != nil {
		slog.Warn("canary injection failed", "tool", name, "error", err)
		marked = output
	}

	decision := r.egressFilter.CheckData(output)
	if !decision.Allowed {
		r.record(audit.Entry{
			Actor: ToolAgentIDFromCtx(ctx), Channel: ToolChannelFromCtx(ctx), UserID: ToolUserIDFromCtx(ctx),
			Action: name, Decision: "flagged", Policy: "egress_dlp",
			Reason: decision.Reason, Detail: fmt.Sprintf("matched=%v canaries=%d", decision.MatchedSecrets, len(decision.CanaryAlerts)),
		})
	}
	return marked
}

func (r *Registry) record(e audit.Entry) {
	if r.auditLog == nil {
		return
	}
	if err := r.auditLog.Record(e); err != nil {
		slog.Warn("audit log write failed", "error", err)
	}
}

// actionFor maps a tool's canonical name to the policy-engine action
// category it belongs to. Tools not listed here fall back to
// "skill_execute", which the autonomy gate treats as a non-destructive
// write (ask below level 2).
var toolActions = map[string]string{
	"exec":          "shell_exec",
	"read_file":     "file_read",
	"list_files":    "file_read",
	"glob":          "file_read",
	"search":        "file_read",
	"write_file":    "file_write",
	"edit_file":     "file_write",
	"edit":          "file_write",
	"delete_file":   "file_delete",
	"web_fetch":     "http_request",
	"browser":       "http_request",
	"message":       "send_message",
	"sessions_send": "send_message",
	"credential":    "credential_access",
}

func actionFor(toolName string) string {
	if a, ok := toolActions[toolName]; ok {
		return a
	}
	return "skill_execute"
}

// resourceKeys lists the argument keys, in priority order, that carry the
// resource a tool acts on (a path, a command, a URL, a recipient).
var resourceKeys = []string{"command", "path", "file_path", "url", "to", "recipient", "chat_id", "target"}

func resourceFor(toolName string, args map[string]interface{}) string {
	for _, key := range resourceKeys {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
