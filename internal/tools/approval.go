package tools

import (
	"context"
	"time"

	"github.com/san-techie21/gulama-gateway/internal/policy"
)

// ApprovalDecision is a human operator's answer to a pending ask_user
// approval request.
type ApprovalDecision string

const (
	ApprovalAllow ApprovalDecision = "allow"
	ApprovalDeny  ApprovalDecision = "deny"
)

// ApprovalRequestFunc asks a human for a yes/no decision on one pending
// command, returning once the operator answers or ctx's deadline passes.
// It is supplied by whatever surface can actually reach the user (the
// gateway's websocket channel, a CLI prompt, ...).
type ApprovalRequestFunc func(ctx context.Context, command, agentID string) (ApprovalDecision, error)

// ExecApprovalManager evaluates a shell command against the policy engine
// and, for commands the engine says require confirmation, blocks until a
// human operator approves or denies it.
type ExecApprovalManager struct {
	engine  *policy.Engine
	request ApprovalRequestFunc
}

// NewExecApprovalManager returns a manager that checks commands against
// engine and asks via request when the engine's verdict is ask_user. A nil
// request fails closed: any command requiring approval is denied, since
// there is nobody to ask.
func NewExecApprovalManager(engine *policy.Engine, request ApprovalRequestFunc) *ExecApprovalManager {
	return &ExecApprovalManager{engine: engine, request: request}
}

// CheckCommand returns "deny", "ask", or "allow" for command, evaluated at
// the highest autonomy level so only categorical denies and standing
// ask_user rules (sudo, credential access, ...) trigger here — per-agent
// autonomy gating happens earlier in the registry's own policy check.
func (m *ExecApprovalManager) CheckCommand(command string) string {
	if m.engine == nil {
		return "allow"
	}
	v := m.engine.Evaluate(policy.Context{Action: "shell_exec", Resource: command, AutonomyLevel: 4})
	switch v.Decision {
	case policy.Deny:
		return "deny"
	case policy.AskUser:
		return "ask"
	default:
		return "allow"
	}
}

// RequestApproval blocks until a human operator answers, timeout elapses,
// or the configured request hook is unset, in which case it denies.
func (m *ExecApprovalManager) RequestApproval(command, agentID string, timeout time.Duration) (ApprovalDecision, error) {
	if m.request == nil {
		return ApprovalDeny, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.request(ctx, command, agentID)
}
