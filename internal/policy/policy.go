// Package policy implements the per-action authorization decision that
// gates every tool call: given what the agent wants to do and at what
// autonomy level, decide ALLOW, DENY, or ASK_USER.
//
// This is distinct from the tool-definition filtering the tools package's
// PolicyEngine performs (which tool schemas the LLM even sees). Policy
// decides whether one already-selected call is allowed to run.
package policy

import (
	"regexp"
	"strings"
)

// Decision is the verdict a Rule or the Engine returns for one action.
type Decision string

const (
	Allow    Decision = "allow"
	Deny     Decision = "deny"
	AskUser  Decision = "ask_user"
	NoVerdict Decision = "" // rule abstains; chain continues
)

// Context describes the action being authorized.
type Context struct {
	Action       string // e.g. "shell_exec", "file_write", "http_request"
	Resource     string // command string, path, or URL depending on Action
	AutonomyLevel int    // 0 (fully supervised) .. 4 (fully autonomous)
	Channel      string
	UserID       string
}

// Verdict is the engine's final answer for one Context.
type Verdict struct {
	Decision Decision
	Reason   string
	Policy   string // name of the rule that produced the decision
}

// Rule evaluates a Context and either returns a verdict or abstains by
// returning Decision == NoVerdict, letting the next rule in the chain run.
type Rule interface {
	Name() string
	Evaluate(ctx Context) Verdict
}

// Engine runs an ordered chain of rules and returns the first non-abstaining
// verdict. If every rule abstains, the default is DENY.
type Engine struct {
	rules []Rule
}

// NewEngine builds the engine with the standard rule chain:
// hard-deny → credential access → autonomy gate → file access → network
// access → shell commands.
// Each is deliberately ordered so the most universally dangerous checks
// run first and cannot be shadowed by a later, more permissive rule.
func NewEngine() *Engine {
	return &Engine{
		rules: []Rule{
			HardDenyRule{},
			CredentialAccessRule{},
			AutonomyRule{},
			FileAccessRule{},
			NetworkRule{},
			ShellRule{},
		},
	}
}

// NewEngineWithRules builds an engine from a caller-supplied rule chain,
// useful for tests and for agents with a custom policy set.
func NewEngineWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs the chain and returns the first verdict reached, or a
// default DENY if every rule abstains.
func (e *Engine) Evaluate(ctx Context) Verdict {
	for _, rule := range e.rules {
		v := rule.Evaluate(ctx)
		if v.Decision != NoVerdict {
			if v.Policy == "" {
				v.Policy = rule.Name()
			}
			return v
		}
	}
	return Verdict{Decision: Deny, Reason: "no policy matched; default deny", Policy: "default_deny"}
}

// ── HardDenyRule: absolute deny regardless of autonomy level ──

var hardDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`(?i)rm\s+-rf\s+/\*`),
	regexp.MustCompile(`(?i):(){ :|:& };:`), // fork bomb
	regexp.MustCompile(`(?i)mkfs\.`),
	regexp.MustCompile(`(?i)dd\s+if=.*of=/dev/(sd|nvme|disk)`),
	regexp.MustCompile(`(?i)>\s*/dev/(sd|nvme|disk)`),
	regexp.MustCompile(`(?i)chmod\s+-R\s+777\s+/`),
	regexp.MustCompile(`(?i)curl.*\|\s*(sudo\s+)?bash`),
	regexp.MustCompile(`(?i)wget.*\|\s*(sudo\s+)?sh`),
}

var sensitiveFileSubstrings = []string{
	".ssh", ".gnupg", ".aws", ".azure", ".gcloud", ".env",
	"credentials", ".gitconfig", "vault.age", "id_rsa", "id_ed25519",
	".npmrc", ".pypirc",
}

// HardDenyRule refuses categorically dangerous actions no matter the
// autonomy level or explicit user request: destructive shell patterns,
// and any file operation touching a sensitive path. It runs first so no
// later, more permissive rule can shadow it.
type HardDenyRule struct{}

func (HardDenyRule) Name() string { return "hard_deny" }

func (HardDenyRule) Evaluate(ctx Context) Verdict {
	switch ctx.Action {
	case "shell_exec":
		for _, re := range hardDenyPatterns {
			if re.MatchString(ctx.Resource) {
				return Verdict{Decision: Deny, Reason: "matches a hard-denied destructive pattern"}
			}
		}
	case "file_read", "file_write", "file_delete":
		lower := strings.ToLower(ctx.Resource)
		for _, sensitive := range sensitiveFileSubstrings {
			if strings.Contains(lower, sensitive) {
				return Verdict{Decision: Deny, Reason: "access to sensitive path: " + sensitive}
			}
		}
	}
	return Verdict{}
}

// ── CredentialAccessRule: always asks, no matter the autonomy level ──

// CredentialAccessRule makes reading or exporting a credential (vault
// secret, API key, session token) a standing exception to autonomy:
// there is no autonomy level at which the agent may do this unattended.
type CredentialAccessRule struct{}

func (CredentialAccessRule) Name() string { return "credential_access" }

func (CredentialAccessRule) Evaluate(ctx Context) Verdict {
	if ctx.Action != "credential_access" {
		return Verdict{}
	}
	return Verdict{Decision: AskUser, Reason: "credential access always requires explicit user confirmation"}
}

// ── AutonomyRule: gates action categories by autonomy level ──

// Action categories for the autonomy table. Read-ish actions clear at
// level 1, non-destructive writes at 2, shell/network at 3, destructive
// operations at 4. Level 0 asks before every action.
const (
	categoryRead        = "read"
	categoryWrite       = "write"
	categoryShellNet    = "shell_net"
	categoryDestructive = "destructive"
)

// autonomyAllowedAt is the minimum level at which a category runs
// unattended; below it, the user is asked.
var autonomyAllowedAt = map[string]int{
	categoryRead:        1,
	categoryWrite:       2,
	categoryShellNet:    3,
	categoryDestructive: 4,
}

func actionCategory(action string) string {
	switch action {
	case "file_read":
		return categoryRead
	case "file_write", "send_message", "skill_execute":
		return categoryWrite
	case "shell_exec", "http_request":
		return categoryShellNet
	case "file_delete":
		return categoryDestructive
	}
	if strings.HasPrefix(action, "network_") {
		return categoryShellNet
	}
	return ""
}

// hasSpecializedRule reports whether a later rule in the chain owns the
// terminal allow/deny for this action (file, network, shell). For those
// the autonomy gate abstains on a cleared level so the specific rule can
// still deny; everything else it allows outright.
func hasSpecializedRule(action string) bool {
	switch action {
	case "file_read", "file_write", "file_delete", "shell_exec", "http_request":
		return true
	}
	return strings.HasPrefix(action, "network_")
}

// AutonomyRule asks the user for any action its category's level doesn't
// clear. On a cleared level it abstains for actions the file/network/
// shell rules below refine, and allows the rest.
type AutonomyRule struct{}

func (AutonomyRule) Name() string { return "autonomy" }

func (AutonomyRule) Evaluate(ctx Context) Verdict {
	if ctx.AutonomyLevel <= 0 {
		return Verdict{
			Decision: AskUser,
			Reason:   "autonomy level 0 asks before every action",
		}
	}

	category := actionCategory(ctx.Action)
	if category == "" {
		return Verdict{}
	}
	if ctx.AutonomyLevel < autonomyAllowedAt[category] {
		return Verdict{
			Decision: AskUser,
			Reason:   "action requires autonomy level " + levelString(autonomyAllowedAt[category]) + ", current is " + levelString(ctx.AutonomyLevel),
		}
	}
	if hasSpecializedRule(ctx.Action) {
		return Verdict{}
	}
	return Verdict{Decision: Allow, Reason: "cleared by autonomy level " + levelString(ctx.AutonomyLevel)}
}

func levelString(l int) string {
	const digits = "0123456789"
	if l < 0 || l > 9 {
		return "?"
	}
	return string(digits[l])
}

// ── FileAccessRule ──

var systemPathPrefixes = []string{
	"/etc/", "/usr/", "/bin/", "/sbin/",
	`c:\windows\`, `c:\program files`,
}

// FileAccessRule denies file operations against system directories and
// traversal attempts, and otherwise allows what the autonomy gate let
// through. Sensitive user paths (.ssh and friends) never reach this rule
// — HardDenyRule catches them first.
type FileAccessRule struct{}

func (FileAccessRule) Name() string { return "file_access" }

func (FileAccessRule) Evaluate(ctx Context) Verdict {
	switch ctx.Action {
	case "file_read", "file_write", "file_delete":
	default:
		return Verdict{}
	}

	lower := strings.ToLower(ctx.Resource)
	for _, prefix := range systemPathPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return Verdict{Decision: Deny, Reason: "access to system path: " + prefix}
		}
	}
	if strings.Contains(ctx.Resource, "..") {
		return Verdict{Decision: Deny, Reason: "path traversal in resource"}
	}
	return Verdict{Decision: Allow, Reason: "within allowed file access"}
}

// ── NetworkRule ──

var blockedNetworkHosts = []string{
	"169.254.169.254",
	"metadata.google.internal",
	"100.100.100.200",
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
	"[::1]",
}

// NetworkRule blocks SSRF-prone destinations for http_request actions.
type NetworkRule struct{}

func (NetworkRule) Name() string { return "network" }

func (NetworkRule) Evaluate(ctx Context) Verdict {
	if ctx.Action != "http_request" {
		return Verdict{}
	}
	lower := strings.ToLower(ctx.Resource)
	for _, host := range blockedNetworkHosts {
		if strings.Contains(lower, host) {
			return Verdict{Decision: Deny, Reason: "destination blocked (SSRF prevention): " + host}
		}
	}
	return Verdict{Decision: Allow, Reason: "destination not blocked"}
}

// ── ShellRule ──

// shellAskPatterns match commands that are reversible or commonly
// legitimate but still change system state in a way the user should
// confirm rather than have silently denied — privilege elevation,
// package installation, and force-pushing history.
var shellAskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsudo\b`),
	regexp.MustCompile(`(?i)\b(apt|apt-get|yum|dnf|brew)\s+install\b`),
	regexp.MustCompile(`(?i)\bdocker\s+(run|exec)\b`),
	regexp.MustCompile(`(?i)\bgit\s+push\b.*--force`),
}

var shellDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsu\s+-`),
	regexp.MustCompile(`(?i)crontab\s+-r`),
	regexp.MustCompile(`(?i)history\s+-c`),
	regexp.MustCompile(`(?i)shutdown|reboot|halt`),
}

// ShellRule is the last, most specific stage for shell_exec: it asks the
// user for commands that are risky-but-routine, denies a smaller list of
// commands that are risky without being categorically hard-denied, and
// allows everything else (the sandbox and input validator remain as
// defense-in-depth for what it lets through).
type ShellRule struct{}

func (ShellRule) Name() string { return "shell" }

func (ShellRule) Evaluate(ctx Context) Verdict {
	if ctx.Action != "shell_exec" {
		return Verdict{}
	}
	for _, re := range shellAskPatterns {
		if re.MatchString(ctx.Resource) {
			return Verdict{Decision: AskUser, Reason: "command requires user confirmation before running"}
		}
	}
	for _, re := range shellDenyPatterns {
		if re.MatchString(ctx.Resource) {
			return Verdict{Decision: Deny, Reason: "command matches shell deny-list"}
		}
	}
	return Verdict{Decision: Allow, Reason: "command not on deny-list"}
}
