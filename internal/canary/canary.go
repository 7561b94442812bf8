// Package canary implements prompt and tool-output canary tokens: unique,
// high-entropy markers injected into prompts and tool results so that if
// an untrusted document later tries to exfiltrate or repeat them, the
// leak is detectable at the egress boundary.
package canary

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// prefix brackets every canary with zero-width characters so it is
// invisible in rendered text but still byte-for-byte greppable in raw
// output and egress payloads.
const prefix = "​‌‍"

// tokenLength is the number of random bytes hex-encoded into each token.
const tokenLength = 16

// Severity classifies how serious a detected canary trigger is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
)

// Token is one issued canary: a unique marker plus the purpose it was
// issued for.
type Token struct {
	Value     string
	Purpose   string
	CreatedAt time.Time
	Triggered bool
}

// Alert records a canary found somewhere it shouldn't be.
type Alert struct {
	Canary    string
	FoundIn   string
	Context   string
	Severity  Severity
	Timestamp time.Time
}

// System tracks every canary issued during a session and the alerts
// raised when one of them turns up in a response or an egress payload.
type System struct {
	mu     sync.Mutex
	tokens map[string]*Token
	alerts []Alert
}

// NewSystem returns an empty canary tracking system.
func NewSystem() *System {
	return &System{tokens: map[string]*Token{}}
}

// Generate mints a new canary token for purpose ("prompt", "tool_output",
// "task", ...) and records it for later matching.
func (s *System) Generate(purpose string) (Token, error) {
	raw := make([]byte, tokenLength)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, fmt.Errorf("canary: generate: %w", err)
	}
	tok := Token{Value: hex.EncodeToString(raw), Purpose: purpose, CreatedAt: time.Now()}

	s.mu.Lock()
	s.tokens[tok.Value] = &tok
	s.mu.Unlock()

	return tok, nil
}

// InjectPrompt appends a "prompt" canary to prompt text, returning the
// augmented text and the token that was embedded.
func (s *System) InjectPrompt(prompt string) (string, Token, error) {
	tok, err := s.Generate("prompt")
	if err != nil {
		return prompt, Token{}, err
	}
	marked := prompt + "\n" + prefix + tok.Value + prefix
	return marked, tok, nil
}

// InjectToolOutput appends a "tool_output" canary to a tool's output,
// returning the augmented text and the token embedded.
func (s *System) InjectToolOutput(output string) (string, Token, error) {
	tok, err := s.Generate("tool_output")
	if err != nil {
		return output, Token{}, err
	}
	marked := output + "\n" + prefix + tok.Value + prefix
	return marked, tok, nil
}

// TaskDigest returns a stable identifier for a task description, used to
// correlate a delegated sub-agent's canary back to the task that spawned
// it without storing the task text itself.
func TaskDigest(taskDescription string) string {
	sum := sha256.Sum256([]byte(taskDescription))
	return hex.EncodeToString(sum[:])
}

// CheckResponse scans an LLM response for any issued canary. Severity is
// critical when the leaked canary was a "prompt" canary (meaning the
// system prompt itself was echoed back), high otherwise.
func (s *System) CheckResponse(response string) []Alert {
	return s.check(response, "llm_response", func(tok *Token) Severity {
		if tok.Purpose == "prompt" {
			return SeverityCritical
		}
		return SeverityHigh
	})
}

// CheckEgress scans an outbound payload for any issued canary. Any match
// here means data is leaving the system carrying a canary-tagged
// document, which is always treated as critical.
func (s *System) CheckEgress(data string) []Alert {
	return s.check(data, "egress", func(*Token) Severity { return SeverityCritical })
}

func (s *System) check(text, foundIn string, severityFor func(*Token) Severity) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var alerts []Alert
	for value, tok := range s.tokens {
		if strings.Contains(text, value) {
			tok.Triggered = true
			alert := Alert{
				Canary:    value,
				FoundIn:   foundIn,
				Context:   excerptAround(text, value),
				Severity:  severityFor(tok),
				Timestamp: time.Now(),
			}
			alerts = append(alerts, alert)
			s.alerts = append(s.alerts, alert)
		}
	}
	return alerts
}

// excerptAround returns up to 40 characters of context on either side of
// needle's first occurrence in text, for audit logging.
func excerptAround(text, needle string) string {
	idx := strings.Index(text, needle)
	if idx < 0 {
		return ""
	}
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(needle) + 40
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// Alerts returns every alert raised so far.
func (s *System) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Clear discards every issued token and recorded alert, e.g. between
// conversations.
func (s *System) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = map[string]*Token{}
	s.alerts = nil
}

// injectionPattern is one named prompt-injection detector applied to text
// that an agent is about to treat as trusted input (tool output, fetched
// documents, delegated sub-agent results).
type injectionPattern struct {
	name string
	re   *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{"instruction_override", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions?`)},
	{"role_hijack", regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s+\w+`)},
	{"system_prompt_injection", regexp.MustCompile(`(?i)system\s*:\s*you\s+(must|should|will)`)},
	{"xml_tag_injection", regexp.MustCompile(`(?i)</?(system|assistant|user)>`)},
	{"priority_injection", regexp.MustCompile(`(?i)\bpriority\s+override\b`)},
	{"memory_wipe_attempt", regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you|i)\s+(know|said|told)`)},
	{"rule_bypass", regexp.MustCompile(`(?i)bypass\s+(your|all|any)\s+(rules?|restrictions?|guidelines?)`)},
	{"prompt_extraction", regexp.MustCompile(`(?i)(reveal|print|repeat|output)\s+(your\s+)?(system\s+prompt|instructions)`)},
	{"llm_delimiter_injection", regexp.MustCompile(`(?i)\[/?(inst|s)\]`)},
	{"conversation_injection", regexp.MustCompile(`(?i)^(user|assistant|human|ai)\s*:`)},
}

// DetectInjectionPatterns flags text that resembles a prompt-injection
// attempt, for example in content an agent is about to ingest from an
// untrusted tool result. It never blocks by itself — callers decide what
// to do with the matched pattern names.
func DetectInjectionPatterns(text string) []string {
	var hits []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			hits = append(hits, p.name)
		}
	}
	return hits
}
