// Package audit implements the append-only audit trail every tool call
// passes through on its way out of the pipeline. Entries are written as
// self-contained JSON Lines so a crash or truncation mid-write can never
// corrupt an entry that was already flushed.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Entry is one audit record. Fields are deliberately flat so a reader
// can grep the file without parsing JSON.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	// Actor identifies who or what initiated the action: a user ID, an
	// agent ID, or a sub-agent delegation ID.
	Actor      string `json:"actor,omitempty"`
	Channel    string `json:"channel"`
	UserID     string `json:"user_id,omitempty"`
	Action     string `json:"action"`
	Resource   string `json:"resource,omitempty"`
	Decision   string `json:"decision"`
	Policy     string `json:"policy,omitempty"`
	Reason     string `json:"reason,omitempty"`
	// Detail carries any additional context a stage wants recorded, such
	// as a canary alert or a matched secret pattern name.
	Detail     string `json:"detail,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// redactionPatterns are applied to Resource, Reason and Detail before an entry
// is written, so a secret accidentally embedded in a command or path
// never lands on disk in the clear.
var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`sk-ant-[A-Za-z0-9\-_]{20,}`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact replaces any sensitive-pattern match in s with a placeholder.
func Redact(s string) string {
	for _, re := range redactionPatterns {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// Log is an append-only audit log backed by a directory of daily JSON
// Lines files, one file per UTC day so the audit trail never requires
// rewriting an existing file.
type Log struct {
	dir string
	mu  sync.Mutex
}

// Open returns a Log writing into dir, creating it if necessary.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Record appends one entry, redacting its Resource, Reason and Detail fields and
// stamping Timestamp if it is zero.
func (l *Log) Record(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Resource = Redact(e.Resource)
	e.Reason = Redact(e.Reason)
	e.Detail = Redact(e.Detail)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.pathForDay(e.Timestamp)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return f.Sync()
}

func (l *Log) pathForDay(t time.Time) string {
	return filepath.Join(l.dir, t.Format("2006-01-02")+".jsonl")
}

// ReadDay returns every entry recorded on the given day, tolerating a
// truncated final line (the last entry written before an unclean
// shutdown) by skipping it instead of failing the whole read.
func (l *Log) ReadDay(day time.Time) ([]Entry, error) {
	path := l.pathForDay(day)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open for read: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // truncated or corrupted line; earlier entries remain valid
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
