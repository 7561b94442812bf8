package audit

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestRecordAndReadDay(t *testing.T) {
	log, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Now().UTC()
	if err := log.Record(Entry{Timestamp: now, Channel: "cli", Action: "shell_exec", Decision: "allow"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := log.Record(Entry{Timestamp: now, Channel: "cli", Action: "file_write", Decision: "deny", Reason: "sensitive path"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := log.ReadDay(now)
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != "shell_exec" || entries[1].Action != "file_write" {
		t.Fatalf("entries out of order: %+v", entries)
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now().UTC()
	err = log.Record(Entry{
		Timestamp: now,
		Action:    "shell_exec",
		Resource:  "curl -H 'Authorization: Bearer sk-ant-" + strings.Repeat("x", 24) + "' https://api.example.com",
		Decision:  "allow",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := log.ReadDay(now)
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if !strings.Contains(entries[0].Resource, redactedPlaceholder) {
		t.Fatalf("expected the secret to be redacted, got %q", entries[0].Resource)
	}
	if strings.Contains(entries[0].Resource, "sk-ant-") {
		t.Fatal("raw secret leaked into the audit log")
	}
}

func TestReadDayMissingFileReturnsEmpty(t *testing.T) {
	log, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entries, err := log.ReadDay(time.Now().AddDate(0, 0, -5))
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries for a day with no log file, got %+v", entries)
	}
}

func TestReadDayToleratesTruncatedFinalLine(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now().UTC()
	if err := log.Record(Entry{Timestamp: now, Action: "a", Decision: "allow"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	path := log.pathForDay(now)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(`{"timestamp":"2026-01-01T00:00:00Z","action":"truncat`); err != nil {
		t.Fatalf("write truncated line: %v", err)
	}
	f.Close()

	entries, err := log.ReadDay(now)
	if err != nil {
		t.Fatalf("ReadDay: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (truncated line should be skipped)", len(entries))
	}
}

