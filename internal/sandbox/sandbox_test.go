package sandbox

import (
	"context"
	"errors"
	"testing"
)

func TestManagerGetDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeOff
	m := NewManager(cfg)

	_, err := m.Get(context.Background(), "session-1", t.TempDir())
	if !errors.Is(err, ErrSandboxDisabled) {
		t.Fatalf("got %v, want ErrSandboxDisabled", err)
	}
}

func TestManagerReusesInstancePerKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	m := NewManager(cfg)
	dir := t.TempDir()

	a, err := m.Get(context.Background(), "session-1", dir)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	b, err := m.Get(context.Background(), "session-1", dir)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if a != b {
		t.Fatal("expected the same sandbox instance for the same key")
	}

	c, err := m.Get(context.Background(), "session-2", dir)
	if err != nil {
		t.Fatalf("third Get: %v", err)
	}
	if a == c {
		t.Fatal("expected a distinct sandbox instance for a distinct key")
	}
}

func TestManagerSharedScopeIgnoresKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	cfg.Scope = ScopeShared
	m := NewManager(cfg)
	dir := t.TempDir()

	a, err := m.Get(context.Background(), "session-1", dir)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	b, err := m.Get(context.Background(), "session-2", dir)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if a != b {
		t.Fatal("expected the shared scope to return the same instance for any key")
	}
}

func TestIsDangerousCatchesDeniedPatterns(t *testing.T) {
	cases := []string{
		"rm -rf /",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"sudo rm important-file",
	}
	for _, c := range cases {
		if !isDangerous(c) {
			t.Errorf("expected %q to be flagged dangerous", c)
		}
	}
}

func TestIsDangerousAllowsBenignCommands(t *testing.T) {
	cases := []string{"ls -la", "cat README.md", "go build ./..."}
	for _, c := range cases {
		if isDangerous(c) {
			t.Errorf("expected %q to be allowed", c)
		}
	}
}

func TestSubprocessSandboxExecutesAndBlocksDangerous(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutSec = 5
	sb := &subprocessSandbox{baseSandbox: &baseSandbox{cfg: cfg, workingDir: t.TempDir(), backend: BackendSubprocess}}

	res, err := sb.Exec(context.Background(), []string{"sh", "-c", "echo hello"}, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("got exit code %d, want 0", res.ExitCode)
	}

	res, err = sb.Exec(context.Background(), []string{"sh", "-c", "rm -rf /"}, "")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 126 {
		t.Fatalf("expected the pre-flight check to block with exit 126, got %d", res.ExitCode)
	}
}

func TestDetectBestBackendNeverPanics(t *testing.T) {
	// Exercises whatever LookPath resolution is available on the test
	// host; the important contract is that it always returns some backend.
	b := DetectBestBackend()
	if b == "" {
		t.Fatal("expected a non-empty backend")
	}
}
