package vault

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestInitializeUnlockRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")
	v := New(path)

	if v.IsInitialized() {
		t.Fatal("new vault path should not be initialized")
	}
	if err := v.Initialize("correct horse battery staple"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !v.IsInitialized() {
		t.Fatal("expected vault file to exist after Initialize")
	}

	if err := v.Set("ANTHROPIC_API_KEY", "sk-ant-secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v.Lock()
	if !v.IsLocked() {
		t.Fatal("expected locked vault")
	}

	v2 := New(path)
	if err := v2.Unlock("correct horse battery staple"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, err := v2.Get("ANTHROPIC_API_KEY")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-ant-secret" {
		t.Fatalf("got %q, want sk-ant-secret", got)
	}
}

func TestUnlockWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")
	v := New(path)
	if err := v.Initialize("right-password"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v.Lock()

	v2 := New(path)
	err := v2.Unlock("wrong-password")
	if !errors.Is(err, ErrBadPassword) {
		t.Fatalf("got %v, want ErrBadPassword", err)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")
	v := New(path)
	if err := v.Initialize("pw"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := v.Initialize("pw"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
}

func TestOperationsRequireUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")
	v := New(path)
	if err := v.Initialize("pw"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v.Lock()

	if _, err := v.Get("x"); !errors.Is(err, ErrLocked) {
		t.Fatalf("Get: got %v, want ErrLocked", err)
	}
	if err := v.Set("x", "y"); !errors.Is(err, ErrLocked) {
		t.Fatalf("Set: got %v, want ErrLocked", err)
	}
	if _, err := v.Delete("x"); !errors.Is(err, ErrLocked) {
		t.Fatalf("Delete: got %v, want ErrLocked", err)
	}
}

func TestDeleteAndListKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.age")
	v := New(path)
	if err := v.Initialize("pw"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_ = v.Set("A", "1")
	_ = v.Set("B", "2")

	keys, err := v.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}

	deleted, err := v.Delete("A")
	if err != nil || !deleted {
		t.Fatalf("Delete A: deleted=%v err=%v", deleted, err)
	}
	if ok, _ := v.Has("A"); ok {
		t.Fatal("A should be gone")
	}
	deleted, err = v.Delete("missing")
	if err != nil || deleted {
		t.Fatalf("Delete missing: deleted=%v err=%v", deleted, err)
	}
}

func TestUnlockMissingVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.age")
	v := New(path)
	if err := v.Unlock("pw"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
