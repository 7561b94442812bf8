package skillverify

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyBuiltinByPath(t *testing.T) {
	if !VerifyBuiltin("/opt/gulama/skills/builtin/weather/skill.py") {
		t.Fatal("expected path under skills/builtin/ to be trusted")
	}
	if VerifyBuiltin("/home/user/.gulama/skills/custom/weather/skill.py") {
		t.Fatal("expected a non-builtin path to not be trusted by path alone")
	}
}

func TestVerifySkillFileMatchesExpectedHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.py")
	if err := os.WriteFile(path, []byte("print('hello')\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	hash, err := ComputeHash(path)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}

	v := NewVerifier()
	ok, err := v.VerifySkillFile(path, hash)
	if err != nil {
		t.Fatalf("VerifySkillFile: %v", err)
	}
	if !ok {
		t.Fatal("expected matching hash to verify")
	}
}

func TestVerifySkillFileRejectsTamperedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.py")
	os.WriteFile(path, []byte("original content"), 0o644)

	hash, _ := ComputeHash(path)

	os.WriteFile(path, []byte("tampered content"), 0o644)

	v := NewVerifier()
	ok, err := v.VerifySkillFile(path, hash)
	if err != nil {
		t.Fatalf("VerifySkillFile: %v", err)
	}
	if ok {
		t.Fatal("expected tampered content to fail verification")
	}
}

func TestVerifySkillFileUsesRegisteredTrustHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.py")
	os.WriteFile(path, []byte("trusted content"), 0o644)
	hash, _ := ComputeHash(path)

	v := NewVerifier()
	v.TrustHash(path, hash)

	ok, err := v.VerifySkillFile(path, "")
	if err != nil {
		t.Fatalf("VerifySkillFile: %v", err)
	}
	if !ok {
		t.Fatal("expected registered trust hash to verify without an explicit expectedHash")
	}
}

func TestVerifySkillFileNoHashAvailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.py")
	os.WriteFile(path, []byte("content"), 0o644)

	v := NewVerifier()
	ok, err := v.VerifySkillFile(path, "")
	if err != nil {
		t.Fatalf("VerifySkillFile: %v", err)
	}
	if ok {
		t.Fatal("expected verification to fail when no hash is known")
	}
}
