// Package skillverify checks whether a skill is trusted before the agent
// loop will load it: built-in skills are trusted by path, third-party
// skills must match a known-good SHA-256 hash.
package skillverify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// builtinPrefix is the path segment that marks a skill as shipped with
// the platform rather than installed from a third-party source.
const builtinPrefix = "skills/builtin/"

// Verifier checks skill trust, either by built-in path or by a
// pre-registered content hash.
type Verifier struct {
	trustedHashes map[string]string // skill path -> expected sha256 hex
}

// NewVerifier returns a Verifier with no third-party hashes trusted yet.
func NewVerifier() *Verifier {
	return &Verifier{trustedHashes: map[string]string{}}
}

// TrustHash registers the expected SHA-256 hash for a third-party skill
// path, to be checked on every subsequent VerifySkillFile call for that
// path.
func (v *Verifier) TrustHash(skillPath, sha256Hex string) {
	v.trustedHashes[filepath.Clean(skillPath)] = strings.ToLower(sha256Hex)
}

// VerifyBuiltin reports whether skillPath is under the built-in skills
// directory and therefore implicitly trusted.
func VerifyBuiltin(skillPath string) bool {
	cleaned := filepath.ToSlash(filepath.Clean(skillPath))
	return strings.Contains(cleaned, builtinPrefix)
}

// VerifySkillFile verifies a skill file's content against expectedHash
// (hex-encoded SHA-256). If expectedHash is empty, it falls back to a
// previously registered TrustHash for the same path. Built-in skills are
// always trusted without a hash check.
func (v *Verifier) VerifySkillFile(skillPath, expectedHash string) (bool, error) {
	if VerifyBuiltin(skillPath) {
		return true, nil
	}

	want := strings.ToLower(expectedHash)
	if want == "" {
		want = v.trustedHashes[filepath.Clean(skillPath)]
	}
	if want == "" {
		return false, nil
	}

	got, err := computeHash(skillPath)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// ComputeHash returns the hex-encoded SHA-256 of the file at skillPath,
// for operators registering a new trusted skill.
func ComputeHash(skillPath string) (string, error) {
	return computeHash(skillPath)
}

func computeHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("skillverify: open: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("skillverify: hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
