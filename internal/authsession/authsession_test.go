package authsession

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestProvisionAndVerifyTOTP(t *testing.T) {
	m := New("", time.Hour)
	if m.HasSecret() {
		t.Fatal("fresh manager should have no secret")
	}

	secret, uri, err := m.ProvisionTOTP("gulama-gateway", "admin")
	if err != nil {
		t.Fatalf("ProvisionTOTP: %v", err)
	}
	if secret == "" || uri == "" {
		t.Fatal("expected non-empty secret and uri")
	}
	if !m.HasSecret() {
		t.Fatal("expected HasSecret true after provisioning")
	}

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	token, err := m.VerifyTOTP(code, "test-agent")
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if len(token) != TokenBytes*2 {
		t.Fatalf("token length = %d, want %d", len(token), TokenBytes*2)
	}
}

func TestVerifyTOTPRejectsBadCode(t *testing.T) {
	m := New("", time.Hour)
	if _, _, err := m.ProvisionTOTP("gulama-gateway", "admin"); err != nil {
		t.Fatalf("ProvisionTOTP: %v", err)
	}
	if _, err := m.VerifyTOTP("000000", "ua"); err == nil {
		t.Fatal("expected error for implausible code")
	}
}

func TestVerifyTOTPWithoutSecret(t *testing.T) {
	m := New("", time.Hour)
	if _, err := m.VerifyTOTP("123456", "ua"); err != ErrNoSecret {
		t.Fatalf("got %v, want ErrNoSecret", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := New("", time.Hour)
	secret, _, _ := m.ProvisionTOTP("gulama-gateway", "admin")
	code, _ := totp.GenerateCode(secret, time.Now().UTC())
	token, err := m.VerifyTOTP(code, "ua")
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}

	sess, err := m.VerifySession(token)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if sess.Token != token {
		t.Fatalf("session token mismatch")
	}
	if m.ActiveSessionCount() != 1 {
		t.Fatalf("expected 1 active session, got %d", m.ActiveSessionCount())
	}

	m.RevokeSession(token)
	if _, err := m.VerifySession(token); err != ErrSessionExpired {
		t.Fatalf("got %v, want ErrSessionExpired after revoke", err)
	}
}

func TestSessionIdleTimeoutExpires(t *testing.T) {
	m := New("", time.Millisecond)
	secret, _, _ := m.ProvisionTOTP("gulama-gateway", "admin")
	code, _ := totp.GenerateCode(secret, time.Now().UTC())
	token, err := m.VerifyTOTP(code, "ua")
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := m.VerifySession(token); err != ErrSessionExpired {
		t.Fatalf("got %v, want ErrSessionExpired after idle timeout", err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	m := New("", time.Hour)
	secret, _, _ := m.ProvisionTOTP("gulama-gateway", "admin")
	code, _ := totp.GenerateCode(secret, time.Now().UTC())
	token, _ := m.VerifyTOTP(code, "ua")

	m.RevokeAllSessions()
	if _, err := m.VerifySession(token); err != ErrSessionExpired {
		t.Fatalf("got %v, want ErrSessionExpired after RevokeAllSessions", err)
	}
}

func TestHashTokenIsShortAndStable(t *testing.T) {
	h1 := HashToken("abc123")
	h2 := HashToken("abc123")
	if h1 != h2 {
		t.Fatal("HashToken should be deterministic")
	}
	if len(h1) != 12 {
		t.Fatalf("HashToken length = %d, want 12", len(h1))
	}
	if h1 == "abc123" {
		t.Fatal("HashToken must not return the raw token")
	}
}
