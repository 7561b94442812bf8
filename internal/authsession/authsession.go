// Package authsession implements the Gateway's TOTP bootstrap and
// session-token authentication (C14). A single administrator identity is
// supported by design — this gateway is loopback-only and single-tenant,
// never a network-exposed multi-user service (see Non-goals).
//
// The flow mirrors the reference implementation's gateway/auth.py:
// setup_totp() provisions a shared secret once, verify_totp() trades a
// valid 6-digit code for an opaque session token, and verify_session()
// checks the token against an idle timeout, refreshing last-active on
// every call. Tokens are never logged in full — only a truncated SHA-256
// hash, enough to correlate log lines without handing out a replayable
// credential.
package authsession

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TokenBytes is the amount of entropy behind each session token, matching
// the reference implementation's secrets.token_hex(32).
const TokenBytes = 32

// DefaultSessionTimeout is how long a session may sit idle before
// verify_session rejects it.
const DefaultSessionTimeout = time.Hour

var (
	ErrInvalidCode    = errors.New("authsession: invalid totp code")
	ErrSessionExpired = errors.New("authsession: session expired or unknown")
	ErrNoSecret       = errors.New("authsession: totp not yet provisioned")
)

// Session is one authenticated session's bookkeeping.
type Session struct {
	Token      string
	CreatedAt  time.Time
	LastActive time.Time
	UserAgent  string
}

// Manager issues and verifies TOTP codes and tracks active sessions
// in-process. It holds no secrets on disk itself — the TOTP seed is
// expected to live in the vault and be handed to New at startup.
type Manager struct {
	mu             sync.Mutex
	totpSecret     string
	sessionTimeout time.Duration
	sessions       map[string]*Session
}

// New constructs a Manager for an already-provisioned TOTP secret. Pass
// an empty secret if setup hasn't happened yet; ProvisionTOTP fills it
// in and the caller is responsible for persisting the returned secret to
// the vault.
func New(totpSecret string, sessionTimeout time.Duration) *Manager {
	if sessionTimeout <= 0 {
		sessionTimeout = DefaultSessionTimeout
	}
	return &Manager{
		totpSecret:     totpSecret,
		sessionTimeout: sessionTimeout,
		sessions:       make(map[string]*Session),
	}
}

// ProvisionTOTP generates a new random TOTP secret and returns both the
// raw secret (to be sealed into the vault) and its otpauth:// URI (to be
// rendered as a QR code during first-run setup). Calling this again
// rotates the secret and invalidates every existing session.
func (m *Manager) ProvisionTOTP(issuer, accountName string) (secret string, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("authsession: generate totp secret: %w", err)
	}

	m.mu.Lock()
	m.totpSecret = key.Secret()
	for k := range m.sessions {
		delete(m.sessions, k)
	}
	m.mu.Unlock()

	return key.Secret(), key.URL(), nil
}

// HasSecret reports whether a TOTP secret has been provisioned yet.
func (m *Manager) HasSecret() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totpSecret != ""
}

// VerifyTOTP checks a 6-digit code against the provisioned secret with a
// one-period skew window (±30s), matching pyotp's valid_window=1. On
// success it creates and returns a new session token.
func (m *Manager) VerifyTOTP(code, userAgent string) (string, error) {
	m.mu.Lock()
	secret := m.totpSecret
	m.mu.Unlock()

	if secret == "" {
		return "", ErrNoSecret
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return "", ErrInvalidCode
	}

	return m.createSession(userAgent)
}

func (m *Manager) createSession(userAgent string) (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authsession: generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	now := time.Now().UTC()
	sess := &Session{
		Token:      token,
		CreatedAt:  now,
		LastActive: now,
		UserAgent:  userAgent,
	}

	m.mu.Lock()
	m.sessions[token] = sess
	m.mu.Unlock()

	return token, nil
}

// VerifySession checks a bearer token against the active session set,
// evicting and rejecting it if it has been idle longer than the
// configured timeout, and otherwise refreshing its last-active time.
func (m *Manager) VerifySession(token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupExpiredLocked()

	sess, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionExpired
	}
	sess.LastActive = time.Now().UTC()
	cp := *sess
	return &cp, nil
}

// RevokeSession removes a single session by token.
func (m *Manager) RevokeSession(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// RevokeAllSessions clears every active session, e.g. after a password
// or TOTP secret rotation.
func (m *Manager) RevokeAllSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}

// ActiveSessionCount reports the number of non-expired sessions.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupExpiredLocked()
	return len(m.sessions)
}

func (m *Manager) cleanupExpiredLocked() {
	cutoff := time.Now().UTC().Add(-m.sessionTimeout)
	for k, sess := range m.sessions {
		if sess.LastActive.Before(cutoff) {
			delete(m.sessions, k)
		}
	}
}

// HashToken returns a short, non-reversible fingerprint of a token
// suitable for log lines — long enough to correlate requests, far too
// short to be usable as a credential.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}
