package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/san-techie21/gulama-gateway/internal/audit"
	"github.com/san-techie21/gulama-gateway/internal/authsession"
	"github.com/san-techie21/gulama-gateway/internal/config"
	"github.com/san-techie21/gulama-gateway/internal/memstore"
	"github.com/san-techie21/gulama-gateway/pkg/protocol"
)

func newTestServer(t *testing.T) (*Server, *authsession.Manager) {
	t.Helper()

	cfg := config.Default()
	cfg.Gateway.RateLimitRPM = 0 // most tests don't exercise rate limiting

	mem, err := memstore.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	auditLog, err := audit.Open(t.TempDir())
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	auth := authsession.New("", time.Hour)
	srv := NewServer(Options{
		Config:         cfg,
		Memory:         mem,
		Auth:           auth,
		AuditLog:       auditLog,
		Version:        "test",
		SandboxBackend: "subprocess",
	})
	return srv, auth
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.BuildMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthenticatedEndpointRejectsWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.BuildMux())
	defer ts.Close()

	for _, path := range []string{"/api/v1/status", "/api/v1/cost/today", "/api/v1/skills", "/api/v1/audit"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestTOTPBootstrapFlow(t *testing.T) {
	srv, auth := newTestServer(t)
	ts := httptest.NewServer(srv.BuildMux())
	defer ts.Close()

	// Setup while unconfigured is public.
	resp, err := http.Post(ts.URL+"/api/v1/auth/setup-totp", "application/json", nil)
	if err != nil {
		t.Fatalf("setup-totp: %v", err)
	}
	var setup protocol.TOTPSetupResponse
	if err := json.NewDecoder(resp.Body).Decode(&setup); err != nil {
		t.Fatalf("decode setup response: %v", err)
	}
	resp.Body.Close()
	if setup.ProvisioningURI == "" {
		t.Fatal("expected a provisioning URI")
	}

	// A wrong code is rejected.
	body, _ := json.Marshal(protocol.TOTPVerifyRequest{Code: "000000"})
	resp, err = http.Post(ts.URL+"/api/v1/auth/totp", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("totp verify: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad code status = %d, want 401", resp.StatusCode)
	}

	// A valid code mints a session token. The secret is known to the
	// manager; generate the current code directly.
	secret, _, err := auth.ProvisionTOTP("gulama", "operator")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	code, err := totp.GenerateCode(secret, time.Now().UTC())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	body, _ = json.Marshal(protocol.TOTPVerifyRequest{Code: code})
	resp, err = http.Post(ts.URL+"/api/v1/auth/totp", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("totp verify: %v", err)
	}
	var verify protocol.TOTPVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verify); err != nil {
		t.Fatalf("decode verify response: %v", err)
	}
	resp.Body.Close()
	if verify.Token == "" {
		t.Fatal("expected a session token")
	}

	// The token opens authenticated endpoints.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+verify.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status protocol.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp.StatusCode)
	}
	if status.SandboxBackend != "subprocess" {
		t.Errorf("sandbox backend = %q", status.SandboxBackend)
	}

	// Logout revokes it.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+verify.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+verify.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status after logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want 401", resp.StatusCode)
	}
}

func TestRateLimitSlidingWindow(t *testing.T) {
	l := newRateLimiter(60, time.Minute)
	for i := 0; i < 60; i++ {
		if !l.Allow("client") {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	if l.Allow("client") {
		t.Fatal("61st request within the window should be limited")
	}
	if !l.Allow("other") {
		t.Fatal("independent client should not be limited")
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.BuildMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := resp.Header.Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
	if resp.Header.Get("Permissions-Policy") == "" {
		t.Error("missing Permissions-Policy header")
	}
	if resp.Header.Get("Content-Security-Policy") == "" {
		t.Error("missing Content-Security-Policy header")
	}
}

func TestNonLoopbackBindRefused(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.Gateway.Host = "0.0.0.0"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err == nil {
		t.Fatal("expected an error binding 0.0.0.0 without allow_non_loopback")
	}
}

func TestSetupTOTPLockedAfterConfiguration(t *testing.T) {
	srv, auth := newTestServer(t)
	ts := httptest.NewServer(srv.BuildMux())
	defer ts.Close()

	if _, _, err := auth.ProvisionTOTP("gulama", "operator"); err != nil {
		t.Fatalf("provision: %v", err)
	}

	resp, err := http.Post(ts.URL+"/api/v1/auth/setup-totp", "application/json", nil)
	if err != nil {
		t.Fatalf("setup-totp: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("re-setup without session = %d, want 403", resp.StatusCode)
	}
}
