// Package gateway is the loopback HTTP/WebSocket surface (C14). It binds
// 127.0.0.1 only — binding anything else is a configuration error unless
// the operator sets the explicit override flag — and authenticates every
// request beyond health and TOTP bootstrap with an opaque session token
// minted by a successful TOTP verification.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/san-techie21/gulama-gateway/internal/agent"
	"github.com/san-techie21/gulama-gateway/internal/audit"
	"github.com/san-techie21/gulama-gateway/internal/authsession"
	"github.com/san-techie21/gulama-gateway/internal/config"
	"github.com/san-techie21/gulama-gateway/internal/store"
	"github.com/san-techie21/gulama-gateway/internal/tools"
	"github.com/san-techie21/gulama-gateway/pkg/protocol"
)

// Server is the gateway server handling the REST API and WebSocket chat.
type Server struct {
	cfg      *config.Config
	brain    *agent.Brain
	memory   store.MemoryStore
	auth     *authsession.Manager
	auditLog *audit.Log
	tools    *tools.Registry

	version        string
	sandboxBackend string

	limiter    *rateLimiter
	httpServer *http.Server
	mux        *http.ServeMux
}

// Options carries the collaborators the server exposes over HTTP.
type Options struct {
	Config         *config.Config
	Brain          *agent.Brain
	Memory         store.MemoryStore
	Auth           *authsession.Manager
	AuditLog       *audit.Log
	Tools          *tools.Registry
	Version        string
	SandboxBackend string
}

// NewServer creates a gateway server. The config must already have passed
// Validate — the loopback check here is a second line of defense, not the
// primary one.
func NewServer(opts Options) *Server {
	rpm := opts.Config.Gateway.RateLimitRPM
	return &Server{
		cfg:            opts.Config,
		brain:          opts.Brain,
		memory:         opts.Memory,
		auth:           opts.Auth,
		auditLog:       opts.AuditLog,
		tools:          opts.Tools,
		version:        opts.Version,
		sandboxBackend: opts.SandboxBackend,
		limiter:        newRateLimiter(rpm, time.Minute),
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered
// behind the middleware chain.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()

	public := func(h http.HandlerFunc) http.Handler {
		return s.chain(h, false)
	}
	authed := func(h http.HandlerFunc) http.Handler {
		return s.chain(h, true)
	}

	mux.Handle("/health", public(s.handleHealth))
	mux.Handle("/api/v1/auth/setup-totp", public(s.handleSetupTOTP))
	mux.Handle("/api/v1/auth/totp", public(s.handleVerifyTOTP))

	mux.Handle("/api/v1/auth/logout", authed(s.handleLogout))
	mux.Handle("/api/v1/chat", authed(s.handleChat))
	mux.Handle("/api/v1/status", authed(s.handleStatus))
	mux.Handle("/api/v1/cost/today", authed(s.handleCostToday))
	mux.Handle("/api/v1/cost/history", authed(s.handleCostHistory))
	mux.Handle("/api/v1/skills", authed(s.handleSkills))
	mux.Handle("/api/v1/conversations", authed(s.handleConversations))
	mux.Handle("/api/v1/conversations/", authed(s.handleConversationByID))
	mux.Handle("/api/v1/audit", authed(s.handleAudit))

	// WebSocket: browsers cannot set headers on upgrade, so the session
	// token arrives as a query parameter and goes through the same
	// verification path inside the handler.
	mux.Handle("/ws/chat", s.chain(s.handleWSChat, false))

	s.mux = mux
	return mux
}

// Start begins serving. It refuses to listen on a non-loopback address
// unless the override flag is set, duplicating the config validation as
// defense in depth.
func (s *Server) Start(ctx context.Context) error {
	host := s.cfg.Gateway.Host
	if !s.cfg.Gateway.AllowNonLoopback {
		ip := net.ParseIP(host)
		if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return fmt.Errorf("gateway: refusing to bind non-loopback address %q without allow_non_loopback", host)
		}
	}

	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
	})
}

// handleSetupTOTP provisions the TOTP secret. It only works while the
// gateway is unconfigured; once a secret exists, re-provisioning requires
// an authenticated session (rotation is deliberate, not drive-by).
func (s *Server) handleSetupTOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	if s.auth.HasSecret() {
		if _, err := s.sessionFromRequest(r); err != nil {
			writeError(w, http.StatusForbidden, "TOTP already configured")
			return
		}
	}

	issuer := s.cfg.Gateway.TOTPIssuer
	if issuer == "" {
		issuer = "gulama"
	}
	secret, uri, err := s.auth.ProvisionTOTP(issuer, "operator")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "provisioning failed")
		return
	}
	// The caller is responsible for sealing the secret into the vault;
	// the gateway itself never persists it.
	_ = secret

	s.audit(audit.Entry{Actor: "user", Action: "auth.totp_setup", Decision: "allow"})
	writeJSON(w, http.StatusOK, protocol.TOTPSetupResponse{ProvisioningURI: uri})
}

func (s *Server) handleVerifyTOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req protocol.TOTPVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	token, err := s.auth.VerifyTOTP(req.Code, r.UserAgent())
	if err != nil {
		s.audit(audit.Entry{Actor: "user", Action: "auth.totp_verify", Decision: "deny", Reason: "invalid code"})
		writeError(w, http.StatusUnauthorized, "invalid code")
		return
	}

	s.audit(audit.Entry{Actor: "user", Action: "auth.totp_verify", Decision: "allow"})
	writeJSON(w, http.StatusOK, protocol.TOTPVerifyResponse{
		Token:     token,
		ExpiresIn: s.sessionTimeoutSecs(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.auth.RevokeSession(bearerToken(r))
	s.audit(audit.Entry{Actor: "user", Action: "auth.logout", Decision: "allow"})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req protocol.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if max := s.cfg.Gateway.MaxMessageChars; max > 0 && len(req.Message) > max {
		writeError(w, http.StatusRequestEntityTooLarge, "message too long")
		return
	}

	result, err := s.brain.ProcessMessage(r.Context(), agent.ProcessRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Channel:        "gateway",
	})
	if err != nil {
		slog.Error("gateway.chat_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, protocol.ChatResponse{
		Response:       result.Response,
		ConversationID: result.ConversationID,
		TokensUsed:     result.TokensUsed,
		CostUSD:        result.CostUSD,
		ToolsUsed:      result.ToolsUsed,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	skillCount := 0
	if s.tools != nil {
		skillCount = s.tools.Count()
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{
		Version:        s.version,
		Provider:       s.cfg.Agent.Provider,
		Model:          s.cfg.Agent.Model,
		AutonomyLevel:  s.cfg.Agent.AutonomyLevel,
		SandboxBackend: s.sandboxBackend,
		ActiveSessions: s.auth.ActiveSessionCount(),
		SkillCount:     skillCount,
	})
}

func (s *Server) handleCostToday(w http.ResponseWriter, r *http.Request) {
	cost, err := s.memory.GetTodayCost(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cost lookup failed")
		return
	}
	budget := s.cfg.Agent.DailyBudgetUSD
	writeJSON(w, http.StatusOK, protocol.CostToday{
		Date:           time.Now().UTC().Format("2006-01-02"),
		CostUSD:        cost,
		DailyBudgetUSD: budget,
		BudgetOK:       budget <= 0 || cost < budget,
	})
}

func (s *Server) handleCostHistory(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}
	rows, err := s.memory.GetCostSummary(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cost lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if s.tools != nil {
		names = s.tools.List()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"skills": names})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	msgs, err := s.memory.GetRecentMessages(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "conversation id required")
		return
	}
	conv, err := s.memory.GetConversation(r.Context(), id)
	if err != nil || conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	msgs, err := s.memory.GetMessages(r.Context(), id, 200, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := s.auditLog.ReadDay(time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit read failed")
		return
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func (s *Server) sessionTimeoutSecs() int {
	if s.cfg.Gateway.SessionTimeoutSecs > 0 {
		return s.cfg.Gateway.SessionTimeoutSecs
	}
	return int(authsession.DefaultSessionTimeout / time.Second)
}

func (s *Server) audit(e audit.Entry) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Record(e); err != nil {
		slog.Warn("gateway.audit_write_failed", "error", err)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (s *Server) sessionFromRequest(r *http.Request) (*authsession.Session, error) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, authsession.ErrSessionExpired
	}
	return s.auth.VerifySession(token)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("gateway.write_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}
