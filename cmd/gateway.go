package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/san-techie21/gulama-gateway/internal/agent"
	"github.com/san-techie21/gulama-gateway/internal/audit"
	"github.com/san-techie21/gulama-gateway/internal/authsession"
	"github.com/san-techie21/gulama-gateway/internal/bus"
	"github.com/san-techie21/gulama-gateway/internal/channels"
	"github.com/san-techie21/gulama-gateway/internal/channels/telegram"
	"github.com/san-techie21/gulama-gateway/internal/config"
	"github.com/san-techie21/gulama-gateway/internal/contextbuilder"
	"github.com/san-techie21/gulama-gateway/internal/gateway"
	mcpbridge "github.com/san-techie21/gulama-gateway/internal/mcp"
	"github.com/san-techie21/gulama-gateway/internal/memstore"
	"github.com/san-techie21/gulama-gateway/internal/providers"
	"github.com/san-techie21/gulama-gateway/internal/sandbox"
	"github.com/san-techie21/gulama-gateway/internal/skillverify"
	"github.com/san-techie21/gulama-gateway/internal/tools"
	"github.com/san-techie21/gulama-gateway/internal/tracing"
	"github.com/san-techie21/gulama-gateway/internal/vault"
)

// vaultTOTPKey is where the provisioned TOTP secret lives inside the vault.
const vaultTOTPKey = "totp_secret"

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the loopback gateway and agent runtime",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// The vault anchors every credential; a missing vault on a non-setup
	// command is a startup error, not something to limp past.
	v := vault.New(config.ExpandHome(cfg.Security.VaultPath))
	if !v.IsInitialized() {
		slog.Error("vault not initialized; run `gulama setup` first",
			"path", cfg.Security.VaultPath)
		os.Exit(1)
	}
	if err := unlockVault(v); err != nil {
		slog.Error("failed to unlock vault", "error", err)
		os.Exit(1)
	}
	defer v.Lock()
	overlayVaultSecrets(v, cfg)

	mem, err := memstore.Open(config.ExpandHome(cfg.Database.SQLitePath))
	if err != nil {
		slog.Error("failed to open memory store", "error", err)
		os.Exit(1)
	}
	defer mem.Close()

	auditLog, err := audit.Open(config.ExpandHome(cfg.Security.AuditDir))
	if err != nil {
		slog.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}

	// LLM providers and router.
	provRegistry := providers.NewRegistry()
	registerProviders(provRegistry, cfg)
	if cfg.Agent.Provider != "" {
		provRegistry.SetDefault(cfg.Agent.Provider)
	}
	router := providers.NewRouter(providers.RouterConfig{
		Registry:       provRegistry,
		Budget:         mem,
		DailyBudgetUSD: cfg.Agent.DailyBudgetUSD,
		PrimaryName:    cfg.Agent.Provider,
		FallbackName:   cfg.Agent.FallbackProvider,
	})

	// Sandbox manager for shell execution.
	sandboxCfg := cfg.Agent.Sandbox.ToSandboxConfig()
	sandboxMgr := sandbox.NewManager(sandboxCfg)
	defer sandboxMgr.CloseAll()
	sandboxBackend := string(sandbox.DetectBestBackend())
	sandboxEnabled := sandboxCfg.Mode != sandbox.ModeOff

	// Tool registry with the security pipeline attached.
	registry := tools.NewRegistry()
	registry.SetAuditLog(auditLog)
	if cfg.Tools.ScrubCredentials != nil {
		registry.SetScrubbing(*cfg.Tools.ScrubCredentials)
	}
	if cfg.Tools.RateLimitPerHour > 0 {
		registry.SetRateLimiter(tools.NewToolRateLimiter(cfg.Tools.RateLimitPerHour))
	}
	registerBuiltinTools(registry, cfg, provRegistry, sandboxMgr, sandboxEnabled)
	allowTrustedSkillDirs(registry, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Telemetry)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer func() {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer flushCancel()
				shutdown(flushCtx)
			}()
		}
	}

	// External MCP tool servers feed the same registry — and therefore
	// run through the same pipeline — as built-in tools.
	if len(cfg.Tools.McpServers) > 0 {
		mcpMgr := mcpbridge.NewManager(registry, mcpbridge.WithConfigs(cfg.Tools.McpServers))
		if err := mcpMgr.Start(ctx); err != nil {
			slog.Warn("mcp startup failed", "error", err)
		}
		defer mcpMgr.Stop()
	}

	// Context builder and brain.
	builder := contextbuilder.New(mem, nil, cfg.Agent.MaxContextTokens)
	brain := agent.New(agent.BrainConfig{
		Memory:        mem,
		Builder:       builder,
		Router:        router,
		Tools:         registry,
		Visibility:    tools.NewPolicyEngine(&cfg.Tools),
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		Prompt: contextbuilder.PromptContext{
			AutonomyLevel:  cfg.Agent.AutonomyLevel,
			Provider:       cfg.Agent.Provider,
			Model:          cfg.Agent.Model,
			SandboxEnabled: sandboxEnabled,
			PolicyEnabled:  true,
			BasePrompt:     loadPersona(cfg),
		},
	})

	// Auth sessions, seeded with the TOTP secret from the vault.
	totpSecret, _ := v.Get(vaultTOTPKey)
	sessionTimeout := time.Duration(cfg.Gateway.SessionTimeoutSecs) * time.Second
	auth := authsession.New(totpSecret, sessionTimeout)

	srv := gateway.NewServer(gateway.Options{
		Config:         cfg,
		Brain:          brain,
		Memory:         mem,
		Auth:           auth,
		AuditLog:       auditLog,
		Tools:          registry,
		Version:        Version,
		SandboxBackend: sandboxBackend,
	})

	// Channels: the reference Telegram adapter plus the dispatcher that
	// moves bus messages through the brain.
	msgBus := bus.New()
	var activeChannels []channels.Channel
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("telegram channel init failed", "error", err)
		} else if err := tg.Start(ctx); err != nil {
			slog.Error("telegram channel start failed", "error", err)
		} else {
			activeChannels = append(activeChannels, tg)
		}
	}
	go watchConfig(ctx, resolveConfigPath(), cfg)

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		for _, ch := range activeChannels {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			ch.Stop(stopCtx)
			stopCancel()
		}
		cancel()
	}()

	summarizer := agent.NewSummarizer(mem, router, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { dispatchInbound(gctx, msgBus, brain); return nil })
	g.Go(func() error { dispatchOutbound(gctx, msgBus, activeChannels); return nil })
	g.Go(func() error { summarizer.RunPeriodic(gctx, time.Hour); return nil })
	g.Go(func() error { return srv.Start(gctx) })

	if err := g.Wait(); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

// watchConfig hot-reloads non-secret settings when the config file
// changes on disk. Secrets and listener settings still require a
// restart; reload only swaps the tunable fields.
func watchConfig(ctx context.Context, path string, cfg *config.Config) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("config watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		slog.Debug("config watch failed (file may not exist yet)", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fresh, err := config.Load(path)
			if err != nil {
				slog.Warn("config reload failed, keeping previous", "error", err)
				continue
			}
			if err := fresh.Validate(); err != nil {
				slog.Warn("config reload rejected", "error", err)
				continue
			}
			cfg.ReplaceFrom(fresh)
			slog.Info("config reloaded", "hash", cfg.Hash())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("config watcher error", "error", err)
		}
	}
}

// unlockVault derives the master key from GULAMA_VAULT_PASSWORD or an
// interactive prompt. The KDF takes about a second; this runs once at
// startup, never on a request path.
func unlockVault(v *vault.Vault) error {
	password := os.Getenv("GULAMA_VAULT_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "Vault password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}
	return v.Unlock(password)
}

// overlayVaultSecrets fills provider credentials that config and env left
// empty from the unlocked vault, so API keys can live encrypted at rest.
func overlayVaultSecrets(v *vault.Vault, cfg *config.Config) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if val, err := v.Get(key); err == nil && val != "" {
			*dst = val
		}
	}
	fill(&cfg.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&cfg.Providers.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	fill(&cfg.Providers.Groq.APIKey, "GROQ_API_KEY")
	fill(&cfg.Providers.DeepSeek.APIKey, "DEEPSEEK_API_KEY")
	fill(&cfg.Providers.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&cfg.Providers.Mistral.APIKey, "MISTRAL_API_KEY")
	fill(&cfg.Providers.XAI.APIKey, "XAI_API_KEY")
	fill(&cfg.Channels.Telegram.Token, "TELEGRAM_TOKEN")
	if cfg.Channels.Telegram.Token != "" {
		cfg.Channels.Telegram.Enabled = true
	}
}

// registerBuiltinTools wires the built-in skill set into the registry.
func registerBuiltinTools(registry *tools.Registry, cfg *config.Config, provRegistry *providers.Registry, sandboxMgr *sandbox.Manager, sandboxEnabled bool) {
	workspace := cfg.WorkspacePath()
	restrict := cfg.Agent.RestrictToWorkspace

	if sandboxEnabled {
		registry.Register(tools.NewSandboxedExecTool(workspace, restrict, sandboxMgr))
	} else {
		registry.Register(tools.NewExecTool(workspace, restrict))
	}
	registry.Register(tools.NewReadFileTool(workspace, restrict))
	registry.Register(tools.NewWriteFileTool(workspace, restrict))
	registry.Register(tools.NewListFilesTool(workspace, restrict))
	registry.Register(tools.NewDeleteFileTool(workspace, restrict))
	registry.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
	registry.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey:     cfg.Tools.Web.Brave.APIKey,
		BraveEnabled:    cfg.Tools.Web.Brave.Enabled,
		BraveMaxResults: cfg.Tools.Web.Brave.MaxResults,
		DDGEnabled:      cfg.Tools.Web.DuckDuckGo.Enabled,
		DDGMaxResults:   cfg.Tools.Web.DuckDuckGo.MaxResults,
	}))
	registry.Register(tools.NewCreateImageTool(provRegistry))
	registry.Register(tools.NewReadImageTool(provRegistry))
}

// allowTrustedSkillDirs verifies files in the external skills directory
// against the configured SHA-256 allowlist ("relative/path:hex" entries).
// Each file that verifies is opened up to read_file individually; any
// file that does not verify is refused and logged.
func allowTrustedSkillDirs(registry *tools.Registry, cfg *config.Config) {
	dir := config.ExpandHome(cfg.Security.SkillsDir)
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return // no external skills installed
	}

	verifier := skillverify.NewVerifier()
	for _, entry := range cfg.Security.TrustedSkillHashes {
		rel, hash, ok := strings.Cut(entry, ":")
		if !ok {
			slog.Warn("malformed trusted_skill_hashes entry", "entry", entry)
			continue
		}
		verifier.TrustHash(filepath.Join(dir, rel), hash)
	}

	var readTool *tools.ReadFileTool
	if t, ok := registry.Get("read_file"); ok {
		readTool, _ = t.(*tools.ReadFileTool)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ok, err := verifier.VerifySkillFile(path, "")
		if err != nil || !ok {
			slog.Warn("external skill refused: hash not trusted", "path", path, "error", err)
			continue
		}
		slog.Info("external skill verified", "path", path)
		if readTool != nil {
			readTool.AllowPaths(path)
		}
	}
}

// loadPersona reads the optional persona file; an empty return falls back
// to the built-in system prompt.
func loadPersona(cfg *config.Config) string {
	if cfg.Agent.PersonaPath == "" {
		return ""
	}
	data, err := os.ReadFile(config.ExpandHome(cfg.Agent.PersonaPath))
	if err != nil {
		slog.Warn("persona file unreadable, using default prompt", "error", err)
		return ""
	}
	return string(data)
}

// dispatchInbound consumes channel messages and runs each through the
// brain, publishing the response back to the originating channel. Each
// inbound message runs to completion before the next ConsumeInbound, so
// per-conversation ordering holds.
func dispatchInbound(ctx context.Context, msgBus *bus.MessageBus, brain *agent.Brain) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}

		result, err := brain.ProcessMessage(ctx, agent.ProcessRequest{
			Message: msg.Content,
			Channel: msg.Channel,
			UserID:  msg.UserID,
		})
		if err != nil {
			slog.Error("message processing failed", "channel", msg.Channel, "error", err)
			continue
		}

		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Content:  result.Response,
			Metadata: msg.Metadata,
		})
	}
}

// dispatchOutbound delivers agent responses back to their channels.
func dispatchOutbound(ctx context.Context, msgBus *bus.MessageBus, active []channels.Channel) {
	byName := make(map[string]channels.Channel, len(active))
	for _, ch := range active {
		byName[ch.Name()] = ch
	}

	for {
		msg, ok := msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		ch, found := byName[msg.Channel]
		if !found {
			slog.Debug("outbound message for unknown channel dropped", "channel", msg.Channel)
			continue
		}
		if err := ch.Send(ctx, msg); err != nil {
			slog.Warn("outbound send failed", "channel", msg.Channel, "error", err)
		}
	}
}
