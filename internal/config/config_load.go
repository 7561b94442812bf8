package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// MaxAutonomyLevel is the highest autonomy level the policy engine
// understands. Configuring anything above it is a startup error.
const MaxAutonomyLevel = 4

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:           "~/.gulama/workspace",
			RestrictToWorkspace: true,
			Provider:            "anthropic",
			Model:               "claude-sonnet-4-5-20250929",
			MaxTokens:           8192,
			Temperature:         0.7,
			MaxToolRounds:       8,
			MaxContextTokens:    100000,
			AutonomyLevel:       2,
			DailyBudgetUSD:      10.0,
		},
		Gateway: GatewayConfig{
			Host:               "127.0.0.1",
			Port:               18790,
			MaxMessageChars:    32000,
			MaxBodyBytes:       1 << 20,
			RateLimitRPM:       60,
			SessionTimeoutSecs: 3600,
			TOTPIssuer:         "gulama",
		},
		Security: SecurityConfig{
			VaultPath: "~/.gulama/vault.age",
			AuditDir:  "~/.gulama/audit",
			SkillsDir: "~/.gulama/skills",
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.gulama/memory.db",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			ExecApproval: ExecApprovalCfg{
				Security: "full",
				Ask:      "off",
			},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — the defaults plus env cover first-run setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Validate rejects configurations the core refuses to run with: a
// non-loopback bind without the explicit override, and an autonomy level
// the policy engine has no semantics for.
func (c *Config) Validate() error {
	if c.Agent.AutonomyLevel < 0 || c.Agent.AutonomyLevel > MaxAutonomyLevel {
		return fmt.Errorf("config: autonomy_level %d out of range [0, %d]", c.Agent.AutonomyLevel, MaxAutonomyLevel)
	}

	host := c.Gateway.Host
	if host == "" {
		return fmt.Errorf("config: gateway host is empty")
	}
	if !c.Gateway.AllowNonLoopback {
		ip := net.ParseIP(host)
		loopback := host == "localhost" || (ip != nil && ip.IsLoopback())
		if !loopback {
			return fmt.Errorf("config: gateway host %q is not loopback; set allow_non_loopback to override", host)
		}
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config: gateway port %d out of range", c.Gateway.Port)
	}

	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("GULAMA_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("GULAMA_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("GULAMA_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GULAMA_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("GULAMA_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("GULAMA_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("GULAMA_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("GULAMA_MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("GULAMA_XAI_API_KEY", &c.Providers.XAI.APIKey)
	envStr("GULAMA_MINIMAX_API_KEY", &c.Providers.MiniMax.APIKey)
	envStr("GULAMA_COHERE_API_KEY", &c.Providers.Cohere.APIKey)
	envStr("GULAMA_PERPLEXITY_API_KEY", &c.Providers.Perplexity.APIKey)
	envStr("GULAMA_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("GULAMA_PROVIDER", &c.Agent.Provider)
	envStr("GULAMA_MODEL", &c.Agent.Model)
	envStr("GULAMA_WORKSPACE", &c.Agent.Workspace)

	envStr("GULAMA_HOST", &c.Gateway.Host)
	if v := os.Getenv("GULAMA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("GULAMA_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("GULAMA_VAULT_PATH", &c.Security.VaultPath)
	envStr("GULAMA_AUDIT_DIR", &c.Security.AuditDir)

	if v := os.Getenv("GULAMA_AUTONOMY_LEVEL"); v != "" {
		if lvl, err := strconv.Atoi(v); err == nil {
			c.Agent.AutonomyLevel = lvl
		}
	}
	if v := os.Getenv("GULAMA_DAILY_BUDGET_USD"); v != "" {
		if budget, err := strconv.ParseFloat(v, 64); err == nil && budget >= 0 {
			c.Agent.DailyBudgetUSD = budget
		}
	}

	envStr("GULAMA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GULAMA_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GULAMA_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GULAMA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GULAMA_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	ensureSandbox := func() {
		if c.Agent.Sandbox == nil {
			c.Agent.Sandbox = &SandboxConfig{}
		}
	}
	if v := os.Getenv("GULAMA_SANDBOX_MODE"); v != "" {
		ensureSandbox()
		c.Agent.Sandbox.Mode = v
	}
	if v := os.Getenv("GULAMA_SANDBOX_IMAGE"); v != "" {
		ensureSandbox()
		c.Agent.Sandbox.Image = v
	}
	if v := os.Getenv("GULAMA_SANDBOX_TIMEOUT_SEC"); v != "" {
		ensureSandbox()
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Agent.Sandbox.TimeoutSec = sec
		}
	}
	if v := os.Getenv("GULAMA_SANDBOX_NETWORK"); v != "" {
		ensureSandbox()
		c.Agent.Sandbox.NetworkEnabled = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.Workspace)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call this after modifying config to restore runtime secrets
// from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
