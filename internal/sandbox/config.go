package sandbox

// Mode controls which agent sessions route tool execution through a
// sandbox backend rather than the host shell.
type Mode string

const (
	ModeOff     Mode = "off"      // never sandbox
	ModeNonMain Mode = "non-main" // sandbox every session except the primary one
	ModeAll     Mode = "all"      // sandbox every session
)

// WorkspaceAccess controls how much of the host workspace a sandboxed
// command can see.
type WorkspaceAccess string

const (
	AccessNone WorkspaceAccess = "none"
	AccessRO   WorkspaceAccess = "ro"
	AccessRW   WorkspaceAccess = "rw"
)

// Scope controls sandbox container/process lifetime and sharing.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeAgent   Scope = "agent"
	ScopeShared  Scope = "shared"
)

// Config describes how a sandboxed command should be isolated. It is
// backend-agnostic: the same Config drives bubblewrap, sandbox-exec,
// Docker, Windows Sandbox, or the bare-subprocess fallback.
type Config struct {
	Mode            Mode
	Image           string // container image, when the backend is container-based
	WorkspaceAccess WorkspaceAccess
	Scope           Scope
	MemoryMB        int
	CPUs            float64
	TimeoutSec      int
	NetworkEnabled  bool
	ReadOnlyRoot    bool
	SetupCommand    string
	Env             map[string]string

	User           string
	TmpfsSizeMB    int
	MaxOutputBytes int

	IdleHours        int
	MaxAgeDays       int
	PruneIntervalMin int
}

// DefaultConfig returns the conservative default: sandboxing off (the
// caller's config layer turns it on), read-only root, network disabled,
// 512MB/1 CPU, 5-minute timeout, 1MB output cap.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeOff,
		Image:           "gulama-sandbox:bookworm-slim",
		WorkspaceAccess: AccessRW,
		Scope:           ScopeSession,
		MemoryMB:        512,
		CPUs:            1.0,
		TimeoutSec:      300,
		NetworkEnabled:  false,
		ReadOnlyRoot:    true,
		MaxOutputBytes:  1 << 20,
		IdleHours:        24,
		MaxAgeDays:       7,
		PruneIntervalMin: 5,
	}
}
