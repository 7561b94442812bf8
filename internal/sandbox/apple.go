package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// appleSandbox isolates commands with macOS's sandbox-exec using a
// generated Seatbelt profile scoped to the workspace directory.
type appleSandbox struct {
	*baseSandbox
}

func (a *appleSandbox) Exec(ctx context.Context, argv []string, cwd string) (Result, error) {
	if len(argv) > 0 && isDangerous(argv[len(argv)-1]) {
		return Result{ExitCode: 126, Stderr: "command blocked by sandbox pre-flight check", Error: "dangerous_command"}, nil
	}

	dir := cwd
	if dir == "" {
		dir = a.workingDir
	}

	profile, err := a.writeProfile(dir)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: write seatbelt profile: %w", err)
	}
	defer os.Remove(profile)

	fullArgv := append([]string{"sandbox-exec", "-f", profile}, argv...)
	return runSubprocess(ctx, fullArgv, dir, a.cfg)
}

func (a *appleSandbox) Close() error { return nil }

// writeProfile generates a minimal Seatbelt profile allowing process
// execution and read access everywhere, with write access restricted to
// the workspace directory (and /tmp) unless WorkspaceAccess forbids it.
func (a *appleSandbox) writeProfile(workspace string) (string, error) {
	writable := ""
	switch a.cfg.WorkspaceAccess {
	case AccessRW:
		writable = fmt.Sprintf("(allow file-write* (subpath %q))\n", workspace)
	case AccessRO, AccessNone:
		writable = ""
	}

	network := "(deny network*)\n"
	if a.cfg.NetworkEnabled {
		network = "(allow network*)\n"
	}

	profile := "(version 1)\n" +
		"(allow default)\n" +
		"(deny file-write* (subpath \"/\"))\n" +
		writable +
		"(allow file-write* (subpath \"/tmp\"))\n" +
		"(allow file-write* (subpath \"/private/tmp\"))\n" +
		network

	f, err := os.CreateTemp("", "gulama-sandbox-*.sb")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(profile); err != nil {
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}
