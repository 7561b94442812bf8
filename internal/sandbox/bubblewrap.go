package sandbox

import (
	"context"
)

// bubblewrapSandbox isolates commands with bwrap, the unprivileged Linux
// namespace sandbox. Each Exec call gets its own namespace; there is no
// long-lived container to tear down.
type bubblewrapSandbox struct {
	*baseSandbox
}

func (b *bubblewrapSandbox) Exec(ctx context.Context, argv []string, cwd string) (Result, error) {
	if len(argv) > 0 && isDangerous(argv[len(argv)-1]) {
		return Result{ExitCode: 126, Stderr: "command blocked by sandbox pre-flight check", Error: "dangerous_command"}, nil
	}

	dir := cwd
	if dir == "" {
		dir = b.workingDir
	}

	bwrapArgs := []string{
		"--die-with-parent",
		"--unshare-all",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}

	if b.cfg.NetworkEnabled {
		bwrapArgs = append(bwrapArgs, "--share-net")
	}

	if b.cfg.ReadOnlyRoot {
		bwrapArgs = append(bwrapArgs, "--ro-bind", "/usr", "/usr", "--ro-bind", "/bin", "/bin", "--ro-bind", "/lib", "/lib")
	} else {
		bwrapArgs = append(bwrapArgs, "--bind", "/usr", "/usr", "--bind", "/bin", "/bin", "--bind", "/lib", "/lib")
	}

	switch b.cfg.WorkspaceAccess {
	case AccessRW:
		bwrapArgs = append(bwrapArgs, "--bind", dir, "/workspace")
	case AccessRO:
		bwrapArgs = append(bwrapArgs, "--ro-bind", dir, "/workspace")
	case AccessNone:
		bwrapArgs = append(bwrapArgs, "--tmpfs", "/workspace")
	}

	bwrapArgs = append(bwrapArgs, "--chdir", "/workspace")

	for k, v := range b.cfg.Env {
		bwrapArgs = append(bwrapArgs, "--setenv", k, v)
	}

	bwrapArgs = append(bwrapArgs, argv...)

	fullArgv := append([]string{"bwrap"}, bwrapArgs...)
	return runSubprocess(ctx, fullArgv, dir, b.cfg)
}

func (b *bubblewrapSandbox) Close() error { return nil }
