package sandbox

import "context"

// windowsSandbox would isolate commands using Windows Sandbox. Windows
// Sandbox is not exec-into-able like a Docker container — each invocation
// spins up a fresh disposable VM from a .wsb configuration file, which
// makes it a poor fit for the many-short-calls pattern tool execution
// needs. Until that's worth the cost, Windows hosts fall through to the
// subprocess backend; DetectBestBackend only returns BackendWindows once
// a real mapping exists.
type windowsSandbox struct {
	*baseSandbox
}

func (w *windowsSandbox) Exec(ctx context.Context, argv []string, cwd string) (Result, error) {
	if len(argv) > 0 && isDangerous(argv[len(argv)-1]) {
		return Result{ExitCode: 126, Stderr: "command blocked by sandbox pre-flight check", Error: "dangerous_command"}, nil
	}
	dir := cwd
	if dir == "" {
		dir = w.workingDir
	}
	return runSubprocess(ctx, argv, dir, w.cfg)
}

func (w *windowsSandbox) Close() error { return nil }
