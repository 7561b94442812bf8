package sandbox

import "context"

// subprocessSandbox is the fallback backend used when no stronger
// isolation mechanism is available. It still applies the dangerous-command
// pre-flight check, the timeout, and the output cap, but it does not
// isolate the filesystem or network from the host.
type subprocessSandbox struct {
	*baseSandbox
}

func (s *subprocessSandbox) Exec(ctx context.Context, argv []string, cwd string) (Result, error) {
	if len(argv) > 0 && isDangerous(argv[len(argv)-1]) {
		return Result{ExitCode: 126, Stderr: "command blocked by sandbox pre-flight check", Error: "dangerous_command"}, nil
	}
	dir := cwd
	if dir == "" {
		dir = s.workingDir
	}
	return runSubprocess(ctx, argv, dir, s.cfg)
}

func (s *subprocessSandbox) Close() error { return nil }
