// Package runner uploads a provisioning script to a remote host and runs
// it through an already-established session.
package runner

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avolk/remoteprov/internal/lg"
	"github.com/avolk/remoteprov/pkg/connection"
	"github.com/avolk/remoteprov/pkg/scriptpath"
	"github.com/avolk/remoteprov/pkg/shellquote"
)

// Session is the capability an authenticated transport exposes. Connection
// establishment, authentication and the bastion hop all live behind it.
type Session interface {
	Upload(ctx context.Context, path string, content io.Reader) error
	Execute(ctx context.Context, command string) (exitCode int, stdout, stderr string, err error)
}

// RunResult is the outcome of one script run. ExitCode is the script's
// own exit status; a non-zero value is still a completed run.
type RunResult struct {
	RunID      uuid.UUID
	Path       string
	ExitCode   int
	Stdout     string
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
}

type Runner struct {
	lg lg.Logger
}

func New(logger lg.Logger) *Runner {
	if logger == nil {
		logger = lg.Discard
	}
	return &Runner{lg: logger}
}

// Run resolves the destination path, uploads script and executes it with
// the path passed as one quoted literal token. Upload failures surface as
// TransferError without attempting execution; transport failures during
// execution surface as ExecutionError. The uploaded file is removed after
// execution on a best-effort basis. No retries happen at this layer.
func (r *Runner) Run(ctx context.Context, sess Session, cfg connection.Config, script []byte) (*RunResult, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	path, err := scriptpath.Resolve(cfg)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	res := &RunResult{
		RunID:     uuid.New(),
		Path:      path,
		StartedAt: time.Now(),
	}
	logger := r.lg.With(
		lg.String("run", res.RunID.String()),
		lg.String("host", cfg.Host),
		lg.String("path", path),
	)

	logger.Info("uploading script", lg.Int("bytes", len(script)))
	if err := sess.Upload(ctx, path, bytes.NewReader(script)); err != nil {
		return nil, &TransferError{Path: path, Err: err}
	}

	command := commandLine(cfg.TargetPlatform, path)
	logger.Debug("executing", lg.String("command", command))
	code, stdout, stderr, err := sess.Execute(ctx, command)
	if err != nil {
		return nil, &ExecutionError{Path: path, Command: command, Err: err}
	}

	r.cleanup(ctx, sess, cfg.TargetPlatform, path, logger)

	res.ExitCode = code
	res.Stdout = stdout
	res.Stderr = stderr
	res.FinishedAt = time.Now()
	logger.Info("script finished",
		lg.Int("exit_code", code),
		lg.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return res, nil
}

// commandLine builds the invocation for the uploaded script. The dialect
// follows the target platform, never the transport kind. The quoted path
// is the only user-influenced token on the line.
func commandLine(platform connection.Platform, path string) string {
	if platform == connection.PlatformWindows {
		if strings.HasSuffix(strings.ToLower(path), ".ps1") {
			return "powershell -ExecutionPolicy Bypass -File " + shellquote.Cmd(path)
		}
		return "cmd /C " + shellquote.Cmd(path)
	}
	return "sh " + shellquote.POSIX(path)
}

// cleanup deletes the uploaded script. A failed delete never changes the
// run outcome.
func (r *Runner) cleanup(ctx context.Context, sess Session, platform connection.Platform, path string, logger lg.Logger) {
	var command string
	if platform == connection.PlatformWindows {
		command = "cmd /C del /f /q " + shellquote.Cmd(path)
	} else {
		command = "rm -f " + shellquote.POSIX(path)
	}
	if _, _, _, err := sess.Execute(ctx, command); err != nil {
		logger.Debug("cleanup failed", lg.Err(err))
	}
}
