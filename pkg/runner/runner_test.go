package runner_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolk/remoteprov/internal/lg"
	"github.com/avolk/remoteprov/pkg/connection"
	"github.com/avolk/remoteprov/pkg/runner"
)

type upload struct {
	path string
	body string
}

// fakeSession records every call so tests can assert the exact command
// lines the runner hands to the transport.
type fakeSession struct {
	uploads []upload
	execs   []string

	uploadErr  error
	execErr    error // returned by the first Execute call
	cleanupErr error // returned by the second Execute call
	exitCode   int
	stdout     string
	stderr     string
}

func (f *fakeSession) Upload(_ context.Context, path string, content io.Reader) error {
	body, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.uploads = append(f.uploads, upload{path: path, body: string(body)})
	return f.uploadErr
}

func (f *fakeSession) Execute(_ context.Context, command string) (int, string, string, error) {
	f.execs = append(f.execs, command)
	switch len(f.execs) {
	case 1:
		if f.execErr != nil {
			return 0, "", "", f.execErr
		}
	case 2:
		if f.cleanupErr != nil {
			return 0, "", "", f.cleanupErr
		}
		return 0, "", "", nil
	}
	return f.exitCode, f.stdout, f.stderr, nil
}

func TestRunUnixEndToEnd(t *testing.T) {
	sess := &fakeSession{stdout: "hi\n"}
	cfg := connection.Config{Kind: connection.KindSSH, Host: "box"}

	res, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("echo hi"))
	require.NoError(t, err)

	require.Len(t, sess.uploads, 1)
	assert.Regexp(t, `^/tmp/terraform_\d+\.sh$`, sess.uploads[0].path)
	assert.Equal(t, "echo hi", sess.uploads[0].body)

	require.Len(t, sess.execs, 2)
	assert.Equal(t, "sh "+sess.uploads[0].path, sess.execs[0])
	assert.Equal(t, "rm -f "+sess.uploads[0].path, sess.execs[1])

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, sess.uploads[0].path, res.Path)
	assert.NotEqual(t, res.RunID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestRunQuotesHostilePath(t *testing.T) {
	sess := &fakeSession{}
	cfg := connection.Config{Host: "box", ScriptPath: "; rm -rf / #"}

	_, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("echo hi"))
	require.NoError(t, err)

	// The whole template must reach the shell as one literal token.
	require.NotEmpty(t, sess.execs)
	assert.Equal(t, `sh '; rm -rf / #'`, sess.execs[0])
	assert.Equal(t, `rm -f '; rm -rf / #'`, sess.execs[1])
}

func TestRunWindowsCommandLine(t *testing.T) {
	sess := &fakeSession{}
	cfg := connection.Config{Kind: connection.KindWinRM, Host: "box"}

	res, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("echo hi"))
	require.NoError(t, err)

	assert.Regexp(t, `^C:/windows/temp/terraform_\d+\.cmd$`, res.Path)
	require.Len(t, sess.execs, 2)
	assert.Equal(t, fmt.Sprintf(`cmd /C "%s"`, res.Path), sess.execs[0])
	assert.Equal(t, fmt.Sprintf(`cmd /C del /f /q "%s"`, res.Path), sess.execs[1])
}

func TestRunPowerShellScript(t *testing.T) {
	sess := &fakeSession{}
	cfg := connection.Config{
		Host:           "box",
		TargetPlatform: connection.PlatformWindows,
		ScriptPath:     "C:/temp/setup_%RAND%.ps1",
	}

	res, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("Write-Host hi"))
	require.NoError(t, err)

	assert.Regexp(t, `^C:/temp/setup_\d+\.ps1$`, res.Path)
	require.NotEmpty(t, sess.execs)
	assert.Equal(t, `powershell -ExecutionPolicy Bypass -File "`+res.Path+`"`, sess.execs[0])
}

func TestRunUploadFailure(t *testing.T) {
	sess := &fakeSession{uploadErr: errors.New("disk full")}
	cfg := connection.Config{Host: "box"}

	_, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("echo hi"))
	require.Error(t, err)

	var terr *runner.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Regexp(t, `^/tmp/terraform_\d+\.sh$`, terr.Path)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, sess.execs, "execute must not be attempted after a failed upload")
}

func TestRunExecutionFailure(t *testing.T) {
	sess := &fakeSession{execErr: errors.New("connection reset")}
	cfg := connection.Config{Host: "box"}

	_, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("echo hi"))
	require.Error(t, err)

	var eerr *runner.ExecutionError
	require.ErrorAs(t, err, &eerr)
	assert.ErrorContains(t, err, "connection reset")
	// The uploaded file is left in place: no cleanup after a transport failure.
	assert.Len(t, sess.execs, 1)
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	sess := &fakeSession{exitCode: 17, stderr: "boom"}
	cfg := connection.Config{Host: "box"}

	res, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("exit 17"))
	require.NoError(t, err)
	assert.Equal(t, 17, res.ExitCode)
	assert.Equal(t, "boom", res.Stderr)
}

func TestRunCleanupFailureIgnored(t *testing.T) {
	sess := &fakeSession{cleanupErr: errors.New("permission denied")}
	cfg := connection.Config{Host: "box"}

	res, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("echo hi"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, sess.execs, 2)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	sess := &fakeSession{}
	cfg := connection.Config{Host: "box", Kind: "telnet"}

	_, err := runner.New(lg.Discard).Run(context.Background(), sess, cfg, []byte("echo hi"))
	require.Error(t, err)

	var cerr *runner.ConfigError
	assert.ErrorAs(t, err, &cerr)
	assert.Empty(t, sess.uploads)
	assert.Empty(t, sess.execs)
}
