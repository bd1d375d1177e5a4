// Package winrmx provides the WinRM-backed session capability for
// Windows targets that do not run an SSH server.
package winrmx

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/masterzen/winrm"

	"github.com/avolk/remoteprov/internal/lg"
	"github.com/avolk/remoteprov/pkg/connection"
	"github.com/avolk/remoteprov/pkg/shellquote"
)

// cmd.exe rejects lines over 8191 chars; leave room for the echo wrapper.
const uploadChunk = 4000

type Session struct {
	client *winrm.Client
	lg     lg.Logger
}

// New builds an authenticated WinRM session from cfg. HTTPS, certificate
// pinning and NTLM negotiation follow the connection record.
func New(cfg connection.Config, logger lg.Logger) (*Session, error) {
	if logger == nil {
		logger = lg.Discard
	}
	cfg = cfg.Normalized()

	var caCert []byte
	if cfg.CACert != "" {
		caCert = []byte(cfg.CACert)
	}
	endpoint := winrm.NewEndpoint(cfg.Host, cfg.Port, cfg.HTTPS, cfg.Insecure, caCert, nil, nil, cfg.Timeout)

	params := winrm.NewParameters("PT60S", "en-US", 153600)
	if cfg.UseNTLM {
		params.TransportDecorator = func() winrm.Transporter { return &winrm.ClientNTLM{} }
	}

	client, err := winrm.NewClientWithParameters(endpoint, cfg.User, cfg.Password, params)
	if err != nil {
		return nil, fmt.Errorf("winrm client: %w", err)
	}
	return &Session{client: client, lg: logger}, nil
}

func (s *Session) Close() error { return nil }

// Upload writes content to path. The body travels as base64 lines echoed
// into a staging file, then a PowerShell one-liner decodes it into place.
// Both file names are embedded only as quoted literals.
func (s *Session) Upload(ctx context.Context, path string, content io.Reader) error {
	body, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("read script body: %w", err)
	}

	for _, command := range uploadCommands(path, body) {
		if err := s.run(ctx, command); err != nil {
			return err
		}
	}
	s.lg.Debug("uploaded script", lg.String("path", path), lg.Int("bytes", len(body)))
	return nil
}

// uploadCommands builds the remote command sequence that lands body at
// path. An empty body writes an empty file directly; a staging file with
// zero chunks would leave nothing for the decode step to read.
func uploadCommands(path string, body []byte) []string {
	if len(body) == 0 {
		create := fmt.Sprintf("[IO.File]::WriteAllBytes(%s, [byte[]]@())", shellquote.PowerShell(path))
		return []string{winrm.Powershell(create)}
	}

	staging := path + ".b64"
	commands := []string{
		"cmd /C if exist " + shellquote.Cmd(staging) + " del /f /q " + shellquote.Cmd(staging),
	}

	encoded := base64.StdEncoding.EncodeToString(body)
	for len(encoded) > 0 {
		n := uploadChunk
		if n > len(encoded) {
			n = len(encoded)
		}
		commands = append(commands, fmt.Sprintf("cmd /C echo %s >> %s", encoded[:n], shellquote.Cmd(staging)))
		encoded = encoded[n:]
	}

	// cmd's echo pads the chunk with whitespace; trim each staged line
	// before joining.
	decode := fmt.Sprintf(
		"$raw = ((Get-Content %s) | ForEach-Object { $_.Trim() }) -join ''; "+
			"[IO.File]::WriteAllBytes(%s, [Convert]::FromBase64String($raw)); "+
			"Remove-Item %s -Force",
		shellquote.PowerShell(staging), shellquote.PowerShell(path), shellquote.PowerShell(staging))
	return append(commands, winrm.Powershell(decode))
}

// run executes a command and folds a non-zero exit into the error, since
// upload plumbing commands must all succeed.
func (s *Session) run(ctx context.Context, command string) error {
	code, _, stderr, err := s.Execute(ctx, command)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("remote command exited %d: %s", code, stderr)
	}
	return nil
}

// Execute runs command and returns its exit code and captured output.
func (s *Session) Execute(ctx context.Context, command string) (int, string, string, error) {
	var outBuf, errBuf bytes.Buffer
	code, err := s.client.RunWithContext(ctx, command, &outBuf, &errBuf)
	if err != nil {
		return 0, outBuf.String(), errBuf.String(), fmt.Errorf("winrm run: %w", err)
	}
	return code, outBuf.String(), errBuf.String(), nil
}
