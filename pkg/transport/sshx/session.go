package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/avolk/remoteprov/internal/lg"
	"github.com/avolk/remoteprov/pkg/shellquote"
)

// Upload writes content to path on the remote host by streaming it into
// `cat` with the destination quoted as one literal token.
func (c *Client) Upload(ctx context.Context, path string, content io.Reader) error {
	sess, err := c.newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.Stdin = content
	command := "cat > " + shellquote.POSIX(path)

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		sess.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("remote write %s: %w", path, err)
		}
		return nil
	}
}

// Execute runs command on the remote host and returns its exit code and
// captured output. A non-zero exit is not an error; transport failures are.
func (c *Client) Execute(ctx context.Context, command string) (int, string, string, error) {
	sess, err := c.newSession()
	if err != nil {
		return 0, "", "", err
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return 0, "", "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return 0, "", "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := sess.Start(command); err != nil {
		return 0, "", "", fmt.Errorf("start: %w", err)
	}

	var outBuf, errBuf bytes.Buffer
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := io.Copy(&outBuf, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		sess.Close()
		<-done
		return 0, outBuf.String(), errBuf.String(), ctx.Err()
	case waitErr = <-done:
	}
	if err := g.Wait(); err != nil {
		c.lg.Debug("output drain", lg.Err(err))
	}

	if waitErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitStatus(), outBuf.String(), errBuf.String(), nil
		}
		return 0, outBuf.String(), errBuf.String(), fmt.Errorf("wait: %w", waitErr)
	}
	return 0, outBuf.String(), errBuf.String(), nil
}
