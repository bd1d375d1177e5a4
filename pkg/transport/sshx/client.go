// Package sshx provides the SSH-backed session capability. Dialing is
// retried with exponential backoff and session opens run through a
// circuit breaker, so a flapping host fails fast instead of piling up
// half-open connections.
package sshx

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/avolk/remoteprov/internal/lg"
	"github.com/avolk/remoteprov/pkg/connection"
)

type Client struct {
	ssh     *ssh.Client
	bastion *ssh.Client
	breaker *gobreaker.CircuitBreaker
	lg      lg.Logger
}

// Dial connects to the host described by cfg, hopping through the bastion
// when one is configured. The dial is retried with exponential backoff
// until ctx is done or the backoff gives up.
func Dial(ctx context.Context, cfg connection.Config, logger lg.Logger) (*Client, error) {
	if logger == nil {
		logger = lg.Discard
	}
	cfg = cfg.Normalized()

	clientCfg, err := clientConfig(cfg.User, cfg.Password, cfg.PrivateKey, cfg.Certificate, cfg.HostKey, cfg.Agent, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	var (
		target  *ssh.Client
		bastion *ssh.Client
	)
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	operation := func() error {
		if cfg.BastionHost == "" {
			target, err = ssh.Dial("tcp", addr, clientCfg)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			return nil
		}

		bastionCfg, berr := clientConfig(
			orDefault(cfg.BastionUser, cfg.User),
			orDefault(cfg.BastionPassword, cfg.Password),
			orDefault(cfg.BastionPrivateKey, cfg.PrivateKey),
			"", cfg.BastionHostKey, cfg.Agent, cfg.Timeout)
		if berr != nil {
			return backoff.Permanent(berr)
		}
		bastionAddr := net.JoinHostPort(cfg.BastionHost, strconv.Itoa(cfg.BastionPort))
		bastion, berr = ssh.Dial("tcp", bastionAddr, bastionCfg)
		if berr != nil {
			return fmt.Errorf("dial bastion %s: %w", bastionAddr, berr)
		}
		conn, berr := bastion.Dial("tcp", addr)
		if berr != nil {
			bastion.Close()
			return fmt.Errorf("dial %s via bastion: %w", addr, berr)
		}
		nc, chans, reqs, berr := ssh.NewClientConn(conn, addr, clientCfg)
		if berr != nil {
			bastion.Close()
			return fmt.Errorf("handshake %s via bastion: %w", addr, berr)
		}
		target = ssh.NewClient(nc, chans, reqs)
		return nil
	}

	settings := &backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      cfg.Timeout,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	settings.Reset()
	if err := backoff.Retry(operation, backoff.WithContext(settings, ctx)); err != nil {
		return nil, err
	}
	logger.Info("ssh connection established", lg.String("addr", addr))

	cbs := gobreaker.Settings{
		Name:        "ssh-session",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Client{
		ssh:     target,
		bastion: bastion,
		breaker: gobreaker.NewCircuitBreaker(cbs),
		lg:      logger,
	}, nil
}

func (c *Client) Close() error {
	err := c.ssh.Close()
	if c.bastion != nil {
		if berr := c.bastion.Close(); err == nil {
			err = berr
		}
	}
	return err
}

// newSession opens an SSH session through the circuit breaker. The caller
// closes the returned session.
func (c *Client) newSession() (*ssh.Session, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.ssh.NewSession()
	})
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return res.(*ssh.Session), nil
}

func clientConfig(user, password, privateKey, certificate, hostKey string, useAgent bool, timeout time.Duration) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if privateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(privateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		if certificate != "" {
			pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(certificate))
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			cert, ok := pub.(*ssh.Certificate)
			if !ok {
				return nil, fmt.Errorf("certificate field does not hold an SSH certificate")
			}
			signer, err = ssh.NewCertSigner(cert, signer)
			if err != nil {
				return nil, fmt.Errorf("certificate signer: %w", err)
			}
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if useAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, fmt.Errorf("ssh agent: %w", err)
			}
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if password != "" {
		auth = append(auth, ssh.Password(password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no usable SSH auth method for user %q", user)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if hostKey != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(hostKey))
		if err != nil {
			return nil, fmt.Errorf("parse host key: %w", err)
		}
		hostKeyCallback = ssh.FixedHostKey(pub)
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
		BannerCallback:  func(string) error { return nil },
	}, nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
