// Package connection models the connection settings a provisioning job
// carries: transport kind, target platform, credentials and the optional
// remote script path template. Parsing of the surrounding job format is
// done elsewhere; this package only normalizes and validates the record.
package connection

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind selects the remote transport.
type Kind string

const (
	KindSSH   Kind = "ssh"
	KindWinRM Kind = "winrm"
)

// Platform selects the command dialect of the target host.
type Platform string

const (
	PlatformUnix    Platform = "unix"
	PlatformWindows Platform = "windows"
)

const (
	DefaultSSHPort        = 22
	DefaultWinRMPort      = 5985
	DefaultWinRMHTTPSPort = 5986
	DefaultTimeout        = 5 * time.Minute
)

// Config is one connection record. Transport-only fields (credentials,
// bastion chain, WinRM switches) are passed through to the transport
// untouched; the runner reads only Kind, TargetPlatform and ScriptPath.
type Config struct {
	Kind           Kind     `yaml:"type"            validate:"omitempty,oneof=ssh winrm"`
	Host           string   `yaml:"host"            validate:"required"`
	Port           int      `yaml:"port"            validate:"omitempty,min=1,max=65535"`
	User           string   `yaml:"user"`
	Password       string   `yaml:"password"`
	Timeout        time.Duration `yaml:"timeout"`
	TargetPlatform Platform `yaml:"target_platform" validate:"omitempty,oneof=unix windows"`
	ScriptPath     string   `yaml:"script_path"     validate:"plainpath"`

	// SSH transport fields.
	PrivateKey    string `yaml:"private_key"`
	Certificate   string `yaml:"certificate"`
	Agent         bool   `yaml:"agent"`
	AgentIdentity string `yaml:"agent_identity"`
	HostKey       string `yaml:"host_key"`

	// Bastion hop, SSH only.
	BastionHost       string `yaml:"bastion_host"`
	BastionPort       int    `yaml:"bastion_port"   validate:"omitempty,min=1,max=65535"`
	BastionUser       string `yaml:"bastion_user"`
	BastionPassword   string `yaml:"bastion_password"`
	BastionPrivateKey string `yaml:"bastion_private_key"`
	BastionHostKey    string `yaml:"bastion_host_key"`

	// WinRM transport fields.
	HTTPS    bool   `yaml:"https"`
	Insecure bool   `yaml:"insecure"`
	UseNTLM  bool   `yaml:"use_ntlm"`
	CACert   string `yaml:"cacert"`
}

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("plainpath", validatePlainPath)
}

// validatePlainPath rejects script path templates carrying control
// characters, which can never form a usable remote path.
func validatePlainPath(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// Normalized returns a copy of c with defaults applied: SSH kind, the
// platform implied by the kind, and the default port for the transport.
// A WinRM connection targets Windows unless the platform was set
// explicitly; everything else targets Unix.
func (c Config) Normalized() Config {
	if c.Kind == "" {
		c.Kind = KindSSH
	}
	if c.TargetPlatform == "" {
		if c.Kind == KindWinRM {
			c.TargetPlatform = PlatformWindows
		} else {
			c.TargetPlatform = PlatformUnix
		}
	}
	if c.Port == 0 {
		switch {
		case c.Kind == KindWinRM && c.HTTPS:
			c.Port = DefaultWinRMHTTPSPort
		case c.Kind == KindWinRM:
			c.Port = DefaultWinRMPort
		default:
			c.Port = DefaultSSHPort
		}
	}
	if c.BastionHost != "" && c.BastionPort == 0 {
		c.BastionPort = DefaultSSHPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate checks c against the struct tags. Call on the normalized copy.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("connection config: %w", err)
	}
	return nil
}
