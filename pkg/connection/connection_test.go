package connection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/avolk/remoteprov/pkg/connection"
)

func TestNormalized(t *testing.T) {
	tests := []struct {
		name         string
		cfg          connection.Config
		wantKind     connection.Kind
		wantPlatform connection.Platform
		wantPort     int
	}{
		{
			name:         "empty defaults to ssh on unix",
			cfg:          connection.Config{Host: "h"},
			wantKind:     connection.KindSSH,
			wantPlatform: connection.PlatformUnix,
			wantPort:     22,
		},
		{
			name:         "winrm forces windows",
			cfg:          connection.Config{Host: "h", Kind: connection.KindWinRM},
			wantKind:     connection.KindWinRM,
			wantPlatform: connection.PlatformWindows,
			wantPort:     5985,
		},
		{
			name:         "winrm over https picks https port",
			cfg:          connection.Config{Host: "h", Kind: connection.KindWinRM, HTTPS: true},
			wantKind:     connection.KindWinRM,
			wantPlatform: connection.PlatformWindows,
			wantPort:     5986,
		},
		{
			name:         "explicit platform wins over winrm",
			cfg:          connection.Config{Host: "h", Kind: connection.KindWinRM, TargetPlatform: connection.PlatformUnix},
			wantKind:     connection.KindWinRM,
			wantPlatform: connection.PlatformUnix,
			wantPort:     5985,
		},
		{
			name:         "explicit port untouched",
			cfg:          connection.Config{Host: "h", Port: 2222},
			wantKind:     connection.KindSSH,
			wantPlatform: connection.PlatformUnix,
			wantPort:     2222,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.Normalized()
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantPlatform, got.TargetPlatform)
			assert.Equal(t, tt.wantPort, got.Port)
		})
	}
}

func TestNormalizedBastionAndTimeout(t *testing.T) {
	got := connection.Config{Host: "h", BastionHost: "jump"}.Normalized()
	assert.Equal(t, 22, got.BastionPort)
	assert.Equal(t, 5*time.Minute, got.Timeout)

	got = connection.Config{Host: "h", BastionHost: "jump", BastionPort: 2200, Timeout: time.Minute}.Normalized()
	assert.Equal(t, 2200, got.BastionPort)
	assert.Equal(t, time.Minute, got.Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     connection.Config
		wantErr bool
	}{
		{name: "valid ssh", cfg: connection.Config{Host: "h"}},
		{name: "valid winrm", cfg: connection.Config{Host: "h", Kind: connection.KindWinRM}},
		{name: "missing host", cfg: connection.Config{}, wantErr: true},
		{name: "unknown kind", cfg: connection.Config{Host: "h", Kind: "telnet"}, wantErr: true},
		{name: "port out of range", cfg: connection.Config{Host: "h", Port: 70000}, wantErr: true},
		{name: "unknown platform", cfg: connection.Config{Host: "h", TargetPlatform: "plan9"}, wantErr: true},
		{name: "control char in script path", cfg: connection.Config{Host: "h", ScriptPath: "/tmp/a\nb.sh"}, wantErr: true},
		{name: "metachars in script path are allowed", cfg: connection.Config{Host: "h", ScriptPath: "; rm -rf / #"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Normalized().Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
