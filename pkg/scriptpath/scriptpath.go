// Package scriptpath computes the remote destination path for an uploaded
// provisioning script.
package scriptpath

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/avolk/remoteprov/pkg/connection"
)

// RandToken is the placeholder users may embed in a script path template.
// Each occurrence is replaced with a fresh run of random decimal digits so
// that concurrent provisioners on the same host do not collide on a
// filename.
const RandToken = "%RAND%"

const (
	unixDefault    = "/tmp/terraform_%RAND%.sh"
	windowsDefault = "C:/windows/temp/terraform_%RAND%.cmd"

	// 10 digits keeps the collision chance of two concurrent runs at 1e-10.
	randDigits = 10
)

var digitCeiling = new(big.Int).Exp(big.NewInt(10), big.NewInt(randDigits), nil)

// Resolve returns the concrete remote path for cfg. The template is the
// user-supplied script_path if present, otherwise the platform default.
// No normalization or remote existence check is performed; the result is
// the template with every RandToken expanded, verbatim otherwise.
func Resolve(cfg connection.Config) (string, error) {
	cfg = cfg.Normalized()

	tmpl := cfg.ScriptPath
	if tmpl == "" {
		if cfg.TargetPlatform == connection.PlatformWindows {
			tmpl = windowsDefault
		} else {
			tmpl = unixDefault
		}
	}

	for strings.Contains(tmpl, RandToken) {
		digits, err := randomDigits()
		if err != nil {
			return "", fmt.Errorf("script path: %w", err)
		}
		tmpl = strings.Replace(tmpl, RandToken, digits, 1)
	}
	return tmpl, nil
}

// randomDigits draws a fixed-width decimal digit run from crypto/rand.
// crypto/rand is safe for concurrent use, so no locking is needed here.
func randomDigits() (string, error) {
	n, err := rand.Int(rand.Reader, digitCeiling)
	if err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return fmt.Sprintf("%0*d", randDigits, n), nil
}
