// Package shellquote quotes a single argument for a remote command line.
// A value that crosses into a remote shell must arrive as one literal
// token no matter what it contains; both supported dialects are covered.
package shellquote

import "strings"

// POSIX quotes s for POSIX shells. Common safe characters stay unquoted;
// everything else is single-quoted with the standard `'\''` escape for
// embedded single quotes.
func POSIX(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			return false
		}
		if r >= '0' && r <= '9' {
			return false
		}
		switch r {
		case '-', '_', '.', '/', '@', ':', ',', '+', '=':
			return false
		}
		return true
	}) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Cmd quotes s for cmd.exe. The argument is always double-quoted with
// embedded double quotes doubled. cmd.exe still expands %VAR% references
// inside quotes; callers that cannot tolerate that must reject templates
// containing percent pairs, which the resolver's RandToken handling
// already consumes for the common case.
func Cmd(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// PowerShell quotes s as a single-quoted PowerShell string literal, where
// the only escape is a doubled single quote.
func PowerShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
