package runner

import "fmt"

// TransferError reports a failed upload of the script body. The remote
// file may be absent or truncated; nothing was executed.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("upload to %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ExecutionError reports that the remote command could not be invoked or
// the transport failed mid-run. A script that ran and exited non-zero is
// not an ExecutionError; that surfaces as RunResult.ExitCode.
type ExecutionError struct {
	Path    string
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConfigError reports a connection record the runner cannot act on.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }
