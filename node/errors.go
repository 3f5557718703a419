package node

import (
	"fmt"
	"strings"
)

// ExecutableNotFoundError is returned by Start when argv[0] doesn't exist or isn't a regular file.
type ExecutableNotFoundError struct {
	Path string
	Err  error
}

func (e *ExecutableNotFoundError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("server binary could not be found: %s", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("server binary %q could not be found: %s", e.Path, e.Err)
	}
	return fmt.Sprintf("server binary %q could not be found", e.Path)
}

func (e *ExecutableNotFoundError) Unwrap() error { return e.Err }

// PermissionError is returned by Start when argv[0] exists but can't be executed.
type PermissionError struct {
	Path string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("server binary %q is not executable", e.Path)
}

// StartupTimeoutError is returned by Start when the readiness pattern never showed up on stdout.
// It carries everything the process printed so the failure can be diagnosed without re-running.
type StartupTimeoutError struct {
	Port   int
	Stdout string
	Stderr string
	// Err is set when startup was cut short by the caller's context rather than by the process exiting.
	Err error
}

func (e *StartupTimeoutError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "server process on port %d appears not to have started", e.Port)
	if e.Err != nil {
		fmt.Fprintf(&sb, " (%s)", e.Err)
	}
	sb.WriteString(". ")
	if strings.TrimSpace(e.Stdout) == "" {
		sb.WriteString("No output was found in standard-out.")
	} else {
		sb.WriteString("Standard-out contains this: " + e.Stdout)
	}
	sb.WriteString(" ")
	if strings.TrimSpace(e.Stderr) == "" {
		sb.WriteString("No output was found in standard-err.")
	} else {
		sb.WriteString("Standard-err contains this: " + e.Stderr)
	}
	return sb.String()
}

func (e *StartupTimeoutError) Unwrap() error { return e.Err }

// StopError is returned by Stop when graceful termination didn't complete.
type StopError struct {
	Port int
	Err  error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stopping server process on port %d: %s", e.Port, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
