package bridge

import (
	"fmt"
	"time"
)

// ExitError reports a process that ran to completion with a non-zero status.
type ExitError struct {
	Cmd    string
	Code   int
	Output string // tail of the combined output
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Cmd, e.Code)
}

// TimeoutError reports a process killed after exceeding its time limit.
type TimeoutError struct {
	Cmd     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s killed after %s timeout", e.Cmd, e.Timeout)
}

// EnvironmentError is a broken toolchain setup. It is fatal for the whole
// run, not only for the project that hit it.
type EnvironmentError struct {
	Msg string
	Err error
}

func (e *EnvironmentError) Error() string {
	if e.Err == nil {
		return "environment: " + e.Msg
	}
	return fmt.Sprintf("environment: %s: %v", e.Msg, e.Err)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

func envErrorf(err error, format string, args ...any) *EnvironmentError {
	return &EnvironmentError{Msg: fmt.Sprintf(format, args...), Err: err}
}
