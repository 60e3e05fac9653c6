package runner

import (
	"errors"
	"fmt"
)

// CommandError is raised when a host command exits non-zero. Header is a
// short single-line summary suitable for an alert title; Output carries the
// full captured process output for on-demand detail.
type CommandError struct {
	Header string
	Output string
}

// NewCommandError creates a CommandError
func NewCommandError(header, output string) *CommandError {
	return &CommandError{Header: header, Output: output}
}

func (e *CommandError) Error() string {
	return e.Header
}

// AsCommandError unwraps a CommandError from err if present
func AsCommandError(err error) (*CommandError, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}

// ErrUnknownAction is returned when RunAction references an unregistered id
var ErrUnknownAction = fmt.Errorf("unknown action id")

// ErrRunnerClosed is returned to callers whose action could not run because
// the runner shut down.
var ErrRunnerClosed = fmt.Errorf("runner is closed")
