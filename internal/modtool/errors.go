package modtool

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned when an export is started while another one is
// running or suspended.
var ErrBusy = errors.New("an export is already in progress")

// PreconditionError reports a setting or project state that prevents the
// export from starting. It is raised before any project file is mutated.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }

// VerificationError reports disallowed API usage found in candidate code.
type VerificationError struct {
	Messages []string
}

func (e *VerificationError) Error() string {
	if len(e.Messages) == 1 {
		return "incompatible scripts or assemblies found: " + e.Messages[0]
	}
	return fmt.Sprintf("incompatible scripts or assemblies found (%d issues): %s",
		len(e.Messages), strings.Join(e.Messages, "; "))
}

// RewriteError reports a module that could not be patched.
type RewriteError struct {
	Module string
	Err    error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewriting %s: %v", e.Module, e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }

// IOError reports a failed file operation on a project, backup, staging or
// output path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// UserCancelledError is returned when the user declines a required prompt.
type UserCancelledError struct {
	Reason string
}

func (e *UserCancelledError) Error() string {
	if e.Reason == "" {
		return "cancelled by user"
	}
	return "cancelled by user: " + e.Reason
}

// StageError ties a fatal error to the pipeline stage that raised it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// wrapIO returns an IOError for err, or nil.
func wrapIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
