package types

import (
	"errors"
	"fmt"
	"syscall"
)

// ValidationError represents an error that occurs during validation.
type ValidationError struct {
	Message string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		Message: message,
	}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError is returned when no unit matches an id or name.
type NotFoundError struct {
	Token string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no such build unit %q", e.Token)
}

// DuplicateNameError is returned when a unit name is already taken.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("build unit %q already exists", e.Name)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsDuplicateName reports whether err is or wraps a DuplicateNameError.
func IsDuplicateName(err error) bool {
	var dn *DuplicateNameError
	return errors.As(err, &dn)
}

// UnsupportedStrategyError is returned for unknown strategy names.
type UnsupportedStrategyError struct {
	Name string
}

func (e *UnsupportedStrategyError) Error() string {
	return fmt.Sprintf("unsupported build strategy %q", e.Name)
}

// AllocationError covers name collisions and account creation failures
// during allocation.
type AllocationError struct {
	Name string
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocating build unit %q: %v", e.Name, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// ProvisionError wraps a failure while populating a sandbox.
type ProvisionError struct {
	Unit string
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Unit, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// ConfigurationError wraps a template, certificate or network rewrite
// failure. File names the artifact involved, when known.
type ConfigurationError struct {
	File string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("configuration failed: %v", e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("configuration failed: %s", e.File)
	}
	return fmt.Sprintf("configuration failed: %s: %v", e.File, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// BuildError wraps an abnormal termination of the build process. The cause
// is a *SignalError or a *NonZeroExitError.
type BuildError struct {
	Unit string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build of %s failed: %v", e.Unit, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// SignalError reports a process terminated by a signal.
type SignalError struct {
	Signal syscall.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("process killed by signal %d (%s)", int(e.Signal), e.Signal)
}

// NonZeroExitError reports a process that exited with a non-zero code.
type NonZeroExitError struct {
	Code   int
	Output string
}

func (e *NonZeroExitError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("process exited with status %d: %s", e.Code, e.Output)
	}
	return fmt.Sprintf("process exited with status %d", e.Code)
}

// ExitCode returns the exit status carried by err, or -1 if err does not
// describe a process exit.
func ExitCode(err error) int {
	var nz *NonZeroExitError
	if errors.As(err, &nz) {
		return nz.Code
	}
	return -1
}

// UserCreationError is returned when an OS account cannot be created for
// any reason other than it already existing.
type UserCreationError struct {
	User string
	Err  error
}

func (e *UserCreationError) Error() string {
	return fmt.Sprintf("could not create user %s: %v", e.User, e.Err)
}

func (e *UserCreationError) Unwrap() error { return e.Err }

// ImpersonationError is returned when the target account cannot be resolved.
type ImpersonationError struct {
	User string
	Err  error
}

func (e *ImpersonationError) Error() string {
	return fmt.Sprintf("cannot impersonate %s: %v", e.User, e.Err)
}

func (e *ImpersonationError) Unwrap() error { return e.Err }

// UserContextSwitchError is returned when the OS rejects a switch of
// effective ids, either entering or leaving an impersonation scope.
type UserContextSwitchError struct {
	User string
	Op   string
	Err  error
}

func (e *UserContextSwitchError) Error() string {
	return fmt.Sprintf("user context switch (%s) for %s: %v", e.Op, e.User, e.Err)
}

func (e *UserContextSwitchError) Unwrap() error { return e.Err }
