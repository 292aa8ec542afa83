package cli

import (
	"errors"
	"fmt"
)

// ExitError carries the process exit code out of a RunE function.
//
// Commands return NewExitError instead of calling os.Exit so tests can assert on
// the code. [RunWithConfig] unpacks it with [IsExitError]; [Execute] exits.
type ExitError struct {
	// Code is 1 for a failed or gated chain run.
	Code int
}

// Error formats like os/exec's ExitError.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewExitError creates an [ExitError] with the given exit code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

// IsExitError reports whether err wraps an [ExitError] and returns its code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
