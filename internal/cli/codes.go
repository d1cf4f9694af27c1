package cli

import (
	"context"
	"errors"

	"github.com/roach88/runsystem/internal/disasm"
	"github.com/roach88/runsystem/internal/features"
	"github.com/roach88/runsystem/internal/offsets"
	"github.com/roach88/runsystem/internal/orchestrator"
	"github.com/roach88/runsystem/internal/profiler"
	"github.com/roach88/runsystem/internal/store"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric   = "E001" // Generic/unknown error
	ErrCodeConfig    = "E002" // Invalid configuration or missing tool
	ErrCodeFormat    = "E003" // Malformed offsets, profiler or feature file
	ErrCodeTool      = "E004" // External program failed
	ErrCodeNotFound  = "E005" // Unknown run, function or loop
	ErrCodeCancelled = "E006" // Interrupted
)

// ErrorCode maps err to the code reported in CLI error output.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCancelled
	case orchestrator.IsConfigError(err):
		return ErrCodeConfig
	case offsets.IsFormatError(err), disasm.IsFormatError(err), features.IsFormatError(err):
		return ErrCodeFormat
	case profiler.IsToolError(err):
		return ErrCodeTool
	case errors.Is(err, store.ErrNotFound):
		return ErrCodeNotFound
	default:
		return ErrCodeGeneric
	}
}

// exitCodeFor is the exit code of a command that failed with err: input
// the user can fix is a command error, anything else a failure.
func exitCodeFor(err error) int {
	switch ErrorCode(err) {
	case ErrCodeConfig, ErrCodeNotFound:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// fail wraps err with message and the exit code it maps to.
func fail(message string, err error) *ExitError {
	return WrapExitError(exitCodeFor(err), message, err)
}
