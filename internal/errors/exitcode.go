package errors

import (
	"errors"
	"strings"
)

// Process exit codes. Row rejections never change the exit code.
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitUsageError        = 2
	ExitConfigError       = 10
	ExitDirectoryCreation = 11
	ExitInputNotFound     = 12
	ExitSchemaError       = 13
	ExitRowParseError     = 14
	ExitFlushError        = 15
	ExitPublishError      = 16
)

// ExitCode returns the process exit code for an error.
// Returns ExitSuccess (0) for nil errors, a distinct code per fatal kind,
// and ExitGeneralError (1) for unclassified errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, ErrInvalidConfig):
		return ExitConfigError
	case errors.Is(err, ErrDirectoryCreation):
		return ExitDirectoryCreation
	case errors.Is(err, ErrInputNotFound):
		return ExitInputNotFound
	case errors.Is(err, ErrSchema):
		return ExitSchemaError
	case errors.Is(err, ErrRowParse):
		return ExitRowParseError
	case errors.Is(err, ErrRowRejected):
		// Only reachable when the reject policy is abort.
		return ExitRowParseError
	case errors.Is(err, ErrFlush):
		return ExitFlushError
	case errors.Is(err, ErrUpload):
		return ExitPublishError
	}

	if isUsageError(err) {
		return ExitUsageError
	}
	return ExitGeneralError
}

// usagePrefixes are the messages cobra and pflag produce for bad command
// lines.
var usagePrefixes = []string{
	"unknown flag",
	"unknown shorthand flag",
	"unknown command",
	"accepts ",
	"requires ",
	"required flag",
	"invalid argument",
	"flag needs an argument",
}

func isUsageError(err error) bool {
	msg := err.Error()
	for _, p := range usagePrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}
