package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
)

func TestLoadError_Error(t *testing.T) {
	err := New(ErrCategorySchema, CodeInvalidSchema, "bad ddl")
	expected := "[SCHEMA:INVALID_SCHEMA] bad ddl"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestLoadError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := NewDirectoryCreationError("/data/whyso/visit", cause)
	expected := "[SETUP:DIRECTORY_CREATION] cannot create output directory /data/whyso/visit: permission denied"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestLoadError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewFlushError("close failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestLoadError_Is(t *testing.T) {
	err1 := NewRowParseError(3, fmt.Errorf("wrong number of fields"))
	err2 := NewRowParseError(9, nil)
	err3 := NewRowRejectedError("empty key", nil)

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if !errors.Is(err1, ErrRowParse) {
		t.Error("parse error should match sentinel")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
}

func TestRowParseError_Details(t *testing.T) {
	err := NewRowParseError(42, nil)
	if err.Details["line"] != 42 {
		t.Errorf("expected line detail 42, got %v", err.Details["line"])
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err   error
		fatal bool
	}{
		{NewDirectoryCreationError("x", nil), true},
		{NewInputNotFoundError("x", nil), true},
		{NewSchemaError("x", nil), true},
		{NewRowParseError(1, nil), true},
		{NewRowRejectedError("x", nil), false},
		{NewFlushError("x", nil), false},
		{NewManifestError("x", nil), false},
		{NewStorageError(CodeUploadFailed, "x", nil), true},
		{fmt.Errorf("plain"), true},
		{nil, false},
	}

	for _, tt := range tests {
		if IsFatal(tt.err) != tt.fatal {
			t.Errorf("%v fatal=%v, want %v", tt.err, IsFatal(tt.err), tt.fatal)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewSchemaError("bad", nil))
	if GetCategory(err) != ErrCategorySchema {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategorySchema)
	}
	if GetCode(err) != CodeInvalidSchema {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidSchema)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-LoadError should return empty category")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, ExitSuccess},
		{"config", NewConfigError("x", nil), ExitConfigError},
		{"directory", NewDirectoryCreationError("x", nil), ExitDirectoryCreation},
		{"input", NewInputNotFoundError("x", nil), ExitInputNotFound},
		{"schema", NewSchemaError("x", nil), ExitSchemaError},
		{"parse", NewRowParseError(1, nil), ExitRowParseError},
		{"flush", NewFlushError("x", nil), ExitFlushError},
		{"upload", NewStorageError(CodeUploadFailed, "x", nil), ExitPublishError},
		{"plain", fmt.Errorf("boom"), ExitGeneralError},
		{"unknown flag", fmt.Errorf("unknown flag: --foo"), ExitUsageError},
		{"args", fmt.Errorf("accepts 1 arg(s), received 0"), ExitUsageError},
	}

	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.code {
			t.Errorf("%s: ExitCode=%d, want %d", tt.name, got, tt.code)
		}
	}
}

func TestExitCode_MultiErrorPrefersFirstMatch(t *testing.T) {
	var merr *multierror.Error
	merr = multierror.Append(merr, NewRowParseError(7, nil))
	merr = multierror.Append(merr, NewFlushError("close", nil))

	if got := ExitCode(merr.ErrorOrNil()); got != ExitRowParseError {
		t.Errorf("ExitCode=%d, want %d", got, ExitRowParseError)
	}
}
