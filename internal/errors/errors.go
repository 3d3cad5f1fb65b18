package errors

import "errors"

// Code identifies a structured error type used across the application.
type Code string

const (
	// Generic codes
	CodeUnknown Code = "unknown"

	// Transfer errors
	CodeTransientNetwork  Code = "transient_network"
	CodeIntegrityMismatch Code = "integrity_mismatch"
	CodeFilesystem        Code = "filesystem"

	// Manifest errors
	CodeManifestUnavailable Code = "manifest_unavailable"
	CodeManifestInvalid     Code = "manifest_invalid"
	CodeNotTracked          Code = "not_tracked"

	// Batch errors
	CodeBatchFailed    Code = "batch_failed"
	CodeBackupFailed   Code = "backup_failed"
	CodeRollbackFailed Code = "rollback_failed"

	CodeConfigurationError Code = "configuration_error"
)

// Kind splits codes into failures worth retrying later and failures that are not.
type Kind int

const (
	KindFatal Kind = iota
	KindTransient
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "fatal"
}

// Kind reports how the code should be handled by callers.
func (c Code) Kind() Kind {
	switch c {
	case CodeTransientNetwork, CodeIntegrityMismatch, CodeManifestUnavailable:
		return KindTransient
	default:
		return KindFatal
	}
}

// Error represents a structured error with a machine-readable code plus message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// New wraps an error with a code/message.
func New(code Code, msg string, err error) Error {
	return Error{Code: code, Message: msg, Err: err}
}

// CodeOf walks the error chain and returns the first structured code found.
func CodeOf(err error) Code {
	var structured Error
	if errors.As(err, &structured) {
		return structured.Code
	}
	return CodeUnknown
}

// IsCode reports whether the error (or its unwrap chain) matches the provided code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsTransient reports whether err carries a code that may succeed on a later attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return CodeOf(err).Kind() == KindTransient
}
