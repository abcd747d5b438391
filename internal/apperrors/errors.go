// Package apperrors implements dbforge's closed error-code taxonomy.
// Every fatal error carries a Code from the closed enum below and a
// one-line Suggestion a CLI can render verbatim.
package apperrors

import (
	"fmt"
)

// Code is a closed enum of error categories surfaced to callers.
type Code string

const (
	CodeDependencyMissing   Code = "DEPENDENCY_MISSING"
	CodeVersionMismatch     Code = "VERSION_MISMATCH"
	CodeWrongEngineDump     Code = "WRONG_ENGINE_DUMP"
	CodeProcessStopTimeout  Code = "PROCESS_STOP_TIMEOUT"
	CodeConnectionFailed    Code = "CONNECTION_FAILED"
	CodeInvalidIdentifier   Code = "INVALID_IDENTIFIER"
	CodeUnsupportedPlatform Code = "UNSUPPORTED_PLATFORM"
	CodeUnsupportedOp       Code = "UNSUPPORTED_ENGINE_OP"
)

// Error is dbforge's structured error type.
type Error struct {
	Code       Code
	Message    string
	Suggestion string
	Details    map[string]interface{}
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v (suggestion: %s)", e.Code, e.Message, e.Err, e.Suggestion)
	}
	return fmt.Sprintf("[%s] %s (suggestion: %s)", e.Code, e.Message, e.Suggestion)
}

// Unwrap exposes the wrapped error for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail key/value pair and returns e
// for chaining.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an Error with no wrapped cause.
func New(code Code, message, suggestion string) *Error {
	return &Error{Code: code, Message: message, Suggestion: suggestion}
}

// Wrap creates an Error that wraps an existing cause.
func Wrap(code Code, message, suggestion string, err error) *Error {
	return &Error{Code: code, Message: message, Suggestion: suggestion, Err: err}
}

// DependencyMissing reports a missing client tool or binary.
func DependencyMissing(tool string) *Error {
	return New(CodeDependencyMissing,
		fmt.Sprintf("required tool %q is not installed", tool),
		fmt.Sprintf("install client tool %s", tool),
	).WithDetails("tool", tool)
}

// VersionMismatch reports a dump newer than the available tool.
func VersionMismatch(engine string, dumpMajor, toolMajor int) *Error {
	return New(CodeVersionMismatch,
		fmt.Sprintf("dump major version %d is newer than tool major version %d", dumpMajor, toolMajor),
		fmt.Sprintf("install %s %d client tools", engine, dumpMajor),
	).WithDetails("dumpMajor", dumpMajor).WithDetails("toolMajor", toolMajor)
}

// WrongEngineDump reports a cross-family restore attempt.
func WrongEngineDump(detectedFormat, expectedEngine, detectedEngine string) *Error {
	return New(CodeWrongEngineDump,
		fmt.Sprintf("dump looks like a %s backup, not a %s backup", detectedEngine, expectedEngine),
		fmt.Sprintf("retry with --engine %s", detectedEngine),
	).
		WithDetails("detectedFormat", detectedFormat).
		WithDetails("expectedEngine", expectedEngine).
		WithDetails("detectedEngine", detectedEngine)
}

// ProcessStopTimeout reports a process that survived forced termination.
func ProcessStopTimeout(pid int) *Error {
	return New(CodeProcessStopTimeout,
		fmt.Sprintf("process %d is still alive after forced termination", pid),
		fmt.Sprintf("manually kill process %d", pid),
	).WithDetails("pid", pid)
}

// ConnectionFailed reports a failed connection to a running engine.
func ConnectionFailed(target string, err error) *Error {
	return Wrap(CodeConnectionFailed,
		fmt.Sprintf("failed to connect to %s", Mask(target)),
		"verify the container is running and the port is reachable",
		err,
	)
}

// InvalidIdentifier reports a database/table/user name that fails the
// identifier-safety check.
func InvalidIdentifier(kind, name string) *Error {
	return New(CodeInvalidIdentifier,
		fmt.Sprintf("invalid %s identifier %q", kind, name),
		"use only letters, digits and underscores, starting with a letter or underscore",
	).WithDetails("kind", kind).WithDetails("name", name)
}

// UnsupportedPlatform reports a platform tuple dbforge cannot download
// binaries for.
func UnsupportedPlatform(os, arch string) *Error {
	return New(CodeUnsupportedPlatform,
		fmt.Sprintf("unsupported platform %s/%s", os, arch),
		"run dbforge on darwin, linux or win32 with x64 or arm64",
	).WithDetails("os", os).WithDetails("arch", arch)
}

// UnsupportedOp reports a contract operation an adapter doesn't implement.
func UnsupportedOp(engine, op string) *Error {
	return New(CodeUnsupportedOp,
		fmt.Sprintf("%s does not support %s", engine, op),
		"use an engine from the relational or key-value families for this operation",
	).WithDetails("engine", engine).WithDetails("op", op)
}
