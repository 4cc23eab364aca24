// Package errs defines the coded error taxonomy shared by every webmock
// operation. Codes are stable strings so the CLI and the admin API can map
// failures without string matching.
package errs

import (
	"errors"
	"fmt"
)

const (
	// CodeBind means a listening socket could not be acquired at all.
	CodeBind = "bind_error"
	// CodePortInUse means the caller-requested port is taken.
	CodePortInUse = "port_in_use"
	// CodeBrowserLaunch means the browser process or its CDP endpoint
	// never came up. Fatal to the capture attempt, not the process.
	CodeBrowserLaunch = "browser_launch_failed"
	// CodeUpstreamConnect is a per-exchange upstream failure during
	// capture. Absorbed locally, never aborts the session.
	CodeUpstreamConnect = "upstream_connect_failed"
	// CodeNotFound means a named snapshot does not exist.
	CodeNotFound = "not_found"
	// CodeCorruptSnapshot means a snapshot file failed schema or
	// checksum validation on load.
	CodeCorruptSnapshot = "corrupt_snapshot"
	// CodeTimeout marks the capture deadline. It is a valid completion
	// state carrying partial results, not a failure.
	CodeTimeout = "timeout"
	// CodeInvalidURL rejects a capture target before any resource starts.
	CodeInvalidURL = "invalid_url"
	// CodeStorage covers filesystem failures in the snapshot store.
	CodeStorage = "storage"
)

// CodedError is a typed error used for stable CLI and API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// New builds a CodedError with an optional cause.
func New(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Newf builds a CodedError without a cause from a format string.
func Newf(code, format string, args ...any) error {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

// CodeOf returns the code of err, or "" when err is not a CodedError.
func CodeOf(err error) string {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return ""
	}
	return coded.Code
}
