package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/huddle/internal/engine"
)

// Process exit codes.
const (
	ExitSuccess      = 0 // command finished
	ExitFailure      = 1 // finished with a bad outcome: failed assertions, skipped rows, shutdown error
	ExitCommandError = 2 // could not run: bad flags or config, registry or link unavailable
)

// ExitError carries the exit code a command wants main to use.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that carry no code
// exit with ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// sessionExitError reports a session that never came up as a command error
// and anything later as a failure.
func sessionExitError(msg string, err error) error {
	if engine.IsSessionError(err) {
		return WrapExitError(ExitCommandError, msg, err)
	}
	return WrapExitError(ExitFailure, msg, err)
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format    string // "text" or "json"
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer when nil
	Verbose   bool
}

// CLIResponse is the JSON envelope around every result.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

// Success writes data as an "ok" envelope in JSON mode. In text mode it
// calls text, or prints data with %v when text is nil.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	switch {
	case f.isJSON():
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	case text != nil:
		text(f.Writer)
		return nil
	default:
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
}

// Error writes an "error" envelope in JSON mode, or one line of text.
// Details are printed in text mode only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		resp := CLIResponse{Status: "error", Error: &CLIError{Code: code, Message: message, Details: details}}
		return json.NewEncoder(f.Writer).Encode(resp)
	}
	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Debugf writes a diagnostic line when verbose. It goes to ErrWriter so
// JSON on Writer stays parseable.
func (f *OutputFormatter) Debugf(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.diagnostics(), format+"\n", args...)
	}
}

func (f *OutputFormatter) diagnostics() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}
