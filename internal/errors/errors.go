package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes returned by every workflow command.
const (
	ExitOK          = 0
	ExitValidation  = 1
	ExitOperational = 2
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context.
// It is always raised before any secret is mutated.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ValidationError reports caller input that cannot be acted on, such as
// creating a secret that already exists or an empty key list.
type ValidationError struct {
	Message    string
	Suggestion string
}

func (e ValidationError) Error() string {
	msg := "Validation failed: " + e.Message
	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}
	return msg
}

// CommandError represents a command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// validationCause is implemented by domain errors that are caused by the
// caller rather than by a failing dependency.
type validationCause interface {
	ValidationFailure() bool
}

// ExitCode maps an error to the closed set of process exit codes:
// success, validation failure and operational failure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return ExitValidation
	}
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return ExitValidation
	}
	var vc validationCause
	if errors.As(err, &vc) && vc.ValidationFailure() {
		return ExitValidation
	}

	return ExitOperational
}

// WrapCommandNotFound wraps command not found errors with helpful suggestions
func WrapCommandNotFound(command string, err error) error {
	suggestions := map[string]string{
		"git": "Install Git from https://git-scm.com/",
	}

	suggestion := suggestions[command]
	if suggestion == "" {
		suggestion = fmt.Sprintf("Make sure '%s' is installed and in your PATH", command)
	}

	return CommandError{
		Command:    command,
		Message:    "command not found: " + err.Error(),
		Suggestion: suggestion,
	}
}

// Suggest returns a hint for well-known failure messages from the store,
// the job system or git. It returns "" when nothing useful can be said.
func Suggest(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "permission denied"), strings.Contains(errStr, "status 403"):
		return "Check that the token has the required policy for this path"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "The operation timed out. Check your network connection and try again"
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no such host"):
		return "Unable to connect. Check the configured address"
	case strings.Contains(errStr, "non-fast-forward"), strings.Contains(errStr, "rejected"):
		return "The branch moved while the manifest was being prepared. Re-run the job"
	}
	return ""
}
