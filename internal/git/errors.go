package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/vaultops/internal/logging"
)

// ErrInvalidState is returned when a workspace operation is attempted out of
// order, for example committing before anything was written.
var ErrInvalidState = errors.New("invalid workspace state")

// Error describes a failed git command. Credentials are redacted from the
// rendered message.
type Error struct {
	Op       string
	ExitCode int
	Stderr   string
	Err      error

	secrets []string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("git %s failed", e.Op)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return logging.Redact(msg, e.secrets)
}

func (e *Error) Unwrap() error { return e.Err }

// IsError reports whether err is a git command failure.
func IsError(err error) bool {
	var ge *Error
	return errors.As(err, &ge)
}
