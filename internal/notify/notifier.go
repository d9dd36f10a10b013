// Package notify reports workflow outcomes to a chat channel. Delivery is
// best effort: callers log a failed notification and carry on.
package notify

import (
	"context"
	"fmt"

	"github.com/systmms/vaultops/internal/logging"
)

// Status is the outcome a message reports.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// Message is one notification.
type Message struct {
	Title   string
	Link    string
	User    string
	Status  Status
	Details string
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Error is returned once every delivery attempt has failed.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notification failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Noop is used when no channel is configured.
type Noop struct {
	Logger *logging.Logger
}

// Send logs that the message was skipped.
func (n Noop) Send(_ context.Context, msg Message) error {
	if n.Logger != nil {
		n.Logger.Warn("Slack webhook URL not configured, skipping notification: %s", msg.Title)
	}
	return nil
}
