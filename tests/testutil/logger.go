package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/vaultops/internal/logging"
)

// TestLogger captures the output of a logging.Logger so tests can check
// what was logged and, above all, that secret values never were.
//
// Example usage:
//
//	logs := NewTestLogger(t)
//	p := workflow.NewPipeline(store, workflow.WithLogger(logs.Logger))
//	...
//	logs.AssertNoSecretLeak(t, "s3cret")
type TestLogger struct {
	*logging.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

type lockedWriter struct {
	l *TestLogger
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	return w.l.buf.Write(p)
}

// NewTestLogger returns a debug-level, colorless capturing logger.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	l := &TestLogger{}
	l.Logger = logging.NewWithWriter(lockedWriter{l}, true, true)
	return l
}

// GetOutput returns everything logged so far.
func (l *TestLogger) GetOutput() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// Lines returns the non-empty logged lines.
func (l *TestLogger) Lines() []string {
	var lines []string
	for _, line := range strings.Split(l.GetOutput(), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// AssertContains checks that substr was logged.
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	assert.Contains(t, l.GetOutput(), substr, "Expected log output to contain %q", substr)
}

// AssertNoSecretLeak checks that none of the values appear in the output.
func (l *TestLogger) AssertNoSecretLeak(t *testing.T, secrets ...string) {
	t.Helper()
	output := l.GetOutput()
	for _, secret := range secrets {
		assert.NotContains(t, output, secret, "Secret %q appears in log output", secret)
	}
}
