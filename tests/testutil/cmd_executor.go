// Package testutil provides testing utilities for vaultops.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockCommandExecutor provides a configurable mock for code that shells out
// (the git integration). It satisfies exec.CommandExecutor.
type MockCommandExecutor struct {
	mu sync.Mutex

	// Responses maps command patterns to their mock responses.
	// Key format: "command arg1 arg2" (space-separated command and args).
	// A "*" in a pattern matches any run of characters.
	Responses map[string]MockResponse

	// DefaultResponse is used when no matching pattern is found.
	DefaultResponse *MockResponse

	// RecordedCalls stores all calls made to Execute for verification.
	RecordedCalls []RecordedCall

	// StrictMode causes Execute to fail if no matching response is found.
	StrictMode bool
}

// MockResponse defines the expected output for a mocked command.
type MockResponse struct {
	Stdout   []byte
	Stderr   []byte
	Err      error
	ExitCode int // Used to simulate exit codes when Err is nil
}

// RecordedCall stores information about a command execution.
type RecordedCall struct {
	Command string
	Args    []string
	Context context.Context
}

// Line returns the call as a single space-separated string.
func (c RecordedCall) Line() string {
	return buildKey(c.Command, c.Args)
}

// NewMockCommandExecutor creates a new mock executor with empty responses.
func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{
		Responses:     make(map[string]MockResponse),
		RecordedCalls: make([]RecordedCall, 0),
	}
}

// Execute returns the mocked response for the given command.
func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordedCalls = append(m.RecordedCalls, RecordedCall{
		Command: name,
		Args:    append([]string(nil), args...),
		Context: ctx,
	})

	key := buildKey(name, args)

	if resp, ok := m.Responses[key]; ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}

	// Longest matching pattern wins so specific overrides beat broad ones.
	best := ""
	for pattern := range m.Responses {
		if matchesPattern(key, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		resp := m.Responses[best]
		return resp.Stdout, resp.Stderr, resp.Err
	}

	if m.DefaultResponse != nil {
		return m.DefaultResponse.Stdout, m.DefaultResponse.Stderr, m.DefaultResponse.Err
	}

	if m.StrictMode {
		return nil, nil, fmt.Errorf("mock: no response configured for command: %s", key)
	}

	return []byte{}, []byte{}, nil
}

func buildKey(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// matchesPattern reports whether key starts with pattern, treating "*" as a
// wildcard.
func matchesPattern(key, pattern string) bool {
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	rest := key[len(parts[0]):]
	for _, part := range parts[1:] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}
	return true
}

// AddResponse registers a mock response for a specific command pattern.
func (m *MockCommandExecutor) AddResponse(commandPattern string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[commandPattern] = response
}

// AddErrorResponse adds an error response for a command pattern.
func (m *MockCommandExecutor) AddErrorResponse(commandPattern string, errMsg string, exitCode int) {
	m.AddResponse(commandPattern, MockResponse{
		Stdout:   []byte{},
		Stderr:   []byte(errMsg),
		Err:      fmt.Errorf("exit status %d: %s", exitCode, errMsg),
		ExitCode: exitCode,
	})
}

// Lines returns every recorded call rendered with RecordedCall.Line.
func (m *MockCommandExecutor) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.RecordedCalls))
	for _, call := range m.RecordedCalls {
		out = append(out, call.Line())
	}
	return out
}

// CallCount returns the number of times Execute was called.
func (m *MockCommandExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedCalls)
}

// AssertCalled verifies that a call containing fragment was made at least once.
func (m *MockCommandExecutor) AssertCalled(t interface{ Error(args ...interface{}) }, fragment string) bool {
	for _, line := range m.Lines() {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	t.Error("expected a call containing", fragment, "but none was made")
	return false
}

// AssertNotCalled verifies that no call containing fragment was made.
func (m *MockCommandExecutor) AssertNotCalled(t interface{ Error(args ...interface{}) }, fragment string) bool {
	for _, line := range m.Lines() {
		if strings.Contains(line, fragment) {
			t.Error("expected no call containing", fragment, "but got", line)
			return false
		}
	}
	return true
}

// GitMockResponses provides pre-configured responses for the git CLI.
type GitMockResponses struct{}

// StatusClean is the porcelain output of a tree with nothing to commit.
func (GitMockResponses) StatusClean() MockResponse {
	return MockResponse{Stdout: []byte{}}
}

// StatusModified is the porcelain output after staging file.
func (GitMockResponses) StatusModified(file string) MockResponse {
	return MockResponse{Stdout: []byte("M  " + file + "\n")}
}

// PushAccepted is the porcelain output of a successful push.
func (GitMockResponses) PushAccepted(branch string) MockResponse {
	return MockResponse{Stdout: []byte(fmt.Sprintf(
		"To https://git.example.com/config.git\n \trefs/heads/%[1]s:refs/heads/%[1]s\tabc123..def456\nDone\n", branch))}
}

// PushRejected is the porcelain output of a non-fast-forward rejection.
// git exits 1 in this case.
func (GitMockResponses) PushRejected(branch string) MockResponse {
	return MockResponse{
		Stdout: []byte(fmt.Sprintf(
			"To https://git.example.com/config.git\n!\trefs/heads/%[1]s:refs/heads/%[1]s\t[rejected] (non-fast-forward)\nDone\n", branch)),
		Stderr:   []byte("error: failed to push some refs\n"),
		Err:      fmt.Errorf("exit status 1"),
		ExitCode: 1,
	}
}
