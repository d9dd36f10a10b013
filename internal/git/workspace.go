package git

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// State is the lifecycle position of a Workspace.
type State int

const (
	Uninitialized State = iota
	Cloned
	Modified
	Committed
	Pushed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Cloned:
		return "cloned"
	case Modified:
		return "modified"
	case Committed:
		return "committed"
	case Pushed:
		return "pushed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Workspace is an exclusive local clone owned by one invocation. It moves
// strictly forward through Cloned, Modified, Committed and Pushed and is
// never reused.
type Workspace struct {
	Dir    string
	Branch string

	fs    afero.Fs
	state State
}

// State returns the workspace's current state.
func (w *Workspace) State() State {
	if w == nil {
		return Uninitialized
	}
	return w.state
}

// WriteFile writes data to rel inside the workspace, creating parent
// directories as needed.
func (w *Workspace) WriteFile(rel string, data []byte) error {
	if err := w.expect(Cloned, Modified); err != nil {
		return err
	}
	target, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if err := w.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	if err := afero.WriteFile(w.fs, target, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	w.state = Modified
	return nil
}

// ReadFile returns the content of rel inside the workspace.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	if w.State() == Uninitialized {
		return nil, fmt.Errorf("read %s: %w", rel, ErrInvalidState)
	}
	target, err := w.resolve(rel)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(w.fs, target)
}

func (w *Workspace) resolve(rel string) (string, error) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return filepath.Join(w.Dir, clean), nil
}

func (w *Workspace) expect(allowed ...State) error {
	current := w.State()
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	return fmt.Errorf("workspace is %s: %w", current, ErrInvalidState)
}
