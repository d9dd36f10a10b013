// Package git drives the clone, write, commit and push cycle against the
// configuration repository through the git CLI.
package git

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/systmms/vaultops/internal/config"
	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/logging"
	"github.com/systmms/vaultops/pkg/exec"
)

// DefaultDepth is the clone depth used by publication.
const DefaultDepth = 1

// Author identifies the committer. Empty fields fall back to the identity.
type Author struct {
	Name  string
	Email string
}

// Result describes the outcome of CommitAndPush.
type Result struct {
	// Changed is false when the staged tree matched HEAD and nothing was
	// committed or pushed.
	Changed bool
	Branch  string
}

// Option configures a Client.
type Option func(*Client)

// WithExecutor replaces the command executor.
func WithExecutor(e exec.CommandExecutor) Option {
	return func(c *Client) { c.exec = e }
}

// WithFs sets the filesystem that holds workspaces.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) { c.fs = fs }
}

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client runs git against one remote with one identity.
type Client struct {
	identity config.GitConfig
	authURL  string
	secrets  []string

	exec   exec.CommandExecutor
	fs     afero.Fs
	logger *logging.Logger
}

// New creates a Client for the identity's repository.
func New(identity config.GitConfig, opts ...Option) (*Client, error) {
	if identity.URL == "" {
		return nil, fmt.Errorf("git repository URL is required")
	}
	authURL, err := AuthURL(identity)
	if err != nil {
		return nil, err
	}

	c := &Client{
		identity: identity,
		authURL:  authURL,
		secrets:  secretsOf(identity),
		exec:     exec.DefaultExecutor(),
		fs:       afero.NewOsFs(),
		logger:   logging.Discard(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// secretsOf lists every form in which the token may appear in output.
func secretsOf(id config.GitConfig) []string {
	if id.Token == "" {
		return nil
	}
	out := []string{id.Token}
	if escaped := url.UserPassword("x", id.Token).String(); escaped != "" {
		if _, pass, ok := strings.Cut(escaped, ":"); ok && pass != id.Token {
			out = append(out, pass)
		}
	}
	return out
}

// Clone removes anything at dir and clones branch into it. depth <= 0 means
// a full clone.
func (c *Client) Clone(ctx context.Context, dir, branch string, depth int) (*Workspace, error) {
	if exists, _ := afero.Exists(c.fs, dir); exists {
		c.logger.Info("Removing existing directory: %s", dir)
	}
	if err := c.fs.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to remove stale workspace %s: %w", dir, err)
	}
	if err := c.fs.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace parent for %s: %w", dir, err)
	}

	args := []string{"clone"}
	if depth > 0 {
		args = append(args, "--depth", strconv.Itoa(depth))
	}
	args = append(args, "--branch", branch, "--single-branch", c.authURL, dir)

	c.logger.Info("Cloning branch '%s' to %s", branch, dir)
	c.logger.Debug("Repository: %s", c.identity.URL)
	if _, err := c.run(ctx, "clone", args...); err != nil {
		return nil, err
	}

	c.logger.Info("Cloned branch '%s'", branch)
	return &Workspace{Dir: dir, Branch: branch, fs: c.fs, state: Cloned}, nil
}

// CommitAndPush stages file, commits it when it differs from HEAD, and pushes
// branch to origin. An unchanged tree is a successful no-op.
func (c *Client) CommitAndPush(ctx context.Context, ws *Workspace, file, message, branch string, author Author) (Result, error) {
	if err := ws.expect(Modified); err != nil {
		return Result{}, err
	}
	if branch == "" {
		branch = ws.Branch
	}
	author = c.resolveAuthor(author)

	if _, err := c.run(ctx, "add", "-C", ws.Dir, "add", "--", file); err != nil {
		return Result{}, err
	}

	status, err := c.run(ctx, "status", "-C", ws.Dir, "status", "--porcelain")
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(status) == "" {
		c.logger.Info("No changes to commit")
		ws.state = Pushed
		return Result{Changed: false, Branch: branch}, nil
	}

	c.logger.Info("Committing changes: %s", message)
	if _, err := c.run(ctx, "commit",
		"-C", ws.Dir,
		"-c", "user.name="+author.Name,
		"-c", "user.email="+author.Email,
		"commit", "-m", message,
		"--author", fmt.Sprintf("%s <%s>", author.Name, author.Email),
	); err != nil {
		return Result{}, err
	}
	ws.state = Committed

	c.logger.Info("Pushing changes to branch: %s", branch)
	out, err := c.run(ctx, "push", "-C", ws.Dir, "push", "--porcelain", "origin", branch+":"+branch)
	if rejected := rejectedRefs(out); len(rejected) > 0 {
		return Result{}, &Error{Op: "push", Stderr: strings.Join(rejected, "\n"), Err: err, secrets: c.secrets}
	}
	if err != nil {
		return Result{}, err
	}
	ws.state = Pushed

	c.logger.Info("Pushed to branch: %s", branch)
	return Result{Changed: true, Branch: branch}, nil
}

func (c *Client) resolveAuthor(a Author) Author {
	if a.Name == "" {
		a.Name = c.identity.AuthorName
	}
	if a.Name == "" {
		a.Name = c.identity.Username
	}
	if a.Email == "" {
		a.Email = c.identity.AuthorEmail
	}
	return a
}

// rejectedRefs returns the porcelain lines flagged with "!".
func rejectedRefs(out string) []string {
	var rejected []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "!") {
			rejected = append(rejected, strings.TrimSpace(strings.TrimPrefix(line, "!")))
		}
	}
	return rejected
}

// run executes git and converts a failure into *Error. op names the step for
// messages; args are passed to git verbatim.
func (c *Client) run(ctx context.Context, op string, args ...string) (string, error) {
	c.logger.Debug("git %s", logging.Redact(strings.Join(args, " "), c.secrets))
	stdout, stderr, err := c.exec.Execute(ctx, "git", args...)
	if errors.Is(err, exec.ErrNotFound) {
		return "", vaerrors.WrapCommandNotFound("git", err)
	}
	if err != nil {
		return string(stdout), &Error{
			Op:       op,
			ExitCode: exec.ExitCode(err),
			Stderr:   string(stderr),
			Err:      err,
			secrets:  c.secrets,
		}
	}
	return string(stdout), nil
}
