package manifest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/systmms/vaultops/internal/git"
	"github.com/systmms/vaultops/internal/logging"
)

// Publication modes.
const (
	ModeLocal = "local"
	ModeGit   = "git"
)

// RepoFile is the manifest's name inside the configuration repository.
const RepoFile = "input.yaml"

// Repository is the git client surface used for publication.
type Repository interface {
	Clone(ctx context.Context, dir, branch string, depth int) (*git.Workspace, error)
	CommitAndPush(ctx context.Context, ws *git.Workspace, file, message, branch string, author git.Author) (git.Result, error)
}

// Publication describes where a manifest went.
type Publication struct {
	Mode   string
	Path   string
	Branch string
	// Changed is false when the repository already held the same manifest.
	Changed bool
}

// Publisher writes manifests. With a repository it clones, writes, commits
// and pushes; without one it writes a local file.
type Publisher struct {
	renderer  *Renderer
	fs        afero.Fs
	outputDir string
	repo      Repository
	logger    *logging.Logger
	observe   func(mode, result string)
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithRepository enables git mode.
func WithRepository(repo Repository) PublisherOption {
	return func(p *Publisher) { p.repo = repo }
}

// WithLogger sets the publisher's logger.
func WithLogger(l *logging.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// WithObserver registers a callback run once per publication with its mode
// and result ("ok" or "error").
func WithObserver(fn func(mode, result string)) PublisherOption {
	return func(p *Publisher) { p.observe = fn }
}

// NewPublisher creates a Publisher rooted at outputDir on fs.
func NewPublisher(renderer *Renderer, fs afero.Fs, outputDir string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		renderer:  renderer,
		fs:        fs,
		outputDir: outputDir,
		logger:    logging.Discard(),
		observe:   func(string, string) {},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Mode reports which publication path is active.
func (p *Publisher) Mode() string {
	if p.repo != nil {
		return ModeGit
	}
	return ModeLocal
}

// Publish renders the manifest for c and delivers it.
func (p *Publisher) Publish(ctx context.Context, c Context) (Publication, error) {
	mode := p.Mode()
	var (
		pub Publication
		err error
	)
	if mode == ModeGit {
		pub, err = p.publishGit(ctx, c)
	} else {
		pub, err = p.publishLocal(c)
	}
	if err != nil {
		p.observe(mode, "error")
		return Publication{Mode: mode}, err
	}
	p.observe(mode, "ok")
	return pub, nil
}

func (p *Publisher) publishLocal(c Context) (Publication, error) {
	content, err := p.renderer.RenderManifest(c)
	if err != nil {
		return Publication{}, err
	}

	dir := filepath.Join(p.outputDir, c.JobID)
	path := filepath.Join(dir, fmt.Sprintf("vault-gke-%s.yaml", c.ExecID))
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return Publication{}, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	if err := afero.WriteFile(p.fs, path, []byte(content), 0o644); err != nil {
		return Publication{}, fmt.Errorf("failed to write manifest %s: %w", path, err)
	}

	p.logger.Info("YAML generated: %s", path)
	return Publication{Mode: ModeLocal, Path: path, Changed: true}, nil
}

func (p *Publisher) publishGit(ctx context.Context, c Context) (Publication, error) {
	// Render first so a broken template never costs a clone.
	content, err := p.renderer.RenderManifest(c)
	if err != nil {
		return Publication{}, err
	}

	branch := git.BranchFor(c.Environment)
	dir := filepath.Join(p.outputDir, c.JobID, "config-repo-"+c.ExecID)
	p.logger.Info("Using git branch: %s for environment: %s", branch, c.Environment)

	ws, err := p.repo.Clone(ctx, dir, branch, git.DefaultDepth)
	if err != nil {
		return Publication{}, err
	}
	if err := ws.WriteFile(RepoFile, []byte(content)); err != nil {
		return Publication{}, err
	}

	res, err := p.repo.CommitAndPush(ctx, ws, RepoFile, CommitMessage(c), branch, git.Author{})
	if err != nil {
		return Publication{}, err
	}

	return Publication{
		Mode:    ModeGit,
		Path:    filepath.Join(dir, RepoFile),
		Branch:  branch,
		Changed: res.Changed,
	}, nil
}

// CommitMessage is "{title} on {env} (Job: {jobID})".
func CommitMessage(c Context) string {
	title := c.Title
	if title == "" {
		title = "Update " + RepoFile + " for " + c.SecretName
	}
	return fmt.Sprintf("%s on %s (Job: %s)", title, c.Environment, c.JobID)
}
