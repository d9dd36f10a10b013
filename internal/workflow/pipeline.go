// Package workflow runs the secret lifecycle operations. Every operation goes
// through the same pipeline: an action-specific mutation of the secret store,
// then manifest publication, then a notification.
package workflow

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/systmms/vaultops/internal/logging"
	"github.com/systmms/vaultops/internal/manifest"
	"github.com/systmms/vaultops/internal/metrics"
	"github.com/systmms/vaultops/internal/notify"
	"github.com/systmms/vaultops/internal/rundeck"
	"github.com/systmms/vaultops/internal/vault"
)

// Outcomes reported to metrics and notifications.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// Action is one workflow variant. It performs the read/decide/mutate step
// and fills in the manifest context for the steps that follow.
type Action interface {
	Name() string
	execute(ctx context.Context, p *Pipeline, c *manifest.Context) (*Result, error)
}

// Publisher delivers a rendered manifest.
type Publisher interface {
	Publish(ctx context.Context, c manifest.Context) (manifest.Publication, error)
}

// Result reports what a workflow did. A non-nil Result always means the
// secret store reached the intended state.
type Result struct {
	Action string
	Path   string
	// Keys are the manifest keys. For Delete they are the keys that existed
	// before deletion.
	Keys []string
	Plan *MergePlan

	// Permalink is set by Request to the imported job.
	Permalink string
	JobID     string

	ManifestPath string
	Published    bool
	PublishErr   error
	NotifyErr    error

	publish bool
}

// Partial reports whether the secret change succeeded but its manifest
// could not be published.
func (r *Result) Partial() bool {
	return r != nil && r.PublishErr != nil
}

// Outcome is OutcomeSuccess or OutcomePartial.
func (r *Result) Outcome() string {
	if r.Partial() {
		return OutcomePartial
	}
	return OutcomeSuccess
}

// Pipeline holds the collaborators shared by every action. Its fields are
// fixed at construction.
type Pipeline struct {
	store     vault.Store
	publisher Publisher
	importer  rundeck.Importer
	notifier  notify.Notifier
	fs        afero.Fs
	outputDir string
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPublisher enables manifest publication. Without it the publish step
// is skipped.
func WithPublisher(pub Publisher) PipelineOption {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithImporter sets the job importer used by Request.
func WithImporter(i rundeck.Importer) PipelineOption {
	return func(p *Pipeline) { p.importer = i }
}

// WithNotifier sets the notifier. The default drops messages with a warning.
func WithNotifier(n notify.Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

// WithOutput sets where generated job definitions are kept.
func WithOutput(fs afero.Fs, dir string) PipelineOption {
	return func(p *Pipeline) {
		p.fs = fs
		p.outputDir = dir
	}
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics records workflow outcomes.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a Pipeline over store.
func NewPipeline(store vault.Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:  store,
		logger: logging.Discard(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.notifier == nil {
		p.notifier = notify.Noop{Logger: p.logger}
	}
	return p
}

// Run executes a and then publishes and notifies. Publication and
// notification failures are recorded on the Result and never turn a
// completed mutation into an error.
func (p *Pipeline) Run(ctx context.Context, a Action, c manifest.Context) (*Result, error) {
	start := time.Now()

	res, err := a.execute(ctx, p, &c)
	if err != nil {
		p.logger.Error("%s failed: %v", a.Name(), err)
		p.metrics.ObserveWorkflow(a.Name(), OutcomeFailure, time.Since(start))
		title := c.Title
		if title == "" {
			title = a.Name()
		}
		p.send(ctx, notify.Message{
			Title:   title + " failed",
			User:    c.User,
			Status:  notify.StatusFailure,
			Details: err.Error(),
		})
		return nil, err
	}
	res.Action = a.Name()

	if res.publish {
		p.publish(ctx, c, res)
	}

	msg := notify.Message{
		Title:  c.Title,
		Link:   res.Permalink,
		User:   c.User,
		Status: notify.StatusSuccess,
	}
	if res.Partial() {
		msg.Status = notify.StatusPartial
		msg.Details = "Secret updated, manifest publication failed: " + res.PublishErr.Error()
	}
	res.NotifyErr = p.send(ctx, msg)

	p.metrics.ObserveWorkflow(a.Name(), res.Outcome(), time.Since(start))
	return res, nil
}

func (p *Pipeline) publish(ctx context.Context, c manifest.Context, res *Result) {
	if p.publisher == nil {
		p.logger.Info("Manifest generation skipped")
		return
	}

	p.logger.Section("Publishing manifest for %s", c.SecretName)
	pub, err := p.publisher.Publish(ctx, c)
	if err != nil {
		res.PublishErr = err
		p.logger.Warn("Manifest publication failed (non-critical): %v", err)
		return
	}
	res.Published = true
	res.ManifestPath = pub.Path
	if pub.Changed {
		p.logger.Info("Manifest published: %s", pub.Path)
	} else {
		p.logger.Info("Manifest unchanged, nothing to commit")
	}
}

func (p *Pipeline) send(ctx context.Context, msg notify.Message) error {
	if err := p.notifier.Send(ctx, msg); err != nil {
		p.logger.Warn("Notification failed (non-critical): %v", err)
		return err
	}
	return nil
}

// fill completes the manifest context from the action's own inputs.
func fill(c *manifest.Context, secretPath string, action manifest.Action, keys []string, title string) {
	if c.SecretName == "" {
		c.SecretName = path.Base(secretPath)
	}
	c.Action = action
	c.Keys = sorted(keys)
	if c.Title == "" && title != "" {
		c.Title = title + " " + c.SecretName
	}
}

func sorted(keys []string) []string {
	out := append([]string{}, keys...)
	sort.Strings(out)
	return out
}
