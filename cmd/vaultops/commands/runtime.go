package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/systmms/vaultops/internal/config"
	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/git"
	"github.com/systmms/vaultops/internal/logging"
	"github.com/systmms/vaultops/internal/manifest"
	"github.com/systmms/vaultops/internal/metrics"
	"github.com/systmms/vaultops/internal/notify"
	"github.com/systmms/vaultops/internal/rundeck"
	"github.com/systmms/vaultops/internal/vault"
	"github.com/systmms/vaultops/internal/workflow"
	"github.com/systmms/vaultops/pkg/exec"
)

// Runtime carries the process-level resources every command builds its
// clients from. Tests replace the filesystem and the command executor.
type Runtime struct {
	Config   *config.Config
	Fs       afero.Fs
	Executor exec.CommandExecutor
	Metrics  *metrics.Metrics
}

// NewRuntime returns a Runtime backed by the real filesystem and git.
func NewRuntime(cfg *config.Config) *Runtime {
	return &Runtime{
		Config:   cfg,
		Fs:       afero.NewOsFs(),
		Executor: exec.DefaultExecutor(),
		Metrics:  metrics.Default(),
	}
}

func (rt *Runtime) logger() *logging.Logger {
	if rt.Config.Logger == nil {
		rt.Config.Logger = logging.Discard()
	}
	return rt.Config.Logger
}

// settings loads the configuration snapshot and checks what the command
// needs before anything is mutated.
func (rt *Runtime) settings(needs config.Needs) (*config.Settings, error) {
	s, err := rt.Config.Load()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(needs); err != nil {
		return nil, err
	}
	return s, nil
}

func (rt *Runtime) store(s *config.Settings) (*vault.Client, error) {
	format, err := vault.ParseKVFormat(s.Vault.KVVersion)
	if err != nil {
		return nil, vaerrors.ConfigError{Field: "VAULT_KV_VERSION", Value: s.Vault.KVVersion, Message: err.Error()}
	}
	rt.logger().Info("Vault address: %s (KV %s)", s.Vault.Addr, format)
	return vault.New(vault.Config{
		Address:       s.Vault.Addr,
		Token:         s.Vault.Token,
		Namespace:     s.Vault.Namespace,
		Format:        format,
		Timeout:       s.Vault.Timeout,
		MaxRetries:    s.Vault.MaxRetries,
		CACert:        s.Vault.CACert,
		TLSSkipVerify: s.Vault.TLSSkipVerify,
	}, vault.WithLogger(rt.logger()), vault.WithObserver(rt.Metrics.ObserveStore))
}

func (rt *Runtime) notifier(s *config.Settings) notify.Notifier {
	return notify.New(notify.SlackConfig{
		WebhookURL: s.Slack.WebhookURL,
		Attempts:   s.Slack.Attempts,
		Delay:      s.Slack.Delay,
		Timeout:    s.Slack.Timeout,
	}, rt.logger(), notify.WithFailureHook(rt.Metrics.NotificationFailed))
}

func (rt *Runtime) publisher(s *config.Settings) (*manifest.Publisher, error) {
	opts := []manifest.PublisherOption{
		manifest.WithLogger(rt.logger()),
		manifest.WithObserver(rt.Metrics.ObservePublication),
	}
	if s.Git.Enabled() {
		repo, err := git.New(s.Git,
			git.WithExecutor(rt.Executor), git.WithFs(rt.Fs), git.WithLogger(rt.logger()))
		if err != nil {
			return nil, err
		}
		opts = append(opts, manifest.WithRepository(repo))
	}
	renderer := manifest.NewRenderer(rt.Fs, s.Manifest.TemplateDir)
	return manifest.NewPublisher(renderer, rt.Fs, s.Manifest.OutputDir, opts...), nil
}

func (rt *Runtime) importer(s *config.Settings) (*rundeck.Client, error) {
	return rundeck.New(rundeck.Config{
		URL:        s.Rundeck.URL,
		Token:      s.Rundeck.Token,
		Project:    s.Rundeck.Project,
		APIVersion: s.Rundeck.APIVersion,
		Timeout:    s.Rundeck.Timeout,
		MaxRetries: rundeck.DefaultMaxRetries,
	}, rundeck.WithLogger(rt.logger()))
}

// pipeline wires the store, notifier and metrics shared by every workflow.
func (rt *Runtime) pipeline(s *config.Settings, store vault.Store, opts ...workflow.PipelineOption) *workflow.Pipeline {
	base := []workflow.PipelineOption{
		workflow.WithLogger(rt.logger()),
		workflow.WithNotifier(rt.notifier(s)),
		workflow.WithMetrics(rt.Metrics),
		workflow.WithOutput(rt.Fs, s.Manifest.OutputDir),
	}
	return workflow.NewPipeline(store, append(base, opts...)...)
}

// manifestContext builds the run's manifest context from the job system.
func manifestContext(inv config.Invocation) manifest.Context {
	c := manifest.Context{
		Environment: inv.Env,
		SecretName:  inv.VaultName,
		Namespace:   inv.Namespace,
		JobID:       inv.JobID,
		ExecID:      inv.ExecID,
		User:        inv.User,
	}
	if inv.JobName != "" && inv.VaultName != "" {
		c.Title = fmt.Sprintf("%s for %s", inv.JobName, inv.VaultName)
	}
	return c
}

// report logs the run's final status. Partial success is not an error.
func (rt *Runtime) report(res *workflow.Result) {
	log := rt.logger()
	if res.Partial() {
		log.Warn("%s completed, but the manifest was not published: %v", res.Action, res.PublishErr)
		if hint := vaerrors.Suggest(res.PublishErr); hint != "" {
			log.Warn("%s", hint)
		}
		return
	}
	log.Section("%s COMPLETED SUCCESSFULLY", strings.ToUpper(res.Action))
}

// Flush pushes the run's metrics when a Pushgateway is configured.
func (rt *Runtime) Flush(ctx context.Context) error {
	s, err := rt.Config.Load()
	if err != nil || s.Metrics.Pushgateway == "" {
		return nil
	}
	return rt.Metrics.Push(ctx, s.Metrics.Pushgateway, s.Metrics.Job, map[string]string{"instance": s.Invocation.JobID})
}
