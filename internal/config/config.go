package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/logging"
)

//go:embed schema.json
var schema string

// Defaults applied when neither the file nor the environment sets a value.
const (
	DefaultVaultAddr         = "https://vault.example.com"
	DefaultVaultPath         = "secret/data/dev"
	DefaultKVVersion         = 1
	DefaultVaultTimeout      = 30 * time.Second
	DefaultVaultMaxRetries   = 2
	DefaultRundeckURL        = "http://localhost:4440"
	DefaultRundeckProject    = "vault-management"
	DefaultRundeckAPIVersion = 54
	DefaultRundeckTimeout    = 30 * time.Second
	DefaultSlackAttempts     = 3
	DefaultSlackDelay        = 2 * time.Second
	DefaultSlackTimeout      = 10 * time.Second
	DefaultTemplateDir       = "./template"
	DefaultOutputDir         = "/tmp"
	DefaultMetricsJob        = "vaultops"
	DefaultEnvironment       = "dev"
	DefaultNamespace         = "default"
	DefaultAction            = "create"
	LocalJobID               = "local"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config holds the runtime configuration shared by every command.
type Config struct {
	// Path is the optional YAML configuration file.
	Path   string
	Logger *logging.Logger
	// Lookup resolves environment variables; nil means os.LookupEnv.
	Lookup LookupFunc

	settings *Settings
}

// Load builds the settings snapshot once and caches it.
func (c *Config) Load() (*Settings, error) {
	if c.settings != nil {
		return c.settings, nil
	}
	lookup := c.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	s, err := Load(lookup, c.Path)
	if err != nil {
		return nil, err
	}
	c.settings = s
	return s, nil
}

// Settings is the immutable configuration snapshot of one invocation.
type Settings struct {
	Vault      VaultConfig
	Rundeck    RundeckConfig
	Git        GitConfig
	Slack      SlackConfig
	Manifest   ManifestConfig
	Metrics    MetricsConfig
	Invocation Invocation
}

// VaultConfig locates the secret store.
type VaultConfig struct {
	Addr       string
	Token      string
	Namespace  string
	Path       string
	KVVersion  int
	Timeout    time.Duration
	MaxRetries int

	// CACert is a PEM file used to verify the Vault server.
	CACert        string
	TLSSkipVerify bool
}

// RundeckConfig locates the job system.
type RundeckConfig struct {
	URL        string
	Token      string
	Project    string
	APIVersion int
	Timeout    time.Duration
}

// GitConfig is the identity used against the configuration repository.
// An empty URL means manifests are written locally instead.
type GitConfig struct {
	URL         string
	Username    string
	Token       string
	AuthorName  string
	AuthorEmail string
}

// Enabled reports whether manifests are published through git.
func (g GitConfig) Enabled() bool { return g.URL != "" }

// SlackConfig configures the notifier. An empty webhook disables it.
type SlackConfig struct {
	WebhookURL string
	Attempts   int
	Delay      time.Duration
	Timeout    time.Duration
}

// ManifestConfig locates templates and local output.
type ManifestConfig struct {
	TemplateDir string
	OutputDir   string
}

// MetricsConfig enables pushing metrics at process end.
type MetricsConfig struct {
	Pushgateway string
	Job         string
}

// Invocation is the job-system context of the current run, taken from the
// RD_JOB_* and RD_OPTION_* variables Rundeck exports.
type Invocation struct {
	JobID     string
	ExecID    string
	JobName   string
	User      string
	Env       string
	VaultName string
	Namespace string
	Action    string

	lookup LookupFunc
}

// Option returns the job option called name. Names are normalized the way
// Rundeck exports them (upper case, non-alphanumerics become "_").
func (i Invocation) Option(name string) (string, bool) {
	if i.lookup == nil {
		return "", false
	}
	return i.lookup("RD_OPTION_" + OptionKey(name))
}

// WithOptions returns a copy of i whose job options come from opts, keyed by
// option name. Used when options are supplied on the command line.
func (i Invocation) WithOptions(opts map[string]string) Invocation {
	normalized := make(map[string]string, len(opts))
	for k, v := range opts {
		normalized["RD_OPTION_"+OptionKey(k)] = v
	}
	parent := i.lookup
	i.lookup = func(key string) (string, bool) {
		if v, ok := normalized[key]; ok {
			return v, true
		}
		if parent != nil {
			return parent(key)
		}
		return "", false
	}
	return i
}

// OptionKey normalizes a job option name to its RD_OPTION_ suffix.
func OptionKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// fileConfig mirrors the YAML file. Credentials are never read from it.
type fileConfig struct {
	Vault struct {
		Addr       string `yaml:"addr"`
		Namespace  string `yaml:"namespace"`
		Path       string `yaml:"path"`
		KVVersion  int    `yaml:"kv_version"`
		Timeout    string `yaml:"timeout"`
		MaxRetries *int   `yaml:"max_retries"`
		CACert     string `yaml:"ca_cert"`
		SkipVerify bool   `yaml:"tls_skip_verify"`
	} `yaml:"vault"`
	Rundeck struct {
		URL        string `yaml:"url"`
		Project    string `yaml:"project"`
		APIVersion int    `yaml:"api_version"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"rundeck"`
	Git struct {
		URL         string `yaml:"url"`
		Username    string `yaml:"username"`
		AuthorName  string `yaml:"author_name"`
		AuthorEmail string `yaml:"author_email"`
	} `yaml:"git"`
	Slack struct {
		Attempts int    `yaml:"attempts"`
		Delay    string `yaml:"delay"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"slack"`
	Manifest struct {
		TemplateDir string `yaml:"template_dir"`
		OutputDir   string `yaml:"output_dir"`
	} `yaml:"manifest"`
	Metrics struct {
		Pushgateway string `yaml:"pushgateway"`
		Job         string `yaml:"job"`
	} `yaml:"metrics"`
}

// Load builds a Settings snapshot: defaults, then the optional YAML file,
// then environment variables.
func Load(lookup LookupFunc, file string) (*Settings, error) {
	s := defaults()

	if file != "" {
		fc, err := readFile(file)
		if err != nil {
			return nil, err
		}
		if err := s.applyFile(fc); err != nil {
			return nil, err
		}
	}

	if err := s.applyEnv(lookup); err != nil {
		return nil, err
	}
	return s, nil
}

func defaults() *Settings {
	return &Settings{
		Vault: VaultConfig{
			Addr:       DefaultVaultAddr,
			Path:       DefaultVaultPath,
			KVVersion:  DefaultKVVersion,
			Timeout:    DefaultVaultTimeout,
			MaxRetries: DefaultVaultMaxRetries,
		},
		Rundeck: RundeckConfig{
			URL:        DefaultRundeckURL,
			Project:    DefaultRundeckProject,
			APIVersion: DefaultRundeckAPIVersion,
			Timeout:    DefaultRundeckTimeout,
		},
		Slack: SlackConfig{
			Attempts: DefaultSlackAttempts,
			Delay:    DefaultSlackDelay,
			Timeout:  DefaultSlackTimeout,
		},
		Manifest: ManifestConfig{
			TemplateDir: DefaultTemplateDir,
			OutputDir:   DefaultOutputDir,
		},
		Metrics: MetricsConfig{Job: DefaultMetricsJob},
	}
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaerrors.ConfigError{
				Field:      "config",
				Value:      path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config path or omit it to use environment variables only",
			}
		}
		return nil, vaerrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, vaerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
		}
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, vaerrors.ConfigError{
			Message:    "configuration file does not match the expected structure",
			Suggestion: err.Error(),
		}
	}
	return &fc, nil
}

func validateSchema(doc map[string]interface{}) error {
	if doc == nil {
		return nil
	}
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return vaerrors.ConfigError{
			Message:    "configuration file failed schema validation:\n  - " + strings.Join(messages, "\n  - "),
			Suggestion: "Credentials (tokens, webhook URLs) are read from the environment only",
		}
	}
	return nil
}

func (s *Settings) applyFile(fc *fileConfig) error {
	setString(&s.Vault.Addr, fc.Vault.Addr)
	setString(&s.Vault.Namespace, fc.Vault.Namespace)
	setString(&s.Vault.Path, fc.Vault.Path)
	if fc.Vault.KVVersion != 0 {
		s.Vault.KVVersion = fc.Vault.KVVersion
	}
	if fc.Vault.MaxRetries != nil {
		s.Vault.MaxRetries = *fc.Vault.MaxRetries
	}
	setString(&s.Vault.CACert, fc.Vault.CACert)
	s.Vault.TLSSkipVerify = s.Vault.TLSSkipVerify || fc.Vault.SkipVerify
	if err := setDuration(&s.Vault.Timeout, "vault.timeout", fc.Vault.Timeout); err != nil {
		return err
	}

	setString(&s.Rundeck.URL, fc.Rundeck.URL)
	setString(&s.Rundeck.Project, fc.Rundeck.Project)
	if fc.Rundeck.APIVersion != 0 {
		s.Rundeck.APIVersion = fc.Rundeck.APIVersion
	}
	if err := setDuration(&s.Rundeck.Timeout, "rundeck.timeout", fc.Rundeck.Timeout); err != nil {
		return err
	}

	setString(&s.Git.URL, fc.Git.URL)
	setString(&s.Git.Username, fc.Git.Username)
	setString(&s.Git.AuthorName, fc.Git.AuthorName)
	setString(&s.Git.AuthorEmail, fc.Git.AuthorEmail)

	if fc.Slack.Attempts != 0 {
		s.Slack.Attempts = fc.Slack.Attempts
	}
	if err := setDuration(&s.Slack.Delay, "slack.delay", fc.Slack.Delay); err != nil {
		return err
	}
	if err := setDuration(&s.Slack.Timeout, "slack.timeout", fc.Slack.Timeout); err != nil {
		return err
	}

	setString(&s.Manifest.TemplateDir, fc.Manifest.TemplateDir)
	setString(&s.Manifest.OutputDir, fc.Manifest.OutputDir)
	setString(&s.Metrics.Pushgateway, fc.Metrics.Pushgateway)
	setString(&s.Metrics.Job, fc.Metrics.Job)
	return nil
}

func (s *Settings) applyEnv(lookup LookupFunc) error {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	setString(&s.Vault.Addr, get("VAULT_ADDR"))
	setString(&s.Vault.Token, get("VAULT_TOKEN"))
	// The approval job passes the token as a secure option.
	setString(&s.Vault.Token, get("RD_OPTION_VAULTTOKEN"))
	setString(&s.Vault.Namespace, get("VAULT_NAMESPACE"))
	setString(&s.Vault.Path, get("VAULT_PATH"))
	if err := setInt(&s.Vault.KVVersion, "VAULT_KV_VERSION", get("VAULT_KV_VERSION")); err != nil {
		return err
	}
	if err := setInt(&s.Vault.MaxRetries, "VAULT_MAX_RETRIES", get("VAULT_MAX_RETRIES")); err != nil {
		return err
	}
	if err := setDuration(&s.Vault.Timeout, "VAULT_TIMEOUT", get("VAULT_TIMEOUT")); err != nil {
		return err
	}
	setString(&s.Vault.CACert, get("VAULT_CACERT"))
	if v := get("VAULT_SKIP_VERIFY"); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return vaerrors.ConfigError{Field: "VAULT_SKIP_VERIFY", Value: v, Message: "must be true or false"}
		}
		s.Vault.TLSSkipVerify = skip
	}

	setString(&s.Rundeck.URL, get("RD_URL"))
	setString(&s.Rundeck.Token, get("RD_TOKEN"))
	setString(&s.Rundeck.Project, get("RD_PROJECT"))
	if err := setInt(&s.Rundeck.APIVersion, "RD_API_VERSION", get("RD_API_VERSION")); err != nil {
		return err
	}

	setString(&s.Git.URL, get("GIT_REPO_URL"))
	setString(&s.Git.Username, get("GIT_USERNAME"))
	setString(&s.Git.Token, get("GIT_TOKEN"))
	setString(&s.Git.AuthorName, get("GIT_AUTHOR_NAME"))
	setString(&s.Git.AuthorEmail, get("GIT_AUTHOR_EMAIL"))
	if s.Git.AuthorName == "" {
		s.Git.AuthorName = s.Git.Username
	}

	setString(&s.Slack.WebhookURL, get("SLACK_WEBHOOK_URL"))
	setString(&s.Manifest.TemplateDir, get("TEMPLATE_DIR"))
	setString(&s.Manifest.OutputDir, get("OUTPUT_DIR"))
	setString(&s.Metrics.Pushgateway, get("METRICS_PUSHGATEWAY"))

	s.Invocation = invocationFrom(lookup, get)
	return nil
}

func invocationFrom(lookup LookupFunc, get func(string) string) Invocation {
	inv := Invocation{
		JobID:     get("RD_JOB_ID"),
		ExecID:    get("RD_JOB_EXECID"),
		JobName:   get("RD_JOB_NAME"),
		User:      get("RD_JOB_USERNAME"),
		Env:       get("RD_OPTION_ENV"),
		VaultName: get("RD_OPTION_VAULTNAME"),
		Namespace: get("RD_OPTION_NAMESPACE"),
		Action:    strings.ToLower(get("RD_OPTION_ACTION")),
		lookup:    lookup,
	}
	if inv.JobID == "" {
		inv.JobID = LocalJobID
	}
	if inv.ExecID == "" {
		inv.ExecID = uuid.NewString()
	}
	if inv.User == "" {
		inv.User = get("USER")
	}
	if inv.Env == "" {
		inv.Env = DefaultEnvironment
	}
	if inv.Namespace == "" {
		inv.Namespace = DefaultNamespace
	}
	if inv.Action == "" {
		inv.Action = DefaultAction
	}
	return inv
}

// Needs lists the collaborators a command talks to.
type Needs struct {
	Vault   bool
	Rundeck bool
}

// Validate checks the settings a command depends on. It runs before any
// mutation.
func (s *Settings) Validate(needs Needs) error {
	if s.Vault.KVVersion != 1 && s.Vault.KVVersion != 2 {
		return vaerrors.ConfigError{
			Field:      "VAULT_KV_VERSION",
			Value:      s.Vault.KVVersion,
			Message:    "unsupported KV version",
			Suggestion: "Use 1 or 2",
		}
	}
	if needs.Vault && s.Vault.Token == "" {
		return vaerrors.ConfigError{
			Field:      "VAULT_TOKEN",
			Message:    "vault token is required",
			Suggestion: "Set VAULT_TOKEN or pass the VaultToken job option",
		}
	}
	if needs.Rundeck {
		if s.Rundeck.Token == "" {
			return vaerrors.ConfigError{
				Field:      "RD_TOKEN",
				Message:    "rundeck API token is required",
				Suggestion: "Set RD_TOKEN to a token with job import rights",
			}
		}
		if s.Rundeck.Project == "" {
			return vaerrors.ConfigError{Field: "RD_PROJECT", Message: "rundeck project is required"}
		}
	}
	if s.Git.Enabled() {
		if strings.HasPrefix(s.Git.URL, "https://") && (s.Git.Username == "" || s.Git.Token == "") {
			return vaerrors.ConfigError{
				Field:      "GIT_TOKEN",
				Message:    "git username and token are required for an HTTPS repository",
				Suggestion: "Set GIT_USERNAME and GIT_TOKEN, or unset GIT_REPO_URL to write manifests locally",
			}
		}
		if s.Git.AuthorEmail == "" {
			return vaerrors.ConfigError{
				Field:      "GIT_AUTHOR_EMAIL",
				Message:    "git author email is required when publishing through git",
				Suggestion: "Set GIT_AUTHOR_EMAIL",
			}
		}
	}
	return nil
}

// Secrets returns every credential in the snapshot, for log redaction.
func (s *Settings) Secrets() []string {
	return []string{s.Vault.Token, s.Rundeck.Token, s.Git.Token, s.Slack.WebhookURL}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, field, v string) error {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return vaerrors.ConfigError{Field: field, Value: v, Message: "must be an integer"}
	}
	*dst = n
	return nil
}

// setDuration accepts Go durations ("30s") and plain seconds ("30").
func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return vaerrors.ConfigError{
			Field:      field,
			Value:      v,
			Message:    "invalid duration",
			Suggestion: "Use a value such as 30s or 2m",
		}
	}
	*dst = d
	return nil
}
