// Package rundeck imports and deletes job definitions through the Rundeck
// HTTP API.
package rundeck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/systmms/vaultops/internal/logging"
)

// Defaults for Config.
const (
	DefaultAPIVersion = 54
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
)

// Config locates one Rundeck project.
type Config struct {
	URL        string
	Token      string
	Project    string
	APIVersion int
	Timeout    time.Duration
	MaxRetries int
	// RetryWaitMin and RetryWaitMax bound the backoff between retries.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Job identifies an imported job.
type Job struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Group     string `json:"group"`
	Project   string `json:"project"`
	Href      string `json:"href"`
	Permalink string `json:"permalink"`
}

// Link returns the best URL for humans: the permalink, else the API href.
func (j Job) Link() string {
	if j.Permalink != "" {
		return j.Permalink
	}
	return j.Href
}

// ImportError is returned when Rundeck rejects a job definition.
type ImportError struct {
	Name    string
	Message string
}

func (e *ImportError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("rundeck rejected job %q: %s", e.Name, e.Message)
	}
	return "rundeck rejected job: " + e.Message
}

// APIError is any other non-2xx answer.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("rundeck %s returned status %d", e.Op, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Importer is the part of Client the request workflow needs.
type Importer interface {
	Import(ctx context.Context, definition []byte) (Job, error)
}

// Client talks to one Rundeck project.
type Client struct {
	config Config
	http   *retryablehttp.Client
	logger *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client.
func New(config Config, opts ...Option) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("rundeck URL is required")
	}
	if config.Project == "" {
		return nil, fmt.Errorf("rundeck project is required")
	}
	if config.APIVersion <= 0 {
		config.APIVersion = DefaultAPIVersion
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	config.URL = strings.TrimRight(config.URL, "/")

	rc := retryablehttp.NewClient()
	rc.RetryMax = config.MaxRetries
	if config.RetryWaitMin > 0 {
		rc.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		rc.RetryWaitMax = config.RetryWaitMax
	}
	rc.HTTPClient.Timeout = config.Timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil

	c := &Client{config: config, http: rc, logger: logging.Discard()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type importResponse struct {
	Succeeded []Job `json:"succeeded"`
	Failed    []struct {
		Name  string `json:"name"`
		Error string `json:"error"`
	} `json:"failed"`
	Skipped []Job `json:"skipped"`
}

// Import uploads a YAML job definition. Existing jobs with the same name and
// group are updated in place.
func (c *Client) Import(ctx context.Context, definition []byte) (Job, error) {
	endpoint := fmt.Sprintf("%s/api/%d/project/%s/jobs/import?dupeOption=update",
		c.config.URL, c.config.APIVersion, url.PathEscape(c.config.Project))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(definition))
	if err != nil {
		return Job{}, fmt.Errorf("failed to create import request: %w", err)
	}
	req.Header.Set("Content-Type", "application/yaml")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	c.logger.Info("Importing job to Rundeck project %s", c.config.Project)
	resp, err := c.http.Do(req)
	if err != nil {
		return Job{}, fmt.Errorf("rundeck import request failed: %s", c.redact(err.Error()))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Job{}, &APIError{Op: "import", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out importResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Job{}, fmt.Errorf("failed to decode rundeck import response: %w", err)
	}

	switch {
	case len(out.Succeeded) > 0:
		job := out.Succeeded[0]
		c.logger.Info("Job imported: %s", job.Link())
		return job, nil
	case len(out.Failed) > 0:
		return Job{}, &ImportError{Name: out.Failed[0].Name, Message: out.Failed[0].Error}
	case len(out.Skipped) > 0:
		return out.Skipped[0], nil
	default:
		return Job{}, &ImportError{Message: "response listed no imported job"}
	}
}

// DeleteJob removes a job by ID. It reports false when the job did not exist.
func (c *Client) DeleteJob(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("job id is required")
	}
	endpoint := fmt.Sprintf("%s/api/%d/job/%s", c.config.URL, c.config.APIVersion, url.PathEscape(id))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("rundeck delete request failed: %s", c.redact(err.Error()))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return false, &APIError{Op: "delete", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}

// JobIDFromHref extracts the job ID from an API href or a GUI permalink,
// e.g. ".../api/54/job/abc-123" or ".../project/p/job/show/abc-123".
func JobIDFromHref(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[len(segments)-1]
}

func (c *Client) authorize(req *retryablehttp.Request) {
	req.Header.Set("X-Rundeck-Auth-Token", c.config.Token)
}

func (c *Client) redact(s string) string {
	return logging.Redact(s, []string{c.config.Token})
}
