package vault

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/vaultops/internal/logging"
)

const (
	DefaultVaultAddr  = "https://vault.example.com"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
)

// Bundle is the set of key/value pairs stored at one secret path. Values
// are opaque to this package.
type Bundle map[string]string

// Keys returns the bundle's keys in no particular order.
func (b Bundle) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	return keys
}

// Clone returns a shallow copy of b.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Config holds the settings for one Vault mount.
type Config struct {
	Address   string
	Token     string
	Namespace string
	Format    KVFormat

	// CACert is the path of a PEM file used to verify the server. Empty
	// means the system roots.
	CACert        string
	TLSSkipVerify bool

	// Timeout bounds each HTTP call.
	Timeout time.Duration

	// MaxRetries is the number of retries on 429/5xx and connection errors,
	// with exponential backoff between RetryWaitMin and RetryWaitMax.
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Store is the subset of Client used by the workflows.
type Store interface {
	Format() KVFormat
	Read(ctx context.Context, path string) (Bundle, error)
	Write(ctx context.Context, path string, b Bundle) error
	DeleteSoft(ctx context.Context, path string) (bool, error)
	DeletePermanent(ctx context.Context, path string) (bool, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver registers a callback invoked once per store request with the
// operation name and its result ("ok", "not_found", "unavailable", "error").
func WithObserver(fn func(op, result string)) Option {
	return func(c *Client) { c.observe = fn }
}

// Client reads, writes and deletes bundles against one KV mount, hiding the
// differences between the v1 and v2 wire formats.
type Client struct {
	api     *api.Client
	engine  kvEngine
	logger  *logging.Logger
	observe func(op, result string)
}

// New creates a Client. The KV format is fixed for the client's lifetime.
func New(cfg Config, opts ...Option) (*Client, error) {
	engine, err := engineFor(cfg.Format)
	if err != nil {
		return nil, err
	}

	// DefaultConfig and NewClient read VAULT_* variables on their own.
	// Everything they may have picked up is reset so the client only
	// reflects cfg.
	apiCfg := api.DefaultConfig()
	apiCfg.Error = nil
	apiCfg.AgentAddress = ""
	apiCfg.Limiter = nil
	apiCfg.SRVLookup = false
	apiCfg.DisableRedirects = false
	apiCfg.Address = cfg.Address
	if apiCfg.Address == "" {
		apiCfg.Address = DefaultVaultAddr
	}
	apiCfg.Timeout = cfg.Timeout
	if apiCfg.Timeout <= 0 {
		apiCfg.Timeout = DefaultTimeout
	}
	apiCfg.MaxRetries = cfg.MaxRetries
	if cfg.RetryWaitMin > 0 {
		apiCfg.MinRetryWait = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		apiCfg.MaxRetryWait = cfg.RetryWaitMax
	}
	if transport, ok := apiCfg.HttpClient.Transport.(*http.Transport); ok {
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		transport.Proxy = http.ProxyFromEnvironment
	}
	if err := apiCfg.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert, Insecure: cfg.TLSSkipVerify}); err != nil {
		return nil, fmt.Errorf("failed to configure vault TLS: %w", err)
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	} else {
		client.ClearNamespace()
	}

	c := &Client{
		api:     client,
		engine:  engine,
		logger:  logging.Discard(),
		observe: func(string, string) {},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Format returns the KV format the client was built for.
func (c *Client) Format() KVFormat {
	return c.engine.format()
}

// Read returns the bundle at path. A 404 yields *NotFoundError.
func (c *Client) Read(ctx context.Context, path string) (Bundle, error) {
	apiPath, err := c.engine.dataPath(path)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Reading secret from %s (%s)", apiPath, c.engine.format())
	resp, err := c.do(ctx, "read", http.MethodGet, apiPath, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		c.observe("read", "error")
		return nil, fmt.Errorf("failed to decode vault response for %s: %w", path, err)
	}

	c.observe("read", "ok")
	if body.Data == nil {
		return Bundle{}, nil
	}
	return c.engine.unwrap(body.Data), nil
}

// Exists reports whether a bundle is stored at path.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.Read(ctx, path)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Write replaces the bundle at path. Merging is the caller's job.
func (c *Client) Write(ctx context.Context, path string, b Bundle) error {
	apiPath, err := c.engine.dataPath(path)
	if err != nil {
		return err
	}

	c.logger.Debug("Writing %d keys to %s (%s)", len(b), apiPath, c.engine.format())
	resp, err := c.do(ctx, "write", http.MethodPost, apiPath, path, c.engine.wrap(b))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		c.observe("write", "ok")
		return nil
	default:
		c.observe("write", "error")
		return &StoreError{Op: "write", Path: path, StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
}

// DeleteSoft removes the current version. On KV v1 this is permanent, on
// KV v2 the version stays recoverable. It reports false only when the store
// answers 404. KV mounts answer 204 for paths that were never written, so
// callers that need to know whether a secret existed read it first.
func (c *Client) DeleteSoft(ctx context.Context, path string) (bool, error) {
	apiPath, err := c.engine.dataPath(path)
	if err != nil {
		return false, err
	}
	return c.delete(ctx, "delete", apiPath, path)
}

// DeletePermanent removes all versions and metadata. KV v2 only. Like
// DeleteSoft, a true result does not prove the secret existed.
func (c *Client) DeletePermanent(ctx context.Context, path string) (bool, error) {
	if c.engine.format() != V2 {
		return false, fmt.Errorf("permanent delete of %s: %w", path, ErrUnsupportedOperation)
	}
	apiPath, err := c.engine.metadataPath(path)
	if err != nil {
		return false, err
	}
	return c.delete(ctx, "destroy", apiPath, path)
}

func (c *Client) delete(ctx context.Context, op, apiPath, path string) (bool, error) {
	c.logger.Debug("Deleting %s (%s)", apiPath, c.engine.format())
	resp, err := c.do(ctx, op, http.MethodDelete, apiPath, path, nil)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	c.observe(op, "ok")
	return true, nil
}

// do sends one request. Status classification relies on the status code
// only: 404 is NotFound, a missing response is Unavailable, anything else
// that is not 2xx is a StoreError.
func (c *Client) do(ctx context.Context, op, method, apiPath, path string, body interface{}) (*api.Response, error) {
	req := c.api.NewRequest(method, "/v1/"+apiPath)
	if body != nil {
		if err := req.SetJSONBody(body); err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", op, err)
		}
	}

	// The raw call keeps the status code of every answer visible.
	resp, err := c.api.RawRequestWithContext(ctx, req)
	hasResponse := resp != nil && resp.Response != nil

	if hasResponse && resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		c.observe(op, "not_found")
		return nil, &NotFoundError{Path: path}
	}

	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) {
			if hasResponse {
				_ = resp.Body.Close()
			}
			if respErr.StatusCode == http.StatusNotFound {
				c.observe(op, "not_found")
				return nil, &NotFoundError{Path: path}
			}
			c.observe(op, "error")
			return nil, &StoreError{
				Op:         op,
				Path:       path,
				StatusCode: respErr.StatusCode,
				Body:       strings.Join(respErr.Errors, "; "),
			}
		}
		if hasResponse {
			defer func() { _ = resp.Body.Close() }()
			c.observe(op, "error")
			return nil, &StoreError{Op: op, Path: path, StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
		}
		c.observe(op, "unavailable")
		return nil, &UnavailableError{Op: op, Path: path, Err: err}
	}

	return resp, nil
}

func readBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
