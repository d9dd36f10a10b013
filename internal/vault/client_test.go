package vault_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultops/internal/vault"
	"github.com/systmms/vaultops/internal/vault/vaulttest"
)

func newClient(t *testing.T, srv *vaulttest.Server, format vault.KVFormat, opts ...vault.Option) *vault.Client {
	t.Helper()
	c, err := vault.New(vault.Config{
		Address:      srv.URL,
		Token:        "test-token",
		Format:       format,
		Timeout:      5 * time.Second,
		MaxRetries:   0,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestReadV2UnwrapsEnvelope(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	srv.Seed("secret/data/app", map[string]string{"user": "admin", "pass": "s3cret"})
	c := newClient(t, srv, vault.V2)

	b, err := c.Read(context.Background(), "secret/app")
	require.NoError(t, err)
	assert.Equal(t, vault.Bundle{"user": "admin", "pass": "s3cret"}, b)

	calls := srv.CallsTo(http.MethodGet, "secret/data/app")
	require.Len(t, calls, 1)
	assert.Equal(t, "test-token", calls[0].Token)
}

func TestReadV1(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 1)
	srv.SeedRaw("kv/app", map[string]interface{}{"port": 8080, "host": "db"})
	c := newClient(t, srv, vault.V1)

	b, err := c.Read(context.Background(), "kv/app")
	require.NoError(t, err)
	assert.Equal(t, vault.Bundle{"port": "8080", "host": "db"}, b)
}

func TestReadMissingIsNotFound(t *testing.T) {
	t.Parallel()

	for _, format := range []vault.KVFormat{vault.V1, vault.V2} {
		srv := vaulttest.NewServer(t, int(format))
		c := newClient(t, srv, format)

		_, err := c.Read(context.Background(), "secret/missing")
		require.Error(t, err)
		assert.True(t, vault.IsNotFound(err), "format %s: %v", format, err)

		var storeErr *vault.StoreError
		assert.NotErrorAs(t, err, &storeErr)
		assert.Equal(t, 404, vault.StatusCode(err))
	}
}

func TestWriteWrapsPerFormat(t *testing.T) {
	t.Parallel()

	t.Run("v2", func(t *testing.T) {
		t.Parallel()
		srv := vaulttest.NewServer(t, 2)
		c := newClient(t, srv, vault.V2)

		require.NoError(t, c.Write(context.Background(), "secret/app", vault.Bundle{"k": "v"}))

		calls := srv.CallsTo(http.MethodPost, "secret/data/app")
		require.Len(t, calls, 1)
		assert.Equal(t, map[string]interface{}{"data": map[string]interface{}{"k": "v"}}, calls[0].Body)

		got, ok := srv.Get("secret/data/app")
		require.True(t, ok)
		assert.Equal(t, map[string]string{"k": "v"}, got)
	})

	t.Run("v1 accepts 204", func(t *testing.T) {
		t.Parallel()
		srv := vaulttest.NewServer(t, 1)
		c := newClient(t, srv, vault.V1)

		require.NoError(t, c.Write(context.Background(), "kv/app", vault.Bundle{"k": "v"}))

		calls := srv.CallsTo(http.MethodPost, "kv/app")
		require.Len(t, calls, 1)
		assert.Equal(t, map[string]interface{}{"k": "v"}, calls[0].Body)
	})
}

func TestServerErrorKeepsBody(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	srv.FailNext(http.MethodPost, "secret/data/app", http.StatusInternalServerError)
	c := newClient(t, srv, vault.V2)

	err := c.Write(context.Background(), "secret/app", vault.Bundle{"k": "v"})
	require.Error(t, err)

	var storeErr *vault.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, http.StatusInternalServerError, storeErr.StatusCode)
	assert.Contains(t, storeErr.Body, "injected failure")
	assert.False(t, vault.IsNotFound(err))
}

func TestPermissionDeniedIsStoreError(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	srv.FailNext(http.MethodGet, "secret/data/app", http.StatusForbidden)
	c := newClient(t, srv, vault.V2)

	_, err := c.Read(context.Background(), "secret/app")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, vault.StatusCode(err))
}

func TestRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	srv.Seed("secret/data/app", map[string]string{"k": "v"})
	srv.FailNext(http.MethodGet, "secret/data/app", http.StatusServiceUnavailable)

	c, err := vault.New(vault.Config{
		Address:      srv.URL,
		Token:        "test-token",
		Format:       vault.V2,
		MaxRetries:   2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	b, err := c.Read(context.Background(), "secret/app")
	require.NoError(t, err)
	assert.Equal(t, vault.Bundle{"k": "v"}, b)
	assert.Len(t, srv.CallsTo(http.MethodGet, "secret/data/app"), 2)
}

func TestUnreachableIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	addr := srv.URL
	srv.Close()

	c, err := vault.New(vault.Config{Address: addr, Token: "t", Format: vault.V2, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.Read(context.Background(), "secret/app")
	require.Error(t, err)
	assert.True(t, vault.IsUnavailable(err), "got %T: %v", err, err)
}

func TestDeleteSoft(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	srv.Seed("secret/data/app", map[string]string{"k": "v"})
	c := newClient(t, srv, vault.V2)

	existed, err := c.DeleteSoft(context.Background(), "secret/app")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Len(t, srv.CallsTo(http.MethodDelete, "secret/data/app"), 1)

	// Vault answers 204 for a path that holds nothing, so a repeat delete
	// still succeeds and cannot tell whether anything was removed.
	_, err = c.DeleteSoft(context.Background(), "secret/app")
	require.NoError(t, err)
	assert.Len(t, srv.CallsTo(http.MethodDelete, "secret/data/app"), 2)

	srv.FailNext(http.MethodDelete, "secret/data/app", http.StatusNotFound)
	existed, err = c.DeleteSoft(context.Background(), "secret/app")
	require.NoError(t, err)
	assert.False(t, existed, "an explicit 404 is reported as nothing deleted")
}

func TestNew_IgnoresVaultEnvironment(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "env-token")
	t.Setenv("VAULT_NAMESPACE", "leaked-ns")
	t.Setenv("VAULT_AGENT_ADDR", "http://127.0.0.1:1")
	t.Setenv("VAULT_CACERT", "/nonexistent/ca.pem")

	srv := vaulttest.NewServer(t, 2)
	srv.Seed("secret/data/app", map[string]string{"k": "v"})
	c := newClient(t, srv, vault.V2)

	_, err := c.Read(context.Background(), "secret/app")
	require.NoError(t, err)

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "test-token", calls[0].Token)
	assert.Empty(t, calls[0].Namespace)
}

func TestNew_ConfiguredNamespace(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	c, err := vault.New(vault.Config{Address: srv.URL, Token: "t", Namespace: "team-a", Format: vault.V2})
	require.NoError(t, err)

	_, _ = c.Read(context.Background(), "secret/app")
	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "team-a", calls[0].Namespace)
}

func TestNew_MissingCACert(t *testing.T) {
	t.Parallel()

	_, err := vault.New(vault.Config{Address: "https://vault.example.com", Format: vault.V1, CACert: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}

func TestDeletePermanent(t *testing.T) {
	t.Parallel()

	t.Run("v2 uses metadata path", func(t *testing.T) {
		t.Parallel()
		srv := vaulttest.NewServer(t, 2)
		srv.Seed("secret/data/app", map[string]string{"k": "v"})
		c := newClient(t, srv, vault.V2)

		existed, err := c.DeletePermanent(context.Background(), "secret/app")
		require.NoError(t, err)
		assert.True(t, existed)
		assert.Len(t, srv.CallsTo(http.MethodDelete, "secret/metadata/app"), 1)
	})

	t.Run("v1 unsupported", func(t *testing.T) {
		t.Parallel()
		srv := vaulttest.NewServer(t, 1)
		c := newClient(t, srv, vault.V1)

		_, err := c.DeletePermanent(context.Background(), "kv/app")
		assert.ErrorIs(t, err, vault.ErrUnsupportedOperation)
		assert.Empty(t, srv.Calls())
	})
}

func TestInvalidPathNeverReachesServer(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	c := newClient(t, srv, vault.V2)

	_, err := c.Read(context.Background(), "secret")
	var invalid *vault.InvalidPathError
	assert.ErrorAs(t, err, &invalid)
	assert.Empty(t, srv.Calls())
}

func TestObserverSeesResults(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]int{}
	observe := func(op, result string) {
		mu.Lock()
		defer mu.Unlock()
		seen[op+"/"+result]++
	}

	srv := vaulttest.NewServer(t, 2)
	srv.Seed("secret/data/app", map[string]string{"k": "v"})
	c := newClient(t, srv, vault.V2, vault.WithObserver(observe))

	_, _ = c.Read(context.Background(), "secret/app")
	_, _ = c.Read(context.Background(), "secret/missing")
	_ = c.Write(context.Background(), "secret/other", vault.Bundle{"a": "b"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"read/ok": 1, "read/not_found": 1, "write/ok": 1}, seen)
}

func TestExists(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t, 2)
	srv.Seed("secret/data/present", map[string]string{"k": "v"})
	srv.FailNext(http.MethodGet, "secret/data/broken", http.StatusInternalServerError)
	c := newClient(t, srv, vault.V2)

	ok, err := c.Exists(context.Background(), "secret/present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(context.Background(), "secret/absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Exists(context.Background(), "secret/broken")
	assert.Error(t, err)
}
