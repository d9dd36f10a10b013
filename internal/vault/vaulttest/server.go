// Package vaulttest provides an in-memory Vault KV server for tests.
package vaulttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Call records one request received by the server.
type Call struct {
	Method    string
	Path      string
	Token     string
	Namespace string
	Body      map[string]interface{}
}

// Server emulates the KV endpoints of a single mount. Secrets are keyed by
// the API path without the /v1/ prefix (e.g. "secret/data/app").
type Server struct {
	*httptest.Server

	// Version is 1 or 2 and controls the response envelope.
	Version int

	mu      sync.Mutex
	secrets map[string]map[string]interface{}
	calls   []Call
	// failures maps "METHOD path" to queued status codes returned before
	// the request is served normally.
	failures map[string][]int
}

// NewServer starts a server and registers its shutdown with t.
func NewServer(t testing.TB, version int) *Server {
	s := &Server{
		Version:  version,
		secrets:  map[string]map[string]interface{}{},
		failures: map[string][]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Seed stores data at the API path.
func (s *Server) Seed(apiPath string, data map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]interface{}, len(data))
	for k, v := range data {
		m[k] = v
	}
	s.secrets[apiPath] = m
}

// SeedRaw stores arbitrary JSON values at the API path.
func (s *Server) SeedRaw(apiPath string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[apiPath] = data
}

// Get returns the data stored at the API path.
func (s *Server) Get(apiPath string) (map[string]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.secrets[apiPath]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if str, ok := v.(string); ok {
			out[k] = str
		}
	}
	return out, true
}

// FailNext queues status codes for the next requests matching method and
// API path.
func (s *Server) FailNext(method, apiPath string, codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + apiPath
	s.failures[key] = append(s.failures[key], codes...)
}

// Calls returns the requests received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the requests received for method and API path.
func (s *Server) CallsTo(method, apiPath string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == apiPath {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	apiPath := strings.TrimPrefix(r.URL.Path, "/v1/")

	var body map[string]interface{}
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	s.mu.Lock()
	s.calls = append(s.calls, Call{
		Method:    r.Method,
		Path:      apiPath,
		Token:     r.Header.Get("X-Vault-Token"),
		Namespace: r.Header.Get("X-Vault-Namespace"),
		Body:      body,
	})
	key := r.Method + " " + apiPath
	if queued := s.failures[key]; len(queued) > 0 {
		code := queued[0]
		s.failures[key] = queued[1:]
		s.mu.Unlock()
		writeErrors(w, code, "injected failure")
		return
	}
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		data, ok := s.secrets[apiPath]
		if !ok {
			writeErrors(w, http.StatusNotFound)
			return
		}
		var payload map[string]interface{}
		if s.Version == 2 {
			payload = map[string]interface{}{
				"data": map[string]interface{}{
					"data":     data,
					"metadata": map[string]interface{}{"version": 1},
				},
			}
		} else {
			payload = map[string]interface{}{"data": data}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(payload)

	case http.MethodPost, http.MethodPut:
		if s.Version == 2 {
			inner, _ := body["data"].(map[string]interface{})
			if inner == nil {
				writeErrors(w, http.StatusBadRequest, "no data provided")
				return
			}
			s.secrets[apiPath] = inner
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"data":{"version":1}}`))
			return
		}
		s.secrets[apiPath] = body
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		target := apiPath
		if s.Version == 2 && strings.Contains(apiPath, "/metadata/") {
			target = strings.Replace(apiPath, "/metadata/", "/data/", 1)
		}
		// Vault answers 204 whether or not the path held a secret.
		delete(s.secrets, target)
		w.WriteHeader(http.StatusNoContent)

	default:
		writeErrors(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

func writeErrors(w http.ResponseWriter, code int, msgs ...string) {
	if msgs == nil {
		msgs = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"errors": msgs})
}
