// Package manifest renders the secret-key manifest and publishes it either
// to a local file or to the configuration repository.
package manifest

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"sort"
	"text/template"

	"github.com/spf13/afero"
)

// TemplateVaultGKE is the manifest consumed by the deployment pipeline.
const TemplateVaultGKE = "vault-gke"

//go:embed templates/*.tmpl
var builtin embed.FS

// Action is the manifest's verb.
type Action string

const (
	ActionCreate Action = "create"
	ActionAdd    Action = "add"
	ActionDelete Action = "delete"
)

// Context is everything a manifest is rendered from. Values never appear in
// it, only key names.
type Context struct {
	Environment string
	SecretName  string
	Namespace   string
	Action      Action
	Keys        []string
	JobID       string
	ExecID      string
	User        string
	Title       string
}

// RenderError is returned when a template cannot be loaded or executed.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("error rendering template '%s': %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Renderer executes named templates. Templates in the override directory
// take precedence over the embedded ones.
type Renderer struct {
	fs          afero.Fs
	overrideDir string
}

// NewRenderer creates a Renderer. overrideDir may be empty or missing.
func NewRenderer(fs afero.Fs, overrideDir string) *Renderer {
	return &Renderer{fs: fs, overrideDir: overrideDir}
}

// Render executes the template called name with data.
func (r *Renderer) Render(name string, data interface{}) (string, error) {
	src, err := r.source(name)
	if err != nil {
		return "", &RenderError{Template: name, Err: err}
	}

	tmpl, err := template.New(name).Funcs(funcMap()).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", &RenderError{Template: name, Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &RenderError{Template: name, Err: err}
	}
	return buf.String(), nil
}

// RenderManifest renders the vault-gke manifest with keys in sorted order,
// so an unchanged key set always renders identically.
func (r *Renderer) RenderManifest(c Context) (string, error) {
	keys := append([]string(nil), c.Keys...)
	sort.Strings(keys)
	c.Keys = keys
	return r.Render(TemplateVaultGKE, c)
}

func (r *Renderer) source(name string) (string, error) {
	file := name + ".tmpl"
	if r.overrideDir != "" && r.fs != nil {
		path := filepath.Join(r.overrideDir, file)
		if ok, _ := afero.Exists(r.fs, path); ok {
			data, err := afero.ReadFile(r.fs, path)
			if err != nil {
				return "", err
			}
			return string(data), nil
		}
	}
	data, err := builtin.ReadFile("templates/" + file)
	if err != nil {
		return "", fmt.Errorf("template %s not found", name)
	}
	return string(data), nil
}
