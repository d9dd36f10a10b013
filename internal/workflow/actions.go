package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/manifest"
	"github.com/systmms/vaultops/internal/rundeck"
	"github.com/systmms/vaultops/internal/vault"
)

// ErrEmptySource is returned by Copy when the source secret holds no keys.
var ErrEmptySource error = vaerrors.ValidationError{
	Message:    "source secret exists but contains no data",
	Suggestion: "Check the source vault name",
}

// Copy copies the source bundle to Dest, merging into an existing
// destination unless Overwrite is set. The store is written exactly once.
type Copy struct {
	Source    string
	Dest      string
	Overwrite bool
}

func (Copy) Name() string { return "copy" }

func (a Copy) execute(ctx context.Context, p *Pipeline, c *manifest.Context) (*Result, error) {
	p.logger.Section("Reading secrets from SOURCE: %s", a.Source)
	source, err := p.store.Read(ctx, a.Source)
	if err != nil {
		return nil, err
	}
	if len(source) == 0 {
		return nil, fmt.Errorf("copy from %s: %w", a.Source, ErrEmptySource)
	}
	p.logger.Info("Read %d keys from source vault: %s", len(source), strings.Join(sortedKeys(source), ", "))

	p.logger.Section("Writing secrets to DESTINATION: %s", a.Dest)
	dest, destExists, err := p.readOptional(ctx, a.Dest)
	if err != nil {
		return nil, err
	}
	if destExists {
		p.logger.Info("Destination vault exists with %d keys", len(dest))
	} else {
		p.logger.Info("Destination vault does not exist, will create new")
	}

	plan, err := PlanMerge(source, dest, destExists, a.Overwrite)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Mode: %s", plan.Mode)
	if plan.Mode == ModeMerge {
		if len(plan.NewKeys) > 0 {
			p.logger.Info("New keys to add: %s", strings.Join(plan.NewKeys, ", "))
		}
		if len(plan.UpdatedKeys) > 0 {
			p.logger.Info("Keys to update: %s", strings.Join(plan.UpdatedKeys, ", "))
		}
	}

	if err := p.store.Write(ctx, a.Dest, plan.Final); err != nil {
		return nil, err
	}
	p.logger.Info("Secret copy completed: %d keys copied, %d keys in destination", len(source), len(plan.Final))

	action := manifest.ActionCreate
	if plan.Mode == ModeMerge {
		action = manifest.ActionAdd
	}
	fill(c, a.Dest, action, source.Keys(), "Copy vault secret")

	return &Result{Path: a.Dest, Keys: c.Keys, Plan: &plan, publish: true}, nil
}

// Delete removes the secret at Path. A missing secret is already in the
// desired state and is reported as success with no keys.
type Delete struct {
	Path      string
	Permanent bool
}

func (Delete) Name() string { return "delete" }

func (a Delete) execute(ctx context.Context, p *Pipeline, c *manifest.Context) (*Result, error) {
	p.logger.Section("Deleting secret from Vault: %s", a.Path)

	existing, found, err := p.readOptional(ctx, a.Path)
	if err != nil {
		return nil, err
	}

	keys := []string{}
	if !found {
		p.logger.Warn("Secret not found at specified path")
	} else {
		keys = sortedKeys(existing)
		p.logger.Info("Found %d keys to delete: %s", len(keys), strings.Join(keys, ", "))

		permanent := a.Permanent && p.store.Format() == vault.V2
		if a.Permanent && !permanent {
			p.logger.Warn("Permanent deletion needs KV v2, performing a standard delete")
		}
		if permanent {
			p.logger.Warn("PERMANENT DELETION MODE (KV v2 metadata)")
			_, err = p.store.DeletePermanent(ctx, a.Path)
		} else {
			_, err = p.store.DeleteSoft(ctx, a.Path)
		}
		if err != nil {
			return nil, err
		}
		p.logger.Info("Secret deletion completed: %d keys deleted", len(keys))
	}

	fill(c, a.Path, manifest.ActionDelete, keys, "Delete vault secret")
	return &Result{Path: a.Path, Keys: c.Keys, publish: true}, nil
}

// Request imports an approval job that will collect one value per key. It
// never writes to the store.
type Request struct {
	Path    string
	Keys    []string
	Action  string
	Project string
	// Command is the step the approval job runs once approved.
	Command string
}

func (Request) Name() string { return "request" }

func (a Request) execute(ctx context.Context, p *Pipeline, c *manifest.Context) (*Result, error) {
	keys := ParseKeys(strings.Join(a.Keys, ","))
	if len(keys) == 0 {
		return nil, vaerrors.ValidationError{Message: "no valid vault keys provided"}
	}
	if p.importer == nil {
		return nil, vaerrors.ConfigError{Field: "RD_URL", Message: "job import is not configured"}
	}

	if strings.EqualFold(a.Action, string(manifest.ActionCreate)) {
		exists, err := p.store.Exists(ctx, a.Path)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, vaerrors.ValidationError{
				Message:    fmt.Sprintf("secret already exists at path '%s', cannot create a secret that already exists", a.Path),
				Suggestion: "Contact the SRE team or use action 'add' or 'delete'",
			}
		}
	}

	fill(c, a.Path, manifest.Action(strings.ToLower(a.Action)), keys, "")

	p.logger.Section("Generating approval job for %s", c.SecretName)
	def := rundeck.ApprovalJob(rundeck.ApprovalRequest{
		Project:   a.Project,
		VaultName: c.SecretName,
		Namespace: c.Namespace,
		Action:    a.Action,
		Keys:      keys,
		Command:   a.Command,
	})
	c.Title = def.Name

	data, err := rundeck.Marshal(def)
	if err != nil {
		return nil, err
	}
	if err := p.keepDefinition(c, data); err != nil {
		return nil, err
	}

	p.logger.Section("Importing job to Rundeck")
	job, err := p.importer.Import(ctx, data)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Job imported: %s", job.Link())

	return &Result{Path: a.Path, Keys: keys, Permalink: job.Link(), JobID: job.ID}, nil
}

// keepDefinition saves the generated job next to the run's other artifacts.
func (p *Pipeline) keepDefinition(c *manifest.Context, data []byte) error {
	if p.fs == nil || p.outputDir == "" {
		return nil
	}
	dir := filepath.Join(p.outputDir, c.JobID)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	file := filepath.Join(dir, fmt.Sprintf("approval_job_%s.yaml", c.ExecID))
	if err := afero.WriteFile(p.fs, file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write job definition %s: %w", file, err)
	}
	p.logger.Info("Job definition written: %s", file)
	return nil
}

// Write stores approved values at Path. Action "add" merges them into the
// existing secret; any other action replaces it.
type Write struct {
	Path   string
	Values vault.Bundle
	Action string
}

func (Write) Name() string { return "write" }

func (a Write) execute(ctx context.Context, p *Pipeline, c *manifest.Context) (*Result, error) {
	if len(a.Values) == 0 {
		return nil, vaerrors.ValidationError{Message: "no valid secret keys provided"}
	}

	p.logger.Section("Writing secrets to Vault: %s", a.Path)
	existing, exists, err := p.readOptional(ctx, a.Path)
	if err != nil {
		return nil, err
	}

	merge := strings.EqualFold(a.Action, string(manifest.ActionAdd))
	plan, err := PlanMerge(a.Values, existing, exists, !merge)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Mode: %s", plan.Mode)

	if err := p.store.Write(ctx, a.Path, plan.Final); err != nil {
		return nil, err
	}
	p.logger.Info("Wrote %d keys to %s", len(a.Values), a.Path)

	action := manifest.ActionCreate
	if merge {
		action = manifest.ActionAdd
	}
	fill(c, a.Path, action, a.Values.Keys(), "Write vault secret")

	return &Result{Path: a.Path, Keys: c.Keys, Plan: &plan, publish: true}, nil
}

// readOptional reads path, treating NotFound as an absent secret.
func (p *Pipeline) readOptional(ctx context.Context, path string) (vault.Bundle, bool, error) {
	b, err := p.store.Read(ctx, path)
	if vault.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// ParseKeys splits a comma-separated key list, dropping blanks and
// duplicates while keeping order.
func ParseKeys(raw string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}
