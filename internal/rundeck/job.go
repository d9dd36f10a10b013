package rundeck

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ApprovalGroup is the job group approval jobs are imported into.
const ApprovalGroup = "approval"

// JobDefinition is the subset of the Rundeck job YAML format vaultops emits.
type JobDefinition struct {
	Name        string      `yaml:"name"`
	Group       string      `yaml:"group"`
	Description string      `yaml:"description,omitempty"`
	LogLevel    string      `yaml:"loglevel"`
	Options     []JobOption `yaml:"options"`
	Sequence    *Sequence   `yaml:"sequence,omitempty"`
}

// JobOption is a job input.
type JobOption struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Value        string `yaml:"value,omitempty"`
	Required     bool   `yaml:"required,omitempty"`
	Hidden       bool   `yaml:"hidden,omitempty"`
	Secure       bool   `yaml:"secure,omitempty"`
	ValueExposed bool   `yaml:"valueExposed,omitempty"`
	StoragePath  string `yaml:"storagePath,omitempty"`
}

// Sequence is the job workflow.
type Sequence struct {
	KeepGoing bool      `yaml:"keepgoing"`
	Strategy  string    `yaml:"strategy"`
	Commands  []Command `yaml:"commands"`
}

// Command is one workflow step.
type Command struct {
	Exec string `yaml:"exec"`
}

// ApprovalRequest describes the approval job for one secret.
type ApprovalRequest struct {
	Project   string
	VaultName string
	Namespace string
	Action    string
	Keys      []string
	// Command is run by the job once approved; empty leaves the job without
	// a workflow.
	Command string
}

// ApprovalJob builds the job that collects one value per key. The Vault
// token is a hidden secure option read from the project's key storage.
func ApprovalJob(r ApprovalRequest) JobDefinition {
	options := []JobOption{
		{Name: "VaultName", Description: "Vault secret name", Value: r.VaultName},
		{Name: "namespace", Description: "K8s namespace", Value: r.Namespace},
		{Name: "Action", Description: "Action type", Value: r.Action},
		{
			Name:         "VaultToken",
			Description:  "Vault authentication token",
			Required:     true,
			Hidden:       true,
			Secure:       true,
			ValueExposed: true,
			StoragePath:  fmt.Sprintf("keys/project/%s/Token", r.Project),
		},
	}
	for _, key := range r.Keys {
		options = append(options, JobOption{
			Name:        key,
			Description: "Value for secret key " + key,
			Required:    true,
		})
	}

	job := JobDefinition{
		Name:        capitalize(fmt.Sprintf("%s vault value for %s", r.Action, r.VaultName)),
		Group:       ApprovalGroup,
		Description: fmt.Sprintf("Keys: %s", strings.Join(r.Keys, ",")),
		LogLevel:    "INFO",
		Options:     options,
	}
	if r.Command != "" {
		job.Sequence = &Sequence{
			Strategy: "node-first",
			Commands: []Command{{Exec: r.Command}},
		}
	}
	return job
}

// Marshal renders definitions in the list form the import endpoint expects.
func Marshal(defs ...JobDefinition) ([]byte, error) {
	out, err := yaml.Marshal(defs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job definition: %w", err)
	}
	return out, nil
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
