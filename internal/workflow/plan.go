package workflow

import (
	"fmt"
	"sort"

	"dario.cat/mergo"

	"github.com/systmms/vaultops/internal/vault"
)

// Mode is how a bundle is written to its destination.
type Mode string

const (
	// ModeCreate writes to a destination that does not exist yet.
	ModeCreate Mode = "CREATE"
	// ModeOverwrite replaces an existing destination wholesale.
	ModeOverwrite Mode = "OVERWRITE"
	// ModeMerge lays the source over an existing destination.
	ModeMerge Mode = "MERGE"
)

// MergePlan is the bundle that will be written and how it was derived.
type MergePlan struct {
	Final vault.Bundle
	Mode  Mode
	// NewKeys are source keys absent from the destination.
	NewKeys []string
	// UpdatedKeys are source keys already present in the destination.
	UpdatedKeys []string
}

// PlanMerge computes the bundle to write for source over dest. Source values
// always win. Keys only in dest are kept unless overwrite is set or dest
// does not exist.
func PlanMerge(source, dest vault.Bundle, destExists, overwrite bool) (MergePlan, error) {
	if !destExists || overwrite {
		mode := ModeCreate
		if destExists {
			mode = ModeOverwrite
		}
		return MergePlan{
			Final:   source.Clone(),
			Mode:    mode,
			NewKeys: sortedKeys(source),
		}, nil
	}

	final := dest.Clone()
	if err := mergo.Merge(&final, source, mergo.WithOverride); err != nil {
		return MergePlan{}, fmt.Errorf("failed to merge source into destination: %w", err)
	}

	plan := MergePlan{Final: final, Mode: ModeMerge}
	for _, k := range sortedKeys(source) {
		if _, ok := dest[k]; ok {
			plan.UpdatedKeys = append(plan.UpdatedKeys, k)
		} else {
			plan.NewKeys = append(plan.NewKeys, k)
		}
	}
	return plan, nil
}

func sortedKeys(b vault.Bundle) []string {
	keys := b.Keys()
	sort.Strings(keys)
	return keys
}
