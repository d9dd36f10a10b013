package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/vaultops/internal/config"
	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/workflow"
)

// SourceMount prefixes the SourceVaultName job option.
const SourceMount = "gke"

func NewCopyCommand(rt *Runtime) *cobra.Command {
	var (
		source    string
		dest      string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy a secret, merging into the destination",
		Long: `Copy every key of the source secret into the destination secret.

Source values always win. Keys only present in the destination are kept
unless --overwrite is given, in which case the destination is replaced.
The resulting key list is published as a manifest.

Examples:
  # Copy using the Rundeck job options
  vaultops copy

  # Explicit paths
  vaultops copy --source gke/payments --dest gke/payments-uat --overwrite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt.settings(config.Needs{Vault: true})
			if err != nil {
				return err
			}
			if source == "" {
				if name, ok := s.Invocation.Option("SourceVaultName"); ok && name != "" {
					source = SourceMount + "/" + name
				}
			}
			if source == "" {
				return vaerrors.ConfigError{
					Field:      "source",
					Message:    "source secret path is required",
					Suggestion: "Use --source or set the SourceVaultName job option",
				}
			}
			if dest == "" {
				dest = s.Vault.Path
			}

			store, err := rt.store(s)
			if err != nil {
				return err
			}
			publisher, err := rt.publisher(s)
			if err != nil {
				return err
			}

			res, err := rt.pipeline(s, store, workflow.WithPublisher(publisher)).
				Run(cmd.Context(), workflow.Copy{Source: source, Dest: dest, Overwrite: overwrite}, manifestContext(s.Invocation))
			if err != nil {
				return err
			}
			rt.report(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source secret path (default: gke/<SourceVaultName option>)")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination secret path (default: VAULT_PATH)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace the destination instead of merging")

	return cmd
}
