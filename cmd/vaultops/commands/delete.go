package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/vaultops/internal/config"
	"github.com/systmms/vaultops/internal/workflow"
)

func NewDeleteCommand(rt *Runtime) *cobra.Command {
	var (
		path      string
		permanent bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a secret and publish the removal",
		Long: `Delete the secret at a path. A secret that does not exist is treated
as already deleted.

With --permanent on a KV v2 mount every version and the metadata are
removed. Otherwise the latest version is soft-deleted (KV v2) or the
secret is removed (KV v1).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt.settings(config.Needs{Vault: true})
			if err != nil {
				return err
			}
			if path == "" {
				path = s.Vault.Path
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
				Run(cmd.Context(), workflow.Delete{Path: path, Permanent: permanent}, manifestContext(s.Invocation))
			if err != nil {
				return err
			}
			if len(res.Keys) == 0 {
				rt.logger().Warn("No keys were deleted (secret may not exist)")
			}
			rt.report(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Secret path (default: VAULT_PATH)")
	cmd.Flags().BoolVar(&permanent, "permanent", false, "Remove all versions and metadata (KV v2 only)")

	return cmd
}
