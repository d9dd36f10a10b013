package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultops/internal/config"
	"github.com/systmms/vaultops/internal/workflow"
)

func NewRequestCommand(rt *Runtime) *cobra.Command {
	var (
		keys    string
		path    string
		action  string
		command string
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Create the approval job that collects secret values",
		Long: `Generate an approval job with one required option per key and import
it into Rundeck. Once approved, the job runs "vaultops write" with the
collected values. No secret is written by this command.

With action "create" the command fails if the secret already exists.

Examples:
  vaultops request --keys GITHUB_TOKEN,NPM_TOKEN
  vaultops request --keys API_KEY --action add`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt.settings(config.Needs{Vault: true, Rundeck: true})
			if err != nil {
				return err
			}
			if keys == "" {
				keys, _ = s.Invocation.Option("VaultKey")
			}
			if path == "" {
				path = s.Vault.Path
			}
			if action == "" {
				action = s.Invocation.Action
			}
			parsed := workflow.ParseKeys(keys)
			if command == "" && len(parsed) > 0 {
				command = fmt.Sprintf("vaultops write --keys %s", strings.Join(parsed, ","))
			}

			store, err := rt.store(s)
			if err != nil {
				return err
			}
			importer, err := rt.importer(s)
			if err != nil {
				return err
			}

			req := workflow.Request{
				Path:    path,
				Keys:    parsed,
				Action:  action,
				Project: s.Rundeck.Project,
				Command: command,
			}
			res, err := rt.pipeline(s, store, workflow.WithImporter(importer)).
				Run(cmd.Context(), req, manifestContext(s.Invocation))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Permalink)
			rt.report(res)
			return nil
		},
	}

	cmd.Flags().StringVar(&keys, "keys", "", "Comma-separated secret keys (default: VaultKey job option)")
	cmd.Flags().StringVar(&path, "path", "", "Secret path (default: VAULT_PATH)")
	cmd.Flags().StringVar(&action, "action", "", "create or add (default: Action job option)")
	cmd.Flags().StringVar(&command, "command", "", "Command run by the approval job")

	return cmd
}
