package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultops/internal/config"
	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/logging"
	"github.com/systmms/vaultops/internal/vault"
	"github.com/systmms/vaultops/internal/workflow"
)

func NewWriteCommand(rt *Runtime) *cobra.Command {
	var (
		keys         string
		path         string
		action       string
		skipManifest bool
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write approved secret values to Vault",
		Long: `Write one value per key to the secret. Each value is read from the
RD_OPTION_<KEY> variable the approval job exports. A missing value is
written as an empty string and reported as a warning.

Action "add" merges the values into the existing secret; any other action
replaces it.

Examples:
  vaultops write --keys GITHUB_TOKEN,NPM_TOKEN
  vaultops write -i DB_PASSWORD --skip-manifest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := workflow.ParseKeys(keys)
			if len(parsed) == 0 {
				return vaerrors.ValidationError{
					Message:    "no valid secret keys provided",
					Suggestion: "Use --keys KEY1,KEY2",
				}
			}

			s, err := rt.settings(config.Needs{Vault: true})
			if err != nil {
				return err
			}
			if path == "" {
				path = s.Vault.Path
			}
			if action == "" {
				action = s.Invocation.Action
			}

			values := gatherValues(s.Invocation, parsed, rt.logger())

			store, err := rt.store(s)
			if err != nil {
				return err
			}
			var opts []workflow.PipelineOption
			if !skipManifest {
				publisher, err := rt.publisher(s)
				if err != nil {
					return err
				}
				opts = append(opts, workflow.WithPublisher(publisher))
			}

			res, err := rt.pipeline(s, store, opts...).
				Run(cmd.Context(), workflow.Write{Path: path, Values: values, Action: action}, manifestContext(s.Invocation))
			if err != nil {
				return err
			}
			rt.report(res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&keys, "keys", "i", "", "Comma-separated secret keys (required)")
	cmd.Flags().StringVar(&path, "path", "", "Secret path (default: VAULT_PATH)")
	cmd.Flags().StringVar(&action, "action", "", "add merges, anything else replaces (default: Action job option)")
	cmd.Flags().BoolVar(&skipManifest, "skip-manifest", false, "Skip manifest generation")
	_ = cmd.MarkFlagRequired("keys")

	return cmd
}

// gatherValues reads one job option per key. Values are never logged.
func gatherValues(inv config.Invocation, keys []string, log *logging.Logger) vault.Bundle {
	values := make(vault.Bundle, len(keys))
	var missing []string
	for _, key := range keys {
		v, ok := inv.Option(key)
		if !ok {
			log.Warn("Missing environment variable: RD_OPTION_%s", config.OptionKey(key))
			missing = append(missing, key)
		} else {
			log.Debug("Found value for %s", key)
		}
		values[key] = v
	}
	if len(missing) > 0 {
		log.Warn("Total missing keys: %d - %s", len(missing), strings.Join(missing, ", "))
	}
	log.Info("Gathered %d secret values", len(values))
	return values
}
