package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/vaultops/internal/config"
	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/vault"
)

// Output formats of the keys command.
const (
	FormatComma = "comma"
	FormatSpace = "space"
	FormatJSON  = "json"
	FormatList  = "list"
)

// secretMissingError makes a missing secret exit with the validation code,
// so scripts can tell "absent" from "store unreachable".
type secretMissingError struct {
	path string
}

func (e secretMissingError) Error() string {
	return fmt.Sprintf("secret does not exist at %s", e.path)
}

func (e secretMissingError) ValidationFailure() bool { return true }

func NewKeysCommand(rt *Runtime) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "keys [path]",
		Short: "List the keys of a secret",
		Long: `Print the key names stored at a secret path. Values are never printed.

Exit codes: 0 when the secret exists (even without keys), 1 when it does
not exist, 2 when the store cannot be read.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case FormatComma, FormatSpace, FormatJSON, FormatList:
			default:
				return vaerrors.ValidationError{
					Message:    fmt.Sprintf("unknown output format %q", format),
					Suggestion: "Use comma, space, json or list",
				}
			}

			s, err := rt.settings(config.Needs{Vault: true})
			if err != nil {
				return err
			}
			path := s.Vault.Path
			if len(args) == 1 {
				path = args[0]
			}

			store, err := rt.store(s)
			if err != nil {
				return err
			}
			rt.logger().Info("Reading secret keys from Vault path: %s", path)
			bundle, err := store.Read(cmd.Context(), path)
			if vault.IsNotFound(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "Secret does not exist or not found")
				return secretMissingError{path: path}
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(bundle) == 0 {
				rt.logger().Warn("Secret exists but contains no keys")
				fmt.Fprintln(out, "Secret exists but contains no keys")
				return nil
			}

			keys := bundle.Keys()
			sort.Strings(keys)
			rt.logger().Info("Found %d keys in Vault", len(keys))

			switch format {
			case FormatComma:
				fmt.Fprintf(out, "Vault name: %s\n", secretName(path))
				fmt.Fprintf(out, "Key       : %s\n", strings.Join(keys, ","))
			case FormatSpace:
				fmt.Fprintln(out, strings.Join(keys, " "))
			case FormatJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(keys); err != nil {
					return fmt.Errorf("failed to encode JSON: %w", err)
				}
			default:
				fmt.Fprintln(out, strings.Join(keys, "\n"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", FormatComma, "Output format: comma, space, json or list")

	return cmd
}

// secretName drops the mount from a secret path.
func secretName(path string) string {
	if _, name, ok := strings.Cut(path, "/"); ok {
		return name
	}
	return path
}
