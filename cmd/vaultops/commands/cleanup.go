package commands

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/systmms/vaultops/internal/config"
	vaerrors "github.com/systmms/vaultops/internal/errors"
	"github.com/systmms/vaultops/internal/logging"
	"github.com/systmms/vaultops/internal/rundeck"
)

func NewCleanupCommand(rt *Runtime) *cobra.Command {
	var (
		jobID   string
		jobHref string
		path    string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete an approval job and local artifacts",
		Long: `Delete a Rundeck job by ID or href and/or remove a local file or
directory. Targets that are already gone count as success.

Examples:
  vaultops cleanup --job-id 3f2b...
  vaultops cleanup --job-href https://rundeck/project/p/job/show/3f2b... --path /tmp/job-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" && jobHref != "" {
				jobID = rundeck.JobIDFromHref(jobHref)
			}
			if jobID == "" && path == "" {
				return vaerrors.ValidationError{
					Message:    "nothing to clean up",
					Suggestion: "Use --job-id, --job-href or --path",
				}
			}

			log := rt.logger()
			if jobID != "" {
				s, err := rt.settings(config.Needs{Rundeck: true})
				if err != nil {
					return err
				}
				client, err := rt.importer(s)
				if err != nil {
					return err
				}
				deleted, err := client.DeleteJob(cmd.Context(), jobID)
				if err != nil {
					return err
				}
				if deleted {
					log.Info("Job deleted successfully: %s", jobID)
				} else {
					log.Warn("Job not found (may already be deleted): %s", jobID)
				}
			}

			if path != "" {
				if err := removePath(rt.Fs, path, log); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Rundeck job ID to delete")
	cmd.Flags().StringVar(&jobHref, "job-href", "", "Rundeck job href or permalink to delete")
	cmd.Flags().StringVar(&path, "path", "", "File or directory to delete")
	cmd.MarkFlagsMutuallyExclusive("job-id", "job-href")

	return cmd
}

func removePath(fs afero.Fs, path string, log *logging.Logger) error {
	if _, err := fs.Stat(path); os.IsNotExist(err) {
		log.Warn("Path not found (may already be deleted): %s", path)
		return nil
	}
	if err := fs.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	log.Info("Path deleted successfully: %s", path)
	return nil
}
