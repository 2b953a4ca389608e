package cmd

import (
	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Runs sync on the configured cron schedule until interrupted",
		Long: `Starts a long running process that triggers a sync on schedule.spec,
evaluated in sync.timezone. A run that is still going when the next one is due
is skipped. Sync flags apply to every scheduled run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Schedule(cmd.Context(), f.apply(cmd, a.Config().Sync))
		},
	}
	addSyncFlags(cmd, &f)
	return cmd
}
