package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the top-level "riskassistant" command.
func NewRootCmd() *cobra.Command {
	var flags Flags

	root := &cobra.Command{
		Use:           "riskassistant",
		Short:         "Ask questions about KPI and business activity data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.EnvFile, "env-file", ".env", "Path to the .env file")
	root.PersistentFlags().StringVar(&flags.KPIPath, "kpi", "", "Path to kpi.csv (overrides KPI_CSV_PATH)")
	root.PersistentFlags().StringVar(&flags.ActivityPath, "activity", "", "Path to activity.csv (overrides ACTIVITY_CSV_PATH)")

	root.AddCommand(
		newServeCmd(&flags),
		newAskCmd(&flags),
		newChatCmd(&flags),
		newAgentServerCmd(&flags),
	)
	return root
}
