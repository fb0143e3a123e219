package cli

import (
	"github.com/spf13/cobra"

	"github.com/capsulehq/capsule/pkg/version"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "capsule",
		Short:   "Capsule long-term memory service",
		Version: version.GetVersion(),
	}

	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "emit JSON logs")
	root.PersistentFlags().Bool("log-source", false, "include caller locations in logs")

	root.AddCommand(
		ServeCmd(),
	)

	return root
}
