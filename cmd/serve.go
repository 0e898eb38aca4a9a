package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API",
		Long: `Serves POST /download-cv along with health, metrics and storage
authorization routes. SIGINT and SIGTERM trigger a graceful drain.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, app App) error {
			return app.Run(cmd.Context())
		}),
	}
}
