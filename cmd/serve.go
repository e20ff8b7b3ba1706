package cmd

import (
	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand, which exposes recorded runs,
// health probes and Prometheus metrics over HTTP until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
