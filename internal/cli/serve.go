package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/atlasbms/atlas/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()
		return d.Serve(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
