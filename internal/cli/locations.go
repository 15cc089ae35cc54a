package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List supervised locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		var locs []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Equipment int    `json:"equipment"`
		}
		if err := getJSON("/api/locations", &locs); err != nil {
			return err
		}
		for _, l := range locs {
			fmt.Printf("%-14s %-24s %d units\n", l.ID, l.Name, l.Equipment)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(locationsCmd)
}
