package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atlasbms/atlas/internal/domain"
)

var equipmentLocation string

var equipmentCmd = &cobra.Command{
	Use:   "equipment",
	Short: "List the equipment roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/equipment"
		if equipmentLocation != "" {
			path += "?location=" + equipmentLocation
		}
		var list []domain.Equipment
		if err := getJSON(path, &list); err != nil {
			return err
		}
		for _, e := range list {
			group := e.GroupID
			if group == "" {
				group = "-"
			}
			fmt.Printf("%-16s %-14s %-12s %-22s %s\n", e.ID, e.Type, e.LocationID, group, e.Name)
		}
		return nil
	},
}

func init() {
	equipmentCmd.Flags().StringVar(&equipmentLocation, "location", "", "filter by location id")
	rootCmd.AddCommand(equipmentCmd)
}
