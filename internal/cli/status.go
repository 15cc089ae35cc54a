package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlasbms/atlas/internal/engine"
	"github.com/atlasbms/atlas/internal/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine health and processor task state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var hs struct {
			Healthy bool            `json:"healthy"`
			Checks  []health.Status `json:"checks"`
		}
		if err := getJSON("/health", &hs); err != nil {
			return err
		}

		if hs.Healthy {
			fmt.Println("atlas: healthy")
		} else {
			fmt.Println("atlas: UNHEALTHY")
		}
		for _, c := range hs.Checks {
			mark := "ok"
			if !c.Healthy {
				mark = "FAIL: " + c.Error
			}
			fmt.Printf("  %-22s %s\n", c.Name, mark)
		}

		var tasks map[string][]engine.TaskStatus
		if err := getJSON("/api/processors", &tasks); err != nil {
			return err
		}

		locs := make([]string, 0, len(tasks))
		for l := range tasks {
			locs = append(locs, l)
		}
		sort.Strings(locs)

		for _, l := range locs {
			fmt.Printf("\n%s\n", l)
			for _, t := range tasks[l] {
				last := "never"
				if !t.LastRunEndedAt.IsZero() {
					last = time.Since(t.LastRunEndedAt).Round(time.Second).String() + " ago"
				}
				fmt.Printf("  %-14s every %-6s last %-12s %s\n",
					t.Type, t.Interval, last, t.LastStatus)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
