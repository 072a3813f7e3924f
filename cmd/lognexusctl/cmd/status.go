package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

// Overview is what the status command reports.
type Overview struct {
	URL     string                      `json:"url"`
	Health  map[string]any              `json:"health"`
	Servers map[models.ServerStatus]int `json:"servers"`
	Alerts  *models.AlertSummary        `json:"alerts"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"dashboard"},
	Short:   "Show server health, fleet state and active alerts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		health, err := c.Health(ctx)
		if err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}
		servers, err := c.ListServers(ctx, "")
		if err != nil {
			return err
		}
		summary, err := c.AlertSummary(ctx)
		if err != nil {
			return err
		}

		ov := Overview{
			URL:     serverURL,
			Health:  health,
			Servers: make(map[models.ServerStatus]int),
			Alerts:  summary,
		}
		for _, s := range servers {
			ov.Servers[s.Status]++
		}

		return render(cmd, ov, func(w io.Writer) {
			fmt.Fprintf(w, "Server:\t%s (%v, version %v)\n", ov.URL, health["status"], health["version"])
			fmt.Fprintf(w, "Servers:\t%d online, %d offline, %d maintenance, %d error (%d total)\n",
				ov.Servers[models.ServerStatusOnline], ov.Servers[models.ServerStatusOffline],
				ov.Servers[models.ServerStatusMaintenance], ov.Servers[models.ServerStatusError], len(servers))
			fmt.Fprintf(w, "Alerts:\t%d active (%d critical, %d high, %d new)\n",
				summary.Total, summary.Critical, summary.High, summary.New)
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
