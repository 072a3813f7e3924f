package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/pkg/config"
)

var versionWithServer bool

// versionReport pairs the CLI build with the server's, when asked for.
type versionReport struct {
	Client config.BuildInfo `json:"client"`
	Server map[string]any   `json:"server,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print client and, with --server, server versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		report := versionReport{Client: config.GetBuildInfo()}
		if versionWithServer {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			if report.Server, err = c.Health(cmd.Context()); err != nil {
				return fmt.Errorf("query server: %w", err)
			}
		}
		return render(cmd, report, func(w io.Writer) {
			fmt.Fprintln(w, config.VersionString("lognexusctl"))
			if report.Server != nil {
				fmt.Fprintf(w, "server %v (%v) at %s, up %v\n",
					report.Server["version"], report.Server["commit"], serverURL, report.Server["uptime"])
			}
		})
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionWithServer, "server", false, "also report the server's version")
	rootCmd.AddCommand(versionCmd)
}
