package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/models"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

var (
	serverStatus      string
	serverName        string
	serverDisplayName string
)

// serversCmd represents the servers command group
var serversCmd = &cobra.Command{
	Use:     "servers",
	Aliases: []string{"server"},
	Short:   "Inspect monitored servers",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers",
	Long: `List every known server with its status and last heartbeat.

Examples:
  lognexusctl servers list
  lognexusctl servers list --status offline`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := parseServerStatus(serverStatus)
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		servers, err := c.ListServers(cmd.Context(), status)
		if err != nil {
			return err
		}

		return render(cmd, servers, func(w io.Writer) {
			if len(servers) == 0 {
				fmt.Fprintln(w, "No servers found.")
				return
			}
			fmt.Fprintln(w, "NAME\tSTATUS\tLAST HEARTBEAT\tVERSION\tIP")
			for _, s := range servers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.Name, s.Status, fmtTimePtr(s.LastHeartbeat), orDash(s.AgentVersion), orDash(s.IPAddress))
			}
			fmt.Fprintf(w, "\nTotal: %d server(s)\n", len(servers))
		})
	},
}

var serversShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		s, err := c.GetServer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, s, func(w io.Writer) { printServer(w, s) })
	},
}

var serversHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Report a server alive",
	Long: `Send one heartbeat, registering the server if it is new.
Useful for hosts that run jobs but no agent.

Example:
  lognexusctl servers heartbeat --name batch-01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := serverName
		if name == "" {
			name, _ = os.Hostname()
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		s, err := c.Heartbeat(cmd.Context(), models.Heartbeat{
			ServerName:   name,
			DisplayName:  serverDisplayName,
			AgentVersion: "lognexusctl/" + config.Version,
			OSInfo:       runtime.GOOS + "/" + runtime.GOARCH,
		})
		if err != nil {
			return err
		}
		return render(cmd, s, func(w io.Writer) {
			fmt.Fprintf(w, "Heartbeat recorded for %s (%s)\n", s.Name, s.Status)
		})
	},
}

var serversMaintenanceCmd = &cobra.Command{
	Use:   "maintenance <name> <on|off>",
	Short: "Put a server into maintenance or take it out",
	Long: `Servers in maintenance are not reported offline and do not trigger
heartbeat alerts.

Example:
  lognexusctl servers maintenance db-1 on`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch strings.ToLower(args[1]) {
		case "on", "true", "enable":
			enabled = true
		case "off", "false", "disable":
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		s, err := c.SetMaintenance(cmd.Context(), args[0], enabled)
		if err != nil {
			return err
		}
		return render(cmd, s, func(w io.Writer) {
			fmt.Fprintf(w, "%s is now %s\n", s.Name, s.Status)
		})
	},
}

func printServer(w io.Writer, s *models.Server) {
	fmt.Fprintf(w, "Name:\t%s\n", s.Name)
	fmt.Fprintf(w, "Display name:\t%s\n", orDash(s.DisplayName))
	fmt.Fprintf(w, "Status:\t%s\n", s.Status)
	fmt.Fprintf(w, "Active:\t%t\n", s.IsActive)
	fmt.Fprintf(w, "Last heartbeat:\t%s\n", fmtTimePtr(s.LastHeartbeat))
	fmt.Fprintf(w, "Agent version:\t%s\n", orDash(s.AgentVersion))
	fmt.Fprintf(w, "IP address:\t%s\n", orDash(s.IPAddress))
	fmt.Fprintf(w, "OS:\t%s\n", orDash(s.OSInfo))
	fmt.Fprintf(w, "Registered:\t%s\n", fmtTime(s.CreatedAt))
}

func parseServerStatus(s string) (models.ServerStatus, error) {
	if s == "" {
		return "", nil
	}
	for _, st := range []models.ServerStatus{
		models.ServerStatusOnline, models.ServerStatusOffline, models.ServerStatusMaintenance,
		models.ServerStatusError, models.ServerStatusUnknown,
	} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid server status %q", s)
}

func init() {
	serversListCmd.Flags().StringVar(&serverStatus, "status", "", "filter by status (online, offline, maintenance, error, unknown)")
	serversHeartbeatCmd.Flags().StringVar(&serverName, "name", "", "server name (default: hostname)")
	serversHeartbeatCmd.Flags().StringVar(&serverDisplayName, "display-name", "", "display name")

	serversCmd.AddCommand(serversListCmd, serversShowCmd, serversHeartbeatCmd, serversMaintenanceCmd)
	rootCmd.AddCommand(serversCmd)
}
