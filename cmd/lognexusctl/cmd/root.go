// Package cmd contains the CLI commands for lognexusctl.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/agent"
	"github.com/good-yellow-bee/lognexus/pkg/config"
)

const defaultServerURL = "http://localhost:8080"

var (
	// Used for flags
	verbose   bool
	output    string
	serverURL string
	timeout   time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lognexusctl",
	Short: "LogNexus CLI - logs, fleet and alerts from the command line",
	Long: `lognexusctl talks to a LogNexus server over its HTTP API.

It can query and send logs, inspect servers and jobs, record job
executions from scripts and work the alert queue.

The server URL comes from --url, then LOGNEXUS_URL, then
` + defaultServerURL + `.

Examples:
  # Errors from the last hour on one server
  lognexusctl logs list --server web-1 --min-level error

  # Record a cron run
  id=$(lognexusctl executions start nightly-sync --server batch-01 -o json | jq -r .id)
  lognexusctl executions complete "$id" --status success

  # Acknowledge an alert
  lognexusctl alerts ack 5f0c... --notes "looking"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if output != "table" && output != "json" {
			return fmt.Errorf("invalid output format %q (want table or json)", output)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext is Execute with a context that commands use for requests.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	defaultURL := os.Getenv("LOGNEXUS_URL")
	if defaultURL == "" {
		defaultURL = defaultServerURL
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultURL, "LogNexus server URL (env LOGNEXUS_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// GetOutput returns the output format.
func GetOutput() string {
	return output
}

// PrintVerbose prints a message to stderr only if verbose mode is enabled.
func PrintVerbose(cmd *cobra.Command, format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
}

func newClient(cmd *cobra.Command) (*agent.Client, error) {
	PrintVerbose(cmd, "using server %s", serverURL)
	c, err := agent.NewClient(agent.ClientConfig{
		BaseURL:   serverURL,
		Timeout:   timeout,
		UserAgent: config.UserAgent("lognexusctl"),
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}
