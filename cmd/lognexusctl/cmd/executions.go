package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/agent"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

var (
	execServer      string
	execID          string
	execTriggerType string
	execTriggeredBy string

	execStatus string
	execError  string
	execOutput string
	execReason string
)

// executionsCmd represents the executions command group
var executionsCmd = &cobra.Command{
	Use:     "executions",
	Aliases: []string{"exec", "execution"},
	Short:   "Record and inspect job executions",
	Long: `Record job runs from scripts and cron wrappers.

Example:
  id=$(lognexusctl executions start nightly-sync --server batch-01 -o json | jq -r .id)
  if ./sync.sh; then
    lognexusctl executions complete "$id" --status success
  else
    lognexusctl executions complete "$id" --status failed --error "exit $?"
  fi`,
}

var executionsStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Record the start of a job run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := agent.ExecutionStart{
			ID:          execID,
			JobID:       args[0],
			ServerName:  execServer,
			TriggerType: execTriggerType,
			TriggeredBy: execTriggeredBy,
		}
		if start.TriggeredBy == "" {
			start.TriggeredBy = os.Getenv("USER")
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		e, err := c.StartExecution(cmd.Context(), start)
		if err != nil {
			return err
		}
		return render(cmd, e, func(w io.Writer) {
			fmt.Fprintln(w, e.ID)
		})
	},
}

var executionsCompleteCmd = &cobra.Command{
	Use:   "complete <execution-id>",
	Short: "Record the end of a job run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := parseFinalStatus(execStatus)
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		e, err := c.CompleteExecution(cmd.Context(), args[0], status, execError, execOutput)
		if err != nil {
			return err
		}
		return render(cmd, e, func(w io.Writer) {
			fmt.Fprintf(w, "Execution %s %s after %s\n", e.ID, e.Status, fmtDuration(e.DurationMs))
		})
	},
}

var executionsCancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel a running execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		e, err := c.CancelExecution(cmd.Context(), args[0], execReason)
		if err != nil {
			return err
		}
		return render(cmd, e, func(w io.Writer) {
			fmt.Fprintf(w, "Execution %s cancelled\n", e.ID)
		})
	},
}

var executionsShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		e, err := c.GetExecution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, e, func(w io.Writer) {
			fmt.Fprintf(w, "ID:\t%s\n", e.ID)
			fmt.Fprintf(w, "Job:\t%s\n", e.JobID)
			fmt.Fprintf(w, "Server:\t%s\n", e.ServerName)
			fmt.Fprintf(w, "Status:\t%s\n", e.Status)
			fmt.Fprintf(w, "Trigger:\t%s\n", e.TriggerType)
			fmt.Fprintf(w, "Triggered by:\t%s\n", orDash(e.TriggeredBy))
			fmt.Fprintf(w, "Started:\t%s\n", fmtTime(e.StartedAt))
			fmt.Fprintf(w, "Completed:\t%s\n", fmtTimePtr(e.CompletedAt))
			fmt.Fprintf(w, "Duration:\t%s\n", fmtDuration(e.Elapsed(time.Now()).Milliseconds()))
			if e.ErrorMessage != "" {
				fmt.Fprintf(w, "Error:\t%s\n", shorten(e.ErrorMessage, 200))
			}
			if e.OutputMessage != "" {
				fmt.Fprintf(w, "Output:\t%s\n", shorten(e.OutputMessage, 200))
			}
		})
	},
}

// parseFinalStatus accepts the final execution states in any case.
func parseFinalStatus(s string) (models.ExecutionStatus, error) {
	for _, st := range []models.ExecutionStatus{
		models.ExecutionSuccess, models.ExecutionFailed, models.ExecutionCancelled, models.ExecutionTimedOut,
	} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status %q (want success, failed, cancelled or timedout)", s)
}

func fmtDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func init() {
	executionsStartCmd.Flags().StringVar(&execServer, "server", "", "server name (default: the job's server)")
	executionsStartCmd.Flags().StringVar(&execID, "id", "", "execution id (default: assigned by the server)")
	executionsStartCmd.Flags().StringVar(&execTriggerType, "trigger", "Manual", "trigger type (Manual, Scheduled, Triggered, Retry)")
	executionsStartCmd.Flags().StringVar(&execTriggeredBy, "triggered-by", "", "who started the run (default: $USER)")

	executionsCompleteCmd.Flags().StringVar(&execStatus, "status", "success", "final status")
	executionsCompleteCmd.Flags().StringVar(&execError, "error", "", "error message")
	executionsCompleteCmd.Flags().StringVar(&execOutput, "output", "", "output summary")

	executionsCancelCmd.Flags().StringVar(&execReason, "reason", "", "cancellation reason")

	executionsCmd.AddCommand(executionsStartCmd, executionsCompleteCmd, executionsCancelCmd, executionsShowCmd)
	rootCmd.AddCommand(executionsCmd)
}
