package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/agent"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

var (
	logServer    string
	logJob       string
	logExecution string
	logLevels    string
	logMinLevel  string
	logContains  string
	logSince     time.Duration
	logPage      int
	logPerPage   int

	logSendLevel    string
	logSendCategory string

	logStatsSince time.Duration
	logCompare    bool
)

// logsCmd represents the logs command group
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query and send logs",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List log entries, newest first",
	Long: `List log entries matching the given filters, newest first.

Examples:
  lognexusctl logs list --since 15m
  lognexusctl logs list --server web-1 --level error,critical
  lognexusctl logs list --job nightly-sync --contains timeout`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := agent.LogQuery{
			ServerName: logServer,
			JobID:      logJob,
			Execution:  logExecution,
			Contains:   logContains,
			Page:       logPage,
			PerPage:    logPerPage,
		}
		if logSince > 0 {
			q.Start = time.Now().Add(-logSince)
		}
		if logLevels != "" {
			for _, s := range strings.Split(logLevels, ",") {
				lv, ok := models.ParseLogLevel(s)
				if !ok {
					return fmt.Errorf("invalid level %q", s)
				}
				q.Levels = append(q.Levels, lv)
			}
		}
		if logMinLevel != "" {
			lv, ok := models.ParseLogLevel(logMinLevel)
			if !ok {
				return fmt.Errorf("invalid min level %q", logMinLevel)
			}
			q.MinLevel = lv
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		page, err := c.QueryLogs(cmd.Context(), q)
		if err != nil {
			return err
		}

		return render(cmd, page, func(w io.Writer) {
			if len(page.Items) == 0 {
				fmt.Fprintln(w, "No log entries found.")
				return
			}
			fmt.Fprintln(w, "TIME\tLEVEL\tSERVER\tJOB\tMESSAGE")
			for _, e := range page.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					fmtTime(e.Timestamp), e.Level, e.ServerName, orDash(e.JobID), shorten(e.Message, 80))
			}
			fmt.Fprintf(w, "\nPage %d of %d, %d entries\n", page.Page, max(page.TotalPages, 1), page.Total)
		})
	},
}

var logsSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one log entry",
	Long: `Send a single log entry, for example from a shell script.

Examples:
  lognexusctl logs send "backup finished" --job nightly-backup
  lognexusctl logs send "disk almost full" --level warning --server db-1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, ok := models.ParseLogLevel(logSendLevel)
		if !ok {
			return fmt.Errorf("invalid level %q", logSendLevel)
		}
		server := logServer
		if server == "" {
			server, _ = os.Hostname()
		}
		entry := &models.LogEntry{
			ID:          uuid.New().String(),
			Timestamp:   time.Now().UTC(),
			Level:       level,
			Message:     args[0],
			ServerName:  server,
			JobID:       logJob,
			ExecutionID: logExecution,
			Category:    logSendCategory,
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		n, err := c.SendLogs(cmd.Context(), []*models.LogEntry{entry})
		if err != nil {
			return err
		}
		result := map[string]any{"accepted": n, "id": entry.ID}
		return render(cmd, result, func(w io.Writer) {
			fmt.Fprintf(w, "Sent %s entry %s\n", level, entry.ID)
		})
	},
}

var logsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show log counts per level",
	Long: `Show log counts per level for the last --since window.
With --compare the window before it is shown alongside.

Example:
  lognexusctl logs stats --since 24h --compare`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if logStatsSince <= 0 {
			return fmt.Errorf("--since must be positive")
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		end := time.Now()
		stats, err := c.LogStats(cmd.Context(), end.Add(-logStatsSince), end, logCompare)
		if err != nil {
			return err
		}

		return render(cmd, stats, func(w io.Writer) {
			cur := stats.Current
			if cur == nil {
				cur = &models.LogStatistics{}
			}
			prev := stats.Previous
			if prev != nil {
				fmt.Fprintln(w, "LEVEL\tCOUNT\tPREVIOUS")
			} else {
				fmt.Fprintln(w, "LEVEL\tCOUNT")
			}
			for _, lv := range models.LogLevels {
				if prev != nil {
					fmt.Fprintf(w, "%s\t%d\t%d\n", lv, cur.ByLevel[lv], prev.ByLevel[lv])
				} else {
					fmt.Fprintf(w, "%s\t%d\n", lv, cur.ByLevel[lv])
				}
			}
			if prev != nil {
				fmt.Fprintf(w, "TOTAL\t%d\t%d\n", cur.Total, prev.Total)
			} else {
				fmt.Fprintf(w, "TOTAL\t%d\n", cur.Total)
			}
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{logsListCmd, logsSendCmd} {
		c.Flags().StringVar(&logServer, "server", "", "server name")
		c.Flags().StringVar(&logJob, "job", "", "job id")
		c.Flags().StringVar(&logExecution, "execution", "", "execution id")
	}

	logsListCmd.Flags().StringVar(&logLevels, "level", "", "comma-separated levels")
	logsListCmd.Flags().StringVar(&logMinLevel, "min-level", "", "minimum level")
	logsListCmd.Flags().StringVar(&logContains, "contains", "", "message substring")
	logsListCmd.Flags().DurationVar(&logSince, "since", time.Hour, "how far back to look (0 for no limit)")
	logsListCmd.Flags().IntVar(&logPage, "page", 1, "page number")
	logsListCmd.Flags().IntVar(&logPerPage, "per-page", 50, "entries per page")

	logsSendCmd.Flags().StringVar(&logSendLevel, "level", "information", "log level")
	logsSendCmd.Flags().StringVar(&logSendCategory, "category", "", "category")

	logsStatsCmd.Flags().DurationVar(&logStatsSince, "since", 24*time.Hour, "window length")
	logsStatsCmd.Flags().BoolVar(&logCompare, "compare", false, "include the previous window")

	logsCmd.AddCommand(logsListCmd, logsSendCmd, logsStatsCmd)
	rootCmd.AddCommand(logsCmd)
}
