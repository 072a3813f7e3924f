package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/agent"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

var (
	jobActiveOnly bool

	jobServer      string
	jobName        string
	jobDescription string
	jobSchedule    string
	jobPriority    string
	jobTimeout     int
	jobTags        string
)

// jobsCmd represents the jobs command group
var jobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"job"},
	Short:   "Manage registered jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		jobs, err := c.ListJobs(cmd.Context(), jobActiveOnly)
		if err != nil {
			return err
		}

		return render(cmd, jobs, func(w io.Writer) {
			if len(jobs) == 0 {
				fmt.Fprintln(w, "No jobs found.")
				return
			}
			fmt.Fprintln(w, "JOB ID\tSERVER\tPRIORITY\tACTIVE\tSCHEDULE\tLAST RUN\tLAST STATUS")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
					j.JobID, j.ServerName, j.Priority, j.IsActive, orDash(j.Schedule),
					fmtTimePtr(j.LastExecutionAt), orDash(string(j.LastExecutionStatus)))
			}
			fmt.Fprintf(w, "\nTotal: %d job(s)\n", len(jobs))
		})
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		j, err := c.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(cmd, j, func(w io.Writer) { printJob(w, j) })
	},
}

var jobsRegisterCmd = &cobra.Command{
	Use:   "register <job-id>",
	Short: "Register or update a job",
	Long: `Register a job, or update it when the id is already known.

Example:
  lognexusctl jobs register nightly-sync --server batch-01 \
    --schedule "0 2 * * *" --priority high --timeout-minutes 90 --tags sync,erp`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobServer == "" {
			return fmt.Errorf("--server is required")
		}
		reg := agent.JobRegistration{
			JobID:          args[0],
			DisplayName:    jobName,
			ServerName:     jobServer,
			Description:    jobDescription,
			Schedule:       jobSchedule,
			TimeoutMinutes: jobTimeout,
		}
		if jobPriority != "" {
			p, err := parsePriority(jobPriority)
			if err != nil {
				return err
			}
			reg.Priority = string(p)
		}
		if jobTags != "" {
			for _, t := range strings.Split(jobTags, ",") {
				if t = strings.TrimSpace(t); t != "" {
					reg.Tags = append(reg.Tags, t)
				}
			}
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		j, err := c.RegisterJob(cmd.Context(), reg)
		if err != nil {
			return err
		}
		return render(cmd, j, func(w io.Writer) {
			fmt.Fprintf(w, "Registered job %s on %s\n", j.JobID, j.ServerName)
		})
	},
}

var jobsActivateCmd = &cobra.Command{
	Use:   "activate <job-id>",
	Short: "Activate a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobActive(cmd, args[0], true)
	},
}

var jobsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <job-id>",
	Short: "Deactivate a job; inactive jobs are not checked for missed runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobActive(cmd, args[0], false)
	},
}

// setJobActive re-registers the job with its current definition and the
// new active flag.
func setJobActive(cmd *cobra.Command, jobID string, active bool) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	j, err := c.GetJob(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	j, err = c.RegisterJob(cmd.Context(), agent.JobRegistration{
		JobID:          j.JobID,
		DisplayName:    j.DisplayName,
		ServerName:     j.ServerName,
		Description:    j.Description,
		Schedule:       j.Schedule,
		Priority:       string(j.Priority),
		IsActive:       &active,
		TimeoutMinutes: j.TimeoutMinutes,
		Tags:           j.Tags,
	})
	if err != nil {
		return err
	}
	state := "inactive"
	if j.IsActive {
		state = "active"
	}
	return render(cmd, j, func(w io.Writer) {
		fmt.Fprintf(w, "Job %s is now %s\n", j.JobID, state)
	})
}

func printJob(w io.Writer, j *models.Job) {
	fmt.Fprintf(w, "Job ID:\t%s\n", j.JobID)
	fmt.Fprintf(w, "Name:\t%s\n", orDash(j.DisplayName))
	fmt.Fprintf(w, "Server:\t%s\n", j.ServerName)
	fmt.Fprintf(w, "Description:\t%s\n", orDash(j.Description))
	fmt.Fprintf(w, "Schedule:\t%s\n", orDash(j.Schedule))
	fmt.Fprintf(w, "Priority:\t%s\n", j.Priority)
	fmt.Fprintf(w, "Active:\t%t\n", j.IsActive)
	if j.TimeoutMinutes > 0 {
		fmt.Fprintf(w, "Timeout:\t%d min\n", j.TimeoutMinutes)
	}
	fmt.Fprintf(w, "Last run:\t%s\n", fmtTimePtr(j.LastExecutionAt))
	fmt.Fprintf(w, "Last status:\t%s\n", orDash(string(j.LastExecutionStatus)))
	if len(j.Tags) > 0 {
		fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(j.Tags, ", "))
	}
}

func parsePriority(s string) (models.JobPriority, error) {
	for _, p := range []models.JobPriority{
		models.JobPriorityLow, models.JobPriorityNormal, models.JobPriorityHigh, models.JobPriorityCritical,
	} {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid priority %q (want low, normal, high or critical)", s)
}

func init() {
	jobsListCmd.Flags().BoolVar(&jobActiveOnly, "active", false, "only active jobs")

	jobsRegisterCmd.Flags().StringVar(&jobServer, "server", "", "server the job runs on (required)")
	jobsRegisterCmd.Flags().StringVar(&jobName, "name", "", "display name")
	jobsRegisterCmd.Flags().StringVar(&jobDescription, "description", "", "description")
	jobsRegisterCmd.Flags().StringVar(&jobSchedule, "schedule", "", "cron expression")
	jobsRegisterCmd.Flags().StringVar(&jobPriority, "priority", "", "low, normal, high or critical")
	jobsRegisterCmd.Flags().IntVar(&jobTimeout, "timeout-minutes", 0, "minutes before a running execution times out")
	jobsRegisterCmd.Flags().StringVar(&jobTags, "tags", "", "comma-separated tags")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsRegisterCmd, jobsActivateCmd, jobsDeactivateCmd)
	rootCmd.AddCommand(jobsCmd)
}
