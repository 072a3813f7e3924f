package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lognexus/internal/models"
)

var (
	alertStatus  string
	alertActive  bool
	alertPage    int
	alertPerPage int

	alertActor string
	alertNotes string

	alertMessage string
)

// alertsCmd represents the alerts command group
var alertsCmd = &cobra.Command{
	Use:     "alerts",
	Aliases: []string{"alert"},
	Short:   "Work with alert rules and instances",
}

var alertsRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List alert rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		rules, err := c.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd, rules, func(w io.Writer) {
			if len(rules) == 0 {
				fmt.Fprintln(w, "No alert rules found.")
				return
			}
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tSEVERITY\tENABLED\tTRIGGERS\tLAST TRIGGERED")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
					r.ID, r.Name, r.Type, r.Severity, r.Enabled, r.TriggerCount, fmtTimePtr(r.LastTriggeredAt))
			}
		})
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert instances",
	Long: `List alert instances, newest first.

Examples:
  lognexusctl alerts list --active
  lognexusctl alerts list --status resolved --page 2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		var items []*models.AlertInstance
		var footer string
		if alertActive {
			items, err = c.ActiveAlerts(cmd.Context())
			if err != nil {
				return err
			}
			footer = fmt.Sprintf("%d active alert(s)", len(items))
		} else {
			status := ""
			if alertStatus != "" {
				st, ok := models.ParseAlertStatus(alertStatus)
				if !ok {
					return fmt.Errorf("invalid alert status %q", alertStatus)
				}
				status = string(st)
			}
			page, err := c.ListAlerts(cmd.Context(), status, alertPage, alertPerPage)
			if err != nil {
				return err
			}
			if GetOutput() == "json" {
				return render(cmd, page, nil)
			}
			items = page.Items
			footer = fmt.Sprintf("Page %d, %d alert(s) total", page.Page, page.Total)
		}

		return render(cmd, items, func(w io.Writer) {
			if len(items) == 0 {
				fmt.Fprintln(w, "No alerts found.")
				return
			}
			fmt.Fprintln(w, "ID\tTRIGGERED\tSEVERITY\tSTATUS\tRULE\tMESSAGE")
			for _, a := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					a.ID, fmtTime(a.TriggeredAt), a.Severity, a.Status, a.RuleName, shorten(a.Message, 60))
			}
			fmt.Fprintf(w, "\n%s\n", footer)
		})
	},
}

func transitionCmd(use, short, past string, do func(cmd *cobra.Command, id string) (*models.AlertInstance, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <instance-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := do(cmd, args[0])
			if err != nil {
				return err
			}
			return render(cmd, inst, func(w io.Writer) {
				fmt.Fprintf(w, "Alert %s %s (%s)\n", inst.ID, past, inst.Status)
			})
		},
	}
}

var alertsAckCmd = transitionCmd("ack", "Acknowledge an alert", "acknowledged",
	func(cmd *cobra.Command, id string) (*models.AlertInstance, error) {
		c, err := newClient(cmd)
		if err != nil {
			return nil, err
		}
		return c.Acknowledge(cmd.Context(), id, actor(), alertNotes)
	})

var alertsResolveCmd = transitionCmd("resolve", "Resolve an alert", "resolved",
	func(cmd *cobra.Command, id string) (*models.AlertInstance, error) {
		c, err := newClient(cmd)
		if err != nil {
			return nil, err
		}
		return c.Resolve(cmd.Context(), id, actor(), alertNotes)
	})

var alertsSuppressCmd = transitionCmd("suppress", "Suppress an alert", "suppressed",
	func(cmd *cobra.Command, id string) (*models.AlertInstance, error) {
		c, err := newClient(cmd)
		if err != nil {
			return nil, err
		}
		return c.Suppress(cmd.Context(), id, actor(), alertNotes)
	})

var alertsTriggerCmd = &cobra.Command{
	Use:   "trigger <rule-id>",
	Short: "Fire a rule by hand",
	Long: `Fire a rule by hand. Disabled and throttled rules do not fire.

Example:
  lognexusctl alerts trigger 7d2e... --message "testing the pager"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		inst, err := c.TriggerRule(cmd.Context(), args[0], alertMessage)
		if err != nil {
			return err
		}
		result := map[string]any{"triggered": inst != nil, "instance": inst}
		return render(cmd, result, func(w io.Writer) {
			if inst == nil {
				fmt.Fprintln(w, "Rule did not fire (disabled or throttled).")
				return
			}
			fmt.Fprintf(w, "Triggered alert %s\n", inst.ID)
		})
	},
}

var alertsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count active alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		s, err := c.AlertSummary(cmd.Context())
		if err != nil {
			return err
		}
		return render(cmd, s, func(w io.Writer) {
			fmt.Fprintf(w, "Active:\t%d\n", s.Total)
			fmt.Fprintf(w, "Critical:\t%d\n", s.Critical)
			fmt.Fprintf(w, "High:\t%d\n", s.High)
			fmt.Fprintf(w, "New:\t%d\n", s.New)
		})
	},
}

func ruleToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			r, err := c.SetRuleEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			return render(cmd, r, func(w io.Writer) {
				fmt.Fprintf(w, "Rule %s %sd\n", r.Name, use)
			})
		},
	}
}

// actor is --actor or the local user name.
func actor() string {
	if alertActor != "" {
		return alertActor
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "lognexusctl"
}

func init() {
	alertsListCmd.Flags().StringVar(&alertStatus, "status", "", "filter by status (new, acknowledged, resolved, suppressed)")
	alertsListCmd.Flags().BoolVar(&alertActive, "active", false, "only new and acknowledged alerts")
	alertsListCmd.Flags().IntVar(&alertPage, "page", 1, "page number")
	alertsListCmd.Flags().IntVar(&alertPerPage, "per-page", 50, "alerts per page")

	for _, c := range []*cobra.Command{alertsAckCmd, alertsResolveCmd, alertsSuppressCmd} {
		c.Flags().StringVar(&alertActor, "actor", "", "who is acting (default: $USER)")
		c.Flags().StringVar(&alertNotes, "notes", "", "note stored with the change")
	}
	alertsAckCmd.Aliases = []string{"acknowledge"}

	alertsTriggerCmd.Flags().StringVar(&alertMessage, "message", "", "alert message")

	alertsCmd.AddCommand(
		alertsRulesCmd, alertsListCmd,
		alertsAckCmd, alertsResolveCmd, alertsSuppressCmd,
		alertsTriggerCmd, alertsSummaryCmd,
		ruleToggleCmd("enable", "Enable an alert rule", true),
		ruleToggleCmd("disable", "Disable an alert rule", false),
	)
	rootCmd.AddCommand(alertsCmd)
}
