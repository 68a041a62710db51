package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/store"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and resolve standing alerts",
}

var alertsListFlags struct {
	all   bool
	limit int
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts (open only unless --all)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		alerts, err := st.ListAlerts(ctx, store.AlertFilter{
			OpenOnly: !alertsListFlags.all,
			Limit:    alertsListFlags.limit,
		})
		if err != nil {
			return eris.Wrap(err, "alerts list")
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts found.")
			return nil
		}
		formatAlertList(cmd.OutOrStdout(), alerts)
		return nil
	},
}

func formatAlertList(w io.Writer, alerts []model.Alert) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSEVERITY\tORDER\tCREATED\tRESOLVED\tMESSAGE")
	for _, a := range alerts {
		resolved := "-"
		if a.ResolvedAt != nil {
			resolved = a.ResolvedAt.Format("2006-01-02 15:04")
		}
		orderID := a.OrderID
		if orderID == "" {
			orderID = "-"
		}
		msg := a.Message
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, a.Severity, orderID, a.CreatedAt.Format("2006-01-02 15:04"), resolved, msg)
	}
	_ = tw.Flush()
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ResolveAlert(ctx, args[0], time.Now()); err != nil {
			return eris.Wrap(err, "alerts resolve")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved alert %s\n", args[0])
		return nil
	},
}

func init() {
	alertsListCmd.Flags().BoolVar(&alertsListFlags.all, "all", false, "include resolved alerts")
	alertsListCmd.Flags().IntVar(&alertsListFlags.limit, "limit", 50, "maximum alerts to list")

	alertsCmd.AddCommand(alertsListCmd, alertsResolveCmd)
	rootCmd.AddCommand(alertsCmd)
}
