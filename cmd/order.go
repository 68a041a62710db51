package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fabroute/internal/matching"
	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/order"
	"github.com/sells-group/fabroute/internal/store"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Create, inspect and move service orders",
}

// -- order create --

var orderCreateFlags struct {
	quoteID     string
	serviceType string
	urgency     string
	notes       string
}

var orderCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Accept a quote and open a PENDING order for it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "order")
		if err != nil {
			return err
		}
		defer env.Close()

		o, err := env.Orders.CreateFromQuote(ctx, orderCreateFlags.quoteID, order.OrderDetails{
			ServiceType:   model.ServiceType(orderCreateFlags.serviceType),
			Urgency:       model.Urgency(orderCreateFlags.urgency),
			CustomerNotes: orderCreateFlags.notes,
		})
		if err != nil {
			return eris.Wrap(err, "order create")
		}
		return printJSON(cmd.OutOrStdout(), o)
	},
}

// -- order get --

var orderGetCmd = &cobra.Command{
	Use:   "get <order-id>",
	Short: "Show an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		o, err := st.GetOrder(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "order get")
		}
		return printJSON(cmd.OutOrStdout(), o)
	},
}

// -- order list --

var orderListFlags struct {
	status     string
	providerID string
	limit      int
}

var orderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List orders, most recently updated first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		filter := store.OrderFilter{ProviderID: orderListFlags.providerID, Limit: orderListFlags.limit}
		if orderListFlags.status != "" {
			s, err := parseStatus(orderListFlags.status)
			if err != nil {
				return err
			}
			filter.Status = s
		}

		st, _, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		orders, err := st.ListOrders(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "order list")
		}
		if len(orders) == 0 {
			fmt.Fprintln(os.Stderr, "No orders found.")
			return nil
		}
		formatOrderList(cmd.OutOrStdout(), orders)
		return nil
	},
}

func formatOrderList(w io.Writer, orders []model.ServiceOrder) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROVIDER\tPRIORITY\tCOST\tUPDATED")
	for _, o := range orders {
		provider := "-"
		if o.ProviderID != nil {
			provider = *o.ProviderID
		}
		cost := "-"
		if o.EstimatedCost != nil {
			cost = o.EstimatedCost.StringFixed(2)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.Status, provider, o.Priority, cost, o.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

// -- order transition --

var orderTransitionActor string

var orderTransitionCmd = &cobra.Command{
	Use:   "transition <order-id> <status>",
	Short: "Move an order to a new status",
	Long:  "Moves an order along its lifecycle. Routed orders are reported to the partner network when a partner is configured.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		target, err := parseStatus(args[1])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "order")
		if err != nil {
			return err
		}
		defer env.Close()

		o, err := env.Orders.TransitionOrder(ctx, args[0], target, orderTransitionActor)
		if err != nil {
			return eris.Wrap(err, "order transition")
		}
		return printJSON(cmd.OutOrStdout(), o)
	},
}

// -- order route --

var orderRouteProvider string

var orderRouteCmd = &cobra.Command{
	Use:   "route <order-id>",
	Short: "Match providers for an order and route it to the best one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		req, err := serviceRequest(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "order")
		if err != nil {
			return err
		}
		defer env.Close()

		o, err := env.Orders.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "order route")
		}
		quoteDefaults(cmd, &req)
		if req, err = env.Orders.MatchRequest(ctx, o, req); err != nil {
			return eris.Wrap(err, "order route")
		}
		if err := matching.ValidateRequest(req); err != nil {
			return err
		}

		res := env.Matcher.FindProviders(ctx, req)
		var chosen *model.ProviderMatch
		for i := range res.Matches {
			if orderRouteProvider == "" || res.Matches[i].ProviderID == orderRouteProvider {
				chosen = &res.Matches[i]
				break
			}
		}
		if chosen == nil {
			return eris.Errorf("no capable provider for order %s; alternatives: %v", o.ID, res.Alternatives)
		}

		routed, err := env.Orders.Route(ctx, o.ID, *chosen)
		if err != nil {
			return eris.Wrap(err, "order route")
		}
		return printJSON(cmd.OutOrStdout(), routed)
	},
}

func init() {
	orderCreateCmd.Flags().StringVar(&orderCreateFlags.quoteID, "quote", "", "quote id to accept")
	_ = orderCreateCmd.MarkFlagRequired("quote")
	orderCreateCmd.Flags().StringVar(&orderCreateFlags.serviceType, "service", "", "service type (default 3d_printing)")
	orderCreateCmd.Flags().StringVar(&orderCreateFlags.urgency, "urgency", string(model.UrgencyNormal), "urgency (low, normal, high, urgent)")
	orderCreateCmd.Flags().StringVar(&orderCreateFlags.notes, "notes", "", "customer notes")

	orderListCmd.Flags().StringVar(&orderListFlags.status, "status", "", "filter by status")
	orderListCmd.Flags().StringVar(&orderListFlags.providerID, "provider", "", "filter by provider id")
	orderListCmd.Flags().IntVar(&orderListFlags.limit, "limit", 50, "maximum orders to list")

	orderTransitionCmd.Flags().StringVar(&orderTransitionActor, "actor", "cli", "who made the change")

	addMatchFlags(orderRouteCmd)
	orderRouteCmd.Flags().StringVar(&orderRouteProvider, "provider", "", "route to this provider if it matches")

	orderCmd.AddCommand(orderCreateCmd, orderGetCmd, orderListCmd, orderTransitionCmd, orderRouteCmd)
	rootCmd.AddCommand(orderCmd)
}
