package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fabroute/internal/api"
	"github.com/sells-group/fabroute/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quote, routing and bridge API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := api.NewServer(env.Book, env.Matcher, env.Orders, env.Store,
			api.WithBridge(env.Bridge),
			api.WithBreakers(env.Breakers),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			env.Cache.Run(gctx)
			return nil
		})
		g.Go(func() error {
			env.Bridge.Run(gctx, time.Duration(cfg.Bridge.RedeliverEverySecs)*time.Second)
			return nil
		})
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Outbox),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
				monitoring.WithRepeatAfter(time.Duration(cfg.Monitoring.RepeatAfterMins)*time.Minute),
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		} else {
			zap.L().Info("monitoring webhook not configured, alert checker disabled")
		}
		g.Go(func() error {
			return api.ListenAndServe(gctx, port, srv.Handler(cfg.Server))
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
