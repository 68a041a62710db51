package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var redeliverCmd = &cobra.Command{
	Use:   "redeliver",
	Short: "Replay undelivered partner messages once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "redeliver")
		if err != nil {
			return err
		}
		defer env.Close()
		if env.Bridge == nil {
			return eris.New("redeliver: bridge.partner_base_url is not configured")
		}

		res, err := env.Bridge.Redeliver(ctx)
		if err != nil {
			return eris.Wrap(err, "redeliver")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d, failed %d, skipped %d\n", res.Delivered, res.Failed, res.Skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redeliverCmd)
}
