package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxguard/internal/infrastructure/redpanda"
)

func newTopicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage the evaluation topics",
	}
	cmd.AddCommand(newTopicsEnsureCmd(), newTopicsLagCmd())
	return cmd
}

func newTopicsEnsureCmd() *cobra.Command {
	var (
		brokers     []string
		replication int16
	)

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the request, result and dead letter topics if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			admin, err := redpanda.NewAdmin(brokers, zap.NewNop())
			if err != nil {
				return err
			}
			defer admin.Close()
			admin.Replication = replication

			created, err := admin.EnsureTopics(ctx)
			if err != nil {
				return err
			}
			for _, t := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", t)
			}
			if len(created) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "all topics exist")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "seed brokers")
	cmd.Flags().Int16Var(&replication, "replication", -1, "replication factor for new topics (-1 uses the broker default)")
	return cmd
}

func newTopicsLagCmd() *cobra.Command {
	var (
		brokers []string
		group   string
	)

	cmd := &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag per partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			admin, err := redpanda.NewAdmin(brokers, zap.NewNop())
			if err != nil {
				return err
			}
			defer admin.Close()

			lags, err := admin.Lag(ctx, group)
			if err != nil {
				return err
			}
			var total int64
			for _, l := range lags {
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%d\t%d\n", l.Topic, l.Partition, l.Lag)
				total += l.Lag
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total\t%d\n", total)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "seed brokers")
	cmd.Flags().StringVar(&group, "group", "alert-worker", "consumer group")
	return cmd
}
