package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	reconciledomain "github.com/smallbiznis/allocledger/internal/reconcile/domain"
	"github.com/smallbiznis/allocledger/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const commandTimeout = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the scheduled jobs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	app := fx.New(
		ledgerModules(),
		scheduler.Module,
	)
	app.Run()
	return app.Err()
}

func newRunOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "run reconciliation, enforcement and reporting once",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			return oneShot(
				[]fx.Option{
					fx.Provide(scheduler.ProvideConfig),
					fx.Provide(scheduler.New),
					fx.Populate(&sched),
				},
				func(ctx context.Context, _ *zap.Logger) error {
					return sched.RunOnce(ctx)
				},
			)
		},
	}
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "drop the projected tables and replay the event log",
		Long:  "Rebuild must run while no process is appending events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var accounts allocationdomain.Service
			return oneShot(
				[]fx.Option{fx.Populate(&accounts)},
				func(ctx context.Context, log *zap.Logger) error {
					replayed, err := accounts.Rebuild(ctx)
					if err != nil {
						return err
					}
					log.Info("rebuild complete", zap.Int("events", replayed))
					return nil
				},
			)
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync USERNAME",
		Short: "reconcile one user against the allocation authority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reconciler reconciledomain.Service
			return oneShot(
				[]fx.Option{fx.Populate(&reconciler)},
				func(ctx context.Context, log *zap.Logger) error {
					sources, err := reconciler.Sync(ctx, args[0])
					if err != nil {
						return err
					}
					for _, src := range sources {
						fmt.Printf("%s\t%s\t%s\n", src.Name, src.ComputeAllowed.String(), src.StartDate.Format(time.RFC3339))
					}
					log.Info("sync complete", zap.String("username", args[0]), zap.Int("sources", len(sources)))
					return nil
				},
			)
		},
	}
}

// oneShot starts the ledger graph, runs fn, then stops the graph.
func oneShot(opts []fx.Option, fn func(ctx context.Context, log *zap.Logger) error) error {
	var log *zap.Logger
	app := fx.New(
		ledgerModules(),
		fx.Options(opts...),
		fx.Populate(&log),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	ctx, cancelRun := context.WithTimeout(context.Background(), commandTimeout)
	runErr := fn(ctx, log)
	cancelRun()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStop()
	return errors.Join(runErr, app.Stop(stopCtx))
}
