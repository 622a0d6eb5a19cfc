package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allocledger/internal/allocation"
	"github.com/smallbiznis/allocledger/internal/audit"
	"github.com/smallbiznis/allocledger/internal/clock"
	"github.com/smallbiznis/allocledger/internal/config"
	"github.com/smallbiznis/allocledger/internal/enforcement"
	"github.com/smallbiznis/allocledger/internal/event"
	"github.com/smallbiznis/allocledger/internal/ledger"
	"github.com/smallbiznis/allocledger/internal/lock"
	"github.com/smallbiznis/allocledger/internal/migration"
	"github.com/smallbiznis/allocledger/internal/observability"
	"github.com/smallbiznis/allocledger/internal/ratelimit"
	"github.com/smallbiznis/allocledger/internal/reconcile"
	"github.com/smallbiznis/allocledger/internal/remote"
	"github.com/smallbiznis/allocledger/internal/report"
	"github.com/smallbiznis/allocledger/internal/threshold"
	"github.com/smallbiznis/allocledger/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var rootCmd = &cobra.Command{
	Use:   "allocledger",
	Short: "allocation accounting ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func main() {
	rootCmd.AddCommand(
		newServeCmd(),
		newRunOnceCmd(),
		newRebuildCmd(),
		newSyncCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ledgerModules is everything except the cron loop.
func ledgerModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,

		event.Module,
		allocation.Module,
		threshold.Module,
		ledger.Module,
		audit.Module,
		enforcement.Module,
		ratelimit.Module,
		remote.Module,
		reconcile.Module,
		report.Module,
	)
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
