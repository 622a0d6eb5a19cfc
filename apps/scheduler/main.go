package main

import (
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
	"github.com/smallbiznis/allocledger/internal/scheduler"
	"github.com/smallbiznis/allocledger/internal/threshold"
	"github.com/smallbiznis/allocledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,

		// Event store and its listeners
		event.Module,
		allocation.Module,
		threshold.Module,
		ledger.Module,

		// Services driven by the scheduler
		audit.Module,
		enforcement.Module,
		ratelimit.Module,
		remote.Module,
		reconcile.Module,
		report.Module,

		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
