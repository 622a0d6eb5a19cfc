// Package ledgertest builds an in-memory ledger for package tests.
package ledgertest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	"github.com/smallbiznis/allocledger/internal/allocation/projector"
	allocationrepository "github.com/smallbiznis/allocledger/internal/allocation/repository"
	allocationservice "github.com/smallbiznis/allocledger/internal/allocation/service"
	"github.com/smallbiznis/allocledger/internal/clock"
	"github.com/smallbiznis/allocledger/internal/config"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	eventrepository "github.com/smallbiznis/allocledger/internal/event/repository"
	eventservice "github.com/smallbiznis/allocledger/internal/event/service"
	"github.com/smallbiznis/allocledger/internal/ledger"
	"github.com/smallbiznis/allocledger/internal/lock"
	"github.com/smallbiznis/allocledger/internal/migration"
	"github.com/smallbiznis/allocledger/internal/threshold"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Epoch is the default fake clock start used across ledger tests.
var Epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// OpenDB returns a migrated in-memory SQLite database private to the test.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// NewNode returns a snowflake node for test ids.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Env is a store with an empty listener registry on a private database.
type Env struct {
	DB        *gorm.DB
	Clock     *clock.FakeClock
	Node      *snowflake.Node
	Listeners *eventservice.Listeners
	Store     *eventservice.Store
	Log       *zap.Logger
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	db := OpenDB(t)
	clk := clock.NewFakeClock(Epoch)
	node := NewNode(t)
	listeners := eventservice.NewListeners()
	log := zap.NewNop()

	store := eventservice.NewStore(eventservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Repo:      eventrepository.Provide(),
		Locker:    lock.NewLocal(),
		Listeners: listeners,
	})

	return &Env{
		DB:        db,
		Clock:     clk,
		Node:      node,
		Listeners: listeners,
		Store:     store,
		Log:       log,
	}
}

func Ptr[T any](v T) *T {
	return &v
}

// Ledger is an Env with the projector and threshold detector registered.
type Ledger struct {
	*Env
	Repo      allocationdomain.Repository
	Projector *projector.Projector
	Detector  *threshold.Detector
	Policy    *config.PolicyHolder
	Accounts  allocationdomain.Service
}

// NewLedger wires the full listener chain with the given thresholds.
func NewLedger(t *testing.T, thresholds ...int) *Ledger {
	t.Helper()

	env := NewEnv(t)
	repo := allocationrepository.Provide()
	policy := config.NewStaticPolicyHolder(config.Policy{Thresholds: thresholds})

	proj := projector.New(projector.Params{DB: env.DB, Log: env.Log, Repo: repo})
	detector := threshold.NewDetector(threshold.Params{
		DB:       env.DB,
		Log:      env.Log,
		Repo:     repo,
		Appender: env.Store,
		Reader:   env.Store,
		Policy:   policy,
	})
	if err := ledger.Register(env.Listeners, detector, proj); err != nil {
		t.Fatalf("register listeners: %v", err)
	}

	accounts := allocationservice.NewService(allocationservice.Params{
		DB:        env.DB,
		Log:       env.Log,
		Repo:      repo,
		Events:    eventrepository.Provide(),
		Projector: proj,
	})

	return &Ledger{
		Env:       env,
		Repo:      repo,
		Projector: proj,
		Detector:  detector,
		Policy:    policy,
		Accounts:  accounts,
	}
}

// Append appends a typed payload at the current fake clock time.
func (l *Ledger) Append(t *testing.T, entityID string, payload eventdomain.Payload, uuid *string) *eventdomain.Event {
	t.Helper()
	req, err := eventdomain.NewRequest(entityID, payload, uuid)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Timestamp = l.Clock.Now()
	evt, err := l.Store.Append(context.Background(), req)
	if err != nil {
		t.Fatalf("append %s: %v", payload.EventName(), err)
	}
	return evt
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
