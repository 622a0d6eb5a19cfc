package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/allocledger/internal/audit/domain"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	reportdomain "github.com/smallbiznis/allocledger/internal/report/domain"
	"gorm.io/gorm"
)

// Models lists every table the ledger owns, in creation order.
func Models() []any {
	return []any{
		&eventdomain.Event{},
		&allocationdomain.AllocationSource{},
		&allocationdomain.AllocationSourceSnapshot{},
		&allocationdomain.UserAllocationSource{},
		&allocationdomain.UserAllocationSnapshot{},
		&allocationdomain.InstanceAllocationSnapshot{},
		&reportdomain.UsageReport{},
		&auditdomain.AuditLog{},
	}
}

// RunMigrations applies the embedded SQL migrations on postgres.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models on mysql and sqlite.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
