package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"reservation-backend/config"
	"reservation-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.ApplyRangeDDL {
		if err := applyRangeDDL(db); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// Migrate runs the schema migrations. Exposed separately so tests can
// migrate an in-memory SQLite database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Resource{},
		&model.Reservation{},
		&model.ReservationHistory{},
		&model.WaitlistEntry{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// applyRangeDDL adds the Postgres-only range tooling: a validity CHECK on
// reservation windows and a GIST index over the half-open tstzrange so
// overlap queries stay cheap as the ledger grows.
func applyRangeDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS btree_gist;",

		"ALTER TABLE reservations DROP CONSTRAINT IF EXISTS reservations_window_valid;",
		"ALTER TABLE reservations " +
			"ADD CONSTRAINT reservations_window_valid CHECK (start_time < end_time);",

		// Lower bound closed, upper bound open: back-to-back windows do
		// not intersect.
		"CREATE INDEX IF NOT EXISTS idx_reservations_window ON reservations " +
			"USING GIST (resource_id, tstzrange(start_time, end_time, '[)'));",

		"CREATE INDEX IF NOT EXISTS idx_reservations_due ON reservations (end_time) " +
			"WHERE status = 'active';",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
