package testutil

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ambirelabs/walletcore/src/utils"
)

// SetupTestDB connects to the database named by TEST_DB_URL and migrates it
// to the latest schema. Callers must pair it with CleanupTestDB.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := GetEnv(t, "TEST_DB_URL")

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := migrateTestDB(dsn, func(m *migrate.Migrate) error { return m.Up() }); err != nil {
		t.Fatalf("failed to migrate test database up: %v", err)
	}
	return db
}

// CleanupTestDB drops everything the migrations created and closes the
// connection.
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	dsn := GetEnv(t, "TEST_DB_URL")
	if err := migrateTestDB(dsn, func(m *migrate.Migrate) error { return m.Down() }); err != nil {
		t.Fatalf("failed to migrate test database down: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func migrateTestDB(dsn string, step func(*migrate.Migrate) error) error {
	sourceURL := "file://" + filepath.Join(utils.FindProjectRoot(), "migrations")
	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
