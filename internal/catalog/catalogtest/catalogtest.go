// Package catalogtest opens throwaway SQLite catalogs for tests.
package catalogtest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sigic/georef/internal/catalog"
)

// NewDB returns a gorm handle on a fresh SQLite file with the catalog tables
// and any extra models migrated.
func NewDB(t testing.TB, extra ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "catalog.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite catalog: %v", err)
	}

	models := append([]any{
		&catalog.Style{},
		&catalog.Dataset{},
		&catalog.Attribute{},
		&catalog.DatasetStyle{},
	}, extra...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate sqlite catalog: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedDataset inserts ds and fails the test on error.
func SeedDataset(t testing.TB, db *gorm.DB, ds *catalog.Dataset) *catalog.Dataset {
	t.Helper()
	if err := db.Create(ds).Error; err != nil {
		t.Fatalf("seed dataset %q: %v", ds.Alternate, err)
	}
	return ds
}

func SeedStyle(t testing.TB, db *gorm.DB, style *catalog.Style) *catalog.Style {
	t.Helper()
	if err := db.Create(style).Error; err != nil {
		t.Fatalf("seed style %q: %v", style.Name, err)
	}
	return style
}
