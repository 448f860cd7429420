package repository

import (
	"testing"

	"github.com/nimasrn/campaign-dispatcher/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entities lists every table the repositories use, for AutoMigrate in tests.
func Entities() []interface{} {
	return []interface{}{&CampaignEntity{}, &RecipientEntity{}, &TrackingEventEntity{}}
}

// NewTestDB opens a private in-memory sqlite database with the schema
// migrated. Other packages use it for store-backed tests.
func NewTestDB(t testing.TB) *pg.DB {
	t.Helper()

	// one connection, otherwise each pooled connection gets its own :memory: db
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(Entities()...))

	return pg.New(db, db)
}
