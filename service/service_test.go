package service

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hashscope/backend/model"
)

// testDB opens a throwaway sqlite database with the same TranslateError
// setting production uses; the reconcile flow depends on
// gorm.ErrDuplicatedKey from the tx_hash unique index.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, wallet, balance string, admin bool) *model.User {
	t.Helper()
	user := &model.User{WalletAddress: wallet, Balance: balance, IsAdmin: admin}
	require.NoError(t, db.Create(user).Error)
	return user
}
