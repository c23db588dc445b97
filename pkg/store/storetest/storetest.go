// Package storetest provides throwaway databases for tests.
package storetest

import (
	"fmt"
	"testing"

	"ChatStream/models"
	"ChatStream/pkg/store"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewSQLite opens a migrated, private in-memory sqlite database that is
// closed when the test ends.
func NewSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := store.OpenDB("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection keeps the shared in-memory database alive and avoids
	// SQLITE_LOCKED between concurrent test goroutines
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewUser inserts a user and returns its ID.
func NewUser(t testing.TB, db *gorm.DB, username string) uint {
	t.Helper()
	u := models.User{Email: username + "@example.com", Username: username, PasswordHash: "x"}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}
