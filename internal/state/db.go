// Package state provides the sqlite-backed persistence for user profiles
// and the scheduled-post queue.
package state

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/switchboard/internal/types"
)

// Compile-time interface compliance checks.
var _ types.ProfileStore = (*ProfileStore)(nil)
var _ types.PostStore = (*PostStore)(nil)

// Open opens (and migrates) the sqlite database at path.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&types.UserProfile{}, &types.ScheduledPost{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}
