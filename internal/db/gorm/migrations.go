package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Mute list and friends
		{
			ID: "001_mutes_friends",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&MuteEntry{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&FriendEntry{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("mutes", "friends")
			},
		},

		// Migration 002: Group memberships
		{
			ID: "002_group_memberships",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&GroupMembership{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("group_memberships")
			},
		},

		// Migration 003: Snoozed group sessions
		{
			ID: "003_snoozed_sessions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SnoozedSession{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("snoozed_sessions")
			},
		},

		// Migration 004: By-name mute lookups
		{
			ID: "004_mutes_name_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_mutes_name_nocase ON mutes(name COLLATE NOCASE)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP INDEX IF EXISTS idx_mutes_name_nocase`).Error
			},
		},
	})

	return m.Migrate()
}
