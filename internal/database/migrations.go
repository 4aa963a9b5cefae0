package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// migration is one additive schema step. Steps inspect the live schema and
// only add what is missing, so running the list again is a no-op and stores
// created by older releases are brought forward without touching their data.
type migration struct {
	version int
	name    string
	apply   func(tx *gorm.DB) (changed bool, err error)
}

var migrations = []migration{
	{1, "base tables", createBaseTables},
	{2, "season xp", addSeasonXP},
	{3, "class columns", addClassColumns},
	{4, "guild settings extensions", addGuildSettingsExtensions},
	{5, "ledger source and indexes", addLedgerSourceAndIndexes},
}

// Migrate applies every step in order.
func Migrate(ctx context.Context, db *gorm.DB, log *zerolog.Logger) error {
	for _, m := range migrations {
		var changed bool
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			changed, err = m.apply(tx)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if changed {
			log.Info().Int("version", m.version).Str("migration", m.name).Msg("schema migration applied")
		}
	}
	return nil
}

func createBaseTables(tx *gorm.DB) (bool, error) {
	tables := []struct {
		name string
		ddl  string
	}{
		{"users", `CREATE TABLE users (
			user_id TEXT,
			guild_id TEXT,
			xp INTEGER DEFAULT 0,
			messages INTEGER DEFAULT 0,
			voice_time INTEGER DEFAULT 0,
			last_xp_time TEXT,
			last_daily TEXT,
			PRIMARY KEY (user_id, guild_id)
		)`},
		{"guild_settings", `CREATE TABLE guild_settings (
			guild_id TEXT PRIMARY KEY,
			xp_min INTEGER DEFAULT 15,
			xp_max INTEGER DEFAULT 25,
			xp_cooldown INTEGER DEFAULT 60,
			voice_xp_enabled INTEGER DEFAULT 1,
			voice_xp_rate INTEGER DEFAULT 5,
			daily_enabled INTEGER DEFAULT 1,
			daily_reward INTEGER DEFAULT 500,
			levelup_messages INTEGER DEFAULT 1,
			levelup_channel TEXT,
			blacklisted_channels TEXT,
			whitelisted_channels TEXT,
			role_multipliers TEXT
		)`},
		{"xp_history", `CREATE TABLE xp_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT,
			guild_id TEXT,
			xp INTEGER,
			timestamp TEXT
		)`},
		{"seasons", `CREATE TABLE seasons (
			guild_id TEXT,
			season_id TEXT,
			winners TEXT,
			ended_at TEXT,
			PRIMARY KEY (guild_id, season_id)
		)`},
	}

	changed := false
	for _, t := range tables {
		if tx.Migrator().HasTable(t.name) {
			continue
		}
		if err := tx.Exec(t.ddl).Error; err != nil {
			return false, fmt.Errorf("unable to create table %s: %w", t.name, err)
		}
		changed = true
	}
	return changed, nil
}

func addSeasonXP(tx *gorm.DB) (bool, error) {
	added, err := addColumn(tx, "users", "monthly_xp", "INTEGER DEFAULT 0")
	if err != nil || !added {
		return false, err
	}
	// Existing members start the first tracked season with their lifetime XP.
	if err := tx.Exec("UPDATE users SET monthly_xp = xp").Error; err != nil {
		return false, fmt.Errorf("unable to backfill monthly_xp: %w", err)
	}
	return true, nil
}

func addClassColumns(tx *gorm.DB) (bool, error) {
	return addColumns(tx, "users", []column{
		{"class", "TEXT DEFAULT NULL"},
		{"daily_streak", "INTEGER DEFAULT 0"},
		{"stored_dailies", "INTEGER DEFAULT 0"},
		{"last_mention_xp", "TEXT DEFAULT NULL"},
		{"focus_channel", "TEXT DEFAULT NULL"},
		{"focus_channel_set", "TEXT DEFAULT NULL"},
		{"message_combo", "INTEGER DEFAULT 0"},
		{"last_message_time", "TEXT DEFAULT NULL"},
	})
}

func addGuildSettingsExtensions(tx *gorm.DB) (bool, error) {
	return addColumns(tx, "guild_settings", []column{
		{"prefix_commands_enabled", "INTEGER DEFAULT 1"},
		{"xp_formula", "TEXT DEFAULT NULL"},
	})
}

func addLedgerSourceAndIndexes(tx *gorm.DB) (bool, error) {
	changed, err := addColumn(tx, "xp_history", "source", "TEXT DEFAULT ''")
	if err != nil {
		return false, err
	}
	indexes := []struct {
		table, name, ddl string
	}{
		{"xp_history", "idx_xp_history_guild_time", "CREATE INDEX idx_xp_history_guild_time ON xp_history (guild_id, timestamp)"},
		{"users", "idx_users_guild_xp", "CREATE INDEX idx_users_guild_xp ON users (guild_id, xp)"},
	}
	for _, idx := range indexes {
		if tx.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		if err := tx.Exec(idx.ddl).Error; err != nil {
			return false, fmt.Errorf("unable to create index %s: %w", idx.name, err)
		}
		changed = true
	}
	return changed, nil
}

type column struct {
	name, decl string
}

func addColumns(tx *gorm.DB, table string, cols []column) (bool, error) {
	changed := false
	for _, c := range cols {
		added, err := addColumn(tx, table, c.name, c.decl)
		if err != nil {
			return false, err
		}
		changed = changed || added
	}
	return changed, nil
}

// addColumn adds table.name with decl unless the column already exists.
func addColumn(tx *gorm.DB, table, name, decl string) (bool, error) {
	if tx.Migrator().HasColumn(table, name) {
		return false, nil
	}
	if err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, decl)).Error; err != nil {
		return false, fmt.Errorf("unable to add column %s.%s: %w", table, name, err)
	}
	return true, nil
}
