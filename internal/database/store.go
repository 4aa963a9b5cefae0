package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrClassAlreadySet = errors.New("class already chosen")
)

// Store reads straight from the database and routes every mutation through
// the Writer. A read issued right after a queued write may not observe it;
// call Flush when that matters.
type Store struct {
	db *gorm.DB
	w  *Writer
}

func NewStore(db *gorm.DB, w *Writer) *Store {
	return &Store{db: db, w: w}
}

// Flush waits for every queued write to be applied.
func (s *Store) Flush(ctx context.Context) error {
	return s.w.Flush(ctx)
}

func (s *Store) Progress(ctx context.Context, guildID, userID string) (*UserProgress, error) {
	p := &UserProgress{}
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Take(p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read progress: %w", err)
	}
	return p, nil
}

// ProgressOf returns the stored rows for userIDs; members without a row are
// absent from the result.
func (s *Store) ProgressOf(ctx context.Context, guildID string, userIDs []string) ([]UserProgress, error) {
	var rows []UserProgress
	if len(userIDs) == 0 {
		return rows, nil
	}
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND user_id IN ?", guildID, userIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("unable to read progress: %w", err)
	}
	return rows, nil
}

// Members returns every member of the guild with any XP, highest first.
func (s *Store) Members(ctx context.Context, guildID string) ([]UserProgress, error) {
	var rows []UserProgress
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND xp > 0", guildID).
		Order("xp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("unable to read members: %w", err)
	}
	return rows, nil
}

func (s *Store) GuildConfig(ctx context.Context, guildID string) (*GuildConfig, error) {
	c := &GuildConfig{}
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Take(c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read guild config: %w", err)
	}
	return c, nil
}

type Board string

const (
	BoardTotal  Board = "total"
	BoardWeekly Board = "weekly"
	BoardVoice  Board = "voice"
	BoardSeason Board = "season"
)

// BoardEntry is one leaderboard row. Value is the ranked quantity and
// TotalXP the member's lifetime XP.
type BoardEntry struct {
	UserID  string `gorm:"column:user_id"`
	Value   int64  `gorm:"column:value"`
	TotalXP int64  `gorm:"column:total_xp"`
}

// Leaderboard ranks members of a guild. since only applies to BoardWeekly.
func (s *Store) Leaderboard(ctx context.Context, guildID string, board Board, since time.Time, limit, offset int) ([]BoardEntry, error) {
	var rows []BoardEntry
	q := s.db.WithContext(ctx)
	switch board {
	case BoardTotal:
		q = q.Model(&UserProgress{}).Select("user_id, xp AS value, xp AS total_xp").
			Where("guild_id = ? AND xp > 0", guildID).Order("xp DESC")
	case BoardVoice:
		q = q.Model(&UserProgress{}).Select("user_id, voice_time AS value, xp AS total_xp").
			Where("guild_id = ? AND voice_time > 0", guildID).Order("voice_time DESC")
	case BoardSeason:
		q = q.Model(&UserProgress{}).Select("user_id, monthly_xp AS value, xp AS total_xp").
			Where("guild_id = ? AND monthly_xp > 0", guildID).Order("monthly_xp DESC")
	case BoardWeekly:
		q = q.Table("xp_history AS h").
			Select("h.user_id AS user_id, SUM(h.xp) AS value, COALESCE(MAX(u.xp), 0) AS total_xp").
			Joins("LEFT JOIN users AS u ON u.user_id = h.user_id AND u.guild_id = h.guild_id").
			Where("h.guild_id = ? AND h.timestamp >= ?", guildID, At(since)).
			Group("h.user_id").
			Having("SUM(h.xp) > 0").
			Order("value DESC")
	default:
		return nil, fmt.Errorf("unknown leaderboard %q", board)
	}
	if err := q.Limit(limit).Offset(offset).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("unable to read %s leaderboard: %w", board, err)
	}
	return rows, nil
}

// XPSince sums a member's ledger entries at or after since.
func (s *Store) XPSince(ctx context.Context, guildID, userID string, since time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&XPHistoryEntry{}).
		Select("COALESCE(SUM(xp), 0)").
		Where("guild_id = ? AND user_id = ? AND timestamp >= ?", guildID, userID, At(since)).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("unable to sum ledger: %w", err)
	}
	return total, nil
}

// Position is the member's 1-based place on the all-time board.
func (s *Store) Position(ctx context.Context, guildID string, totalXP int64) (int, error) {
	var ahead int64
	err := s.db.WithContext(ctx).Model(&UserProgress{}).
		Where("guild_id = ? AND xp > ?", guildID, totalXP).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("unable to compute position: %w", err)
	}
	return int(ahead) + 1, nil
}

type Aggregates struct {
	Members      int64 `gorm:"column:members"`
	TotalXP      int64 `gorm:"column:total_xp"`
	Messages     int64 `gorm:"column:messages"`
	VoiceSeconds int64 `gorm:"column:voice_seconds"`
}

func (s *Store) Aggregates(ctx context.Context, guildID string) (Aggregates, error) {
	var a Aggregates
	err := s.db.WithContext(ctx).Model(&UserProgress{}).
		Select("COUNT(*) AS members, COALESCE(SUM(xp), 0) AS total_xp, COALESCE(SUM(messages), 0) AS messages, COALESCE(SUM(voice_time), 0) AS voice_seconds").
		Where("guild_id = ?", guildID).
		Scan(&a).Error
	if err != nil {
		return Aggregates{}, fmt.Errorf("unable to aggregate guild: %w", err)
	}
	return a, nil
}

// SeasonRecords lists finished seasons, newest first.
func (s *Store) SeasonRecords(ctx context.Context, guildID string, limit int) ([]SeasonRecord, error) {
	var rows []SeasonRecord
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("season_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("unable to read seasons: %w", err)
	}
	return rows, nil
}

func (s *Store) HasSeasonRecord(ctx context.Context, guildID, seasonID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&SeasonRecord{}).
		Where("guild_id = ? AND season_id = ?", guildID, seasonID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("unable to read season: %w", err)
	}
	return n > 0, nil
}

// GuildsWithSeasonXP lists guilds where any member has season XP.
func (s *Store) GuildsWithSeasonXP(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&UserProgress{}).
		Distinct("guild_id").
		Where("monthly_xp > 0").
		Pluck("guild_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("unable to list season guilds: %w", err)
	}
	return ids, nil
}

// Delta is a relative change to one member. XP applies to both lifetime and
// season totals and is clamped at zero. Set carries extra column
// assignments applied in the same transaction.
type Delta struct {
	GuildID      string
	UserID       string
	XP           int64
	Messages     int64
	VoiceSeconds int64
	GrantedAt    time.Time // recorded as last_xp_time when set
	Source       string    // ledger source; a row is written when the total moves
	At           time.Time
	Combo        *ComboStep
	Set          map[string]any
}

// ComboStep advances message_combo by one in the write itself, restarting
// at one when the previous message is older than Since.
type ComboStep struct {
	At    time.Time
	Since time.Time
}

// ApplyDelta queues d.
func (s *Store) ApplyDelta(ctx context.Context, d Delta) error {
	return s.w.Enqueue(ctx, "apply delta", func(tx *gorm.DB) error {
		return applyDelta(tx, d)
	})
}

func applyDelta(tx *gorm.DB, d Delta) error {
	if err := ensureProgress(tx, d.GuildID, d.UserID); err != nil {
		return err
	}
	// The ledger records what was actually added once the total is clamped.
	var applied int64
	if d.XP != 0 {
		var current int64
		err := tx.Model(&UserProgress{}).
			Select("COALESCE(xp, 0)").
			Where("guild_id = ? AND user_id = ?", d.GuildID, d.UserID).
			Scan(&current).Error
		if err != nil {
			return fmt.Errorf("unable to read progress: %w", err)
		}
		applied = max(current+d.XP, 0) - current
	}
	updates := make(map[string]any, len(d.Set)+7)
	if d.XP != 0 {
		updates["xp"] = gorm.Expr("MAX(COALESCE(xp, 0) + ?, 0)", d.XP)
		updates["monthly_xp"] = gorm.Expr("MAX(COALESCE(monthly_xp, 0) + ?, 0)", d.XP)
	}
	if d.Messages != 0 {
		updates["messages"] = gorm.Expr("COALESCE(messages, 0) + ?", d.Messages)
	}
	if d.VoiceSeconds != 0 {
		updates["voice_time"] = gorm.Expr("COALESCE(voice_time, 0) + ?", d.VoiceSeconds)
	}
	if !d.GrantedAt.IsZero() {
		updates["last_xp_time"] = At(d.GrantedAt)
	}
	if d.Combo != nil {
		updates["message_combo"] = gorm.Expr(
			"CASE WHEN julianday(last_message_time) < julianday(?) THEN 1 ELSE COALESCE(message_combo, 0) + 1 END",
			At(d.Combo.Since))
		updates["last_message_time"] = At(d.Combo.At)
	}
	for k, v := range d.Set {
		updates[k] = v
	}
	if len(updates) > 0 {
		err := tx.Model(&UserProgress{}).
			Where("guild_id = ? AND user_id = ?", d.GuildID, d.UserID).
			Updates(updates).Error
		if err != nil {
			return fmt.Errorf("unable to update progress: %w", err)
		}
	}
	if applied != 0 {
		at := d.At
		if at.IsZero() {
			at = time.Now()
		}
		entry := &XPHistoryEntry{UserID: d.UserID, GuildID: d.GuildID, XP: applied, Timestamp: At(at), Source: d.Source}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("unable to append ledger: %w", err)
		}
	}
	return nil
}

func ensureProgress(tx *gorm.DB, guildID, userID string) error {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&UserProgress{UserID: userID, GuildID: guildID}).Error
	if err != nil {
		return fmt.Errorf("unable to create progress: %w", err)
	}
	return nil
}

// UpdateProgress reads the member's current row inside the writer, lets fn
// decide on a change and applies it in the same transaction, waiting for
// the outcome. An error from fn aborts without writing. fn may run more
// than once when the store is busy.
func (s *Store) UpdateProgress(ctx context.Context, name, guildID, userID string, fn func(p *UserProgress) (Delta, error)) error {
	return s.w.Do(ctx, name, func(tx *gorm.DB) error {
		if err := ensureProgress(tx, guildID, userID); err != nil {
			return err
		}
		p := &UserProgress{}
		if err := tx.Where("guild_id = ? AND user_id = ?", guildID, userID).Take(p).Error; err != nil {
			return fmt.Errorf("unable to read progress: %w", err)
		}
		d, err := fn(p)
		if err != nil {
			return err
		}
		d.GuildID, d.UserID = guildID, userID
		return applyDelta(tx, d)
	})
}

// SetClass records a class choice and waits for it. A member who already
// has a class keeps it and ErrClassAlreadySet is returned.
func (s *Store) SetClass(ctx context.Context, guildID, userID, class string) error {
	return s.w.Do(ctx, "set class", func(tx *gorm.DB) error {
		if err := ensureProgress(tx, guildID, userID); err != nil {
			return err
		}
		res := tx.Model(&UserProgress{}).
			Where("guild_id = ? AND user_id = ? AND (class IS NULL OR class = '')", guildID, userID).
			Update("class", class)
		if res.Error != nil {
			return fmt.Errorf("unable to set class: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrClassAlreadySet
		}
		return nil
	})
}

// SaveGuildConfig creates the guild's row if needed and writes columns.
func (s *Store) SaveGuildConfig(ctx context.Context, cfg GuildConfig, columns []string) error {
	return s.w.Enqueue(ctx, "save guild config", func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&cfg).Error; err != nil {
			return fmt.Errorf("unable to create guild config: %w", err)
		}
		if len(columns) == 0 {
			return nil
		}
		return tx.Model(&GuildConfig{GuildID: cfg.GuildID}).Select(columns).Updates(&cfg).Error
	})
}

// EndSeason stores the season's record and zeroes every member's season XP
// in one transaction. When the season already has a record nothing changes,
// so season XP earned since the first close is kept.
func (s *Store) EndSeason(ctx context.Context, rec SeasonRecord) error {
	return s.w.Do(ctx, "end season", func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return fmt.Errorf("unable to save season record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&UserProgress{}).
			Where("guild_id = ?", rec.GuildID).
			Update("monthly_xp", 0).Error
	})
}

// PruneHistory queues deletion of ledger rows older than before.
func (s *Store) PruneHistory(ctx context.Context, before time.Time) error {
	return s.w.Enqueue(ctx, "prune history", func(tx *gorm.DB) error {
		return tx.Where("timestamp < ?", At(before)).Delete(&XPHistoryEntry{}).Error
	})
}
