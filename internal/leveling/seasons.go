package leveling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/database"
	"gorm.io/datatypes"
)

const (
	seasonWinners     = 3
	hallOfFameSize    = 12
	seasonClosingHour = 23
	// Queued grants are persisted long before this, after which the
	// in-memory cooldown record is redundant.
	cooldownMemory = 10 * time.Minute
	// A member silent this long starts with a clean duplicate check.
	duplicateMemory = time.Hour
)

// SeasonID names the monthly season containing t, as "2006-01".
func SeasonID(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// SeasonName turns a season id into a display name such as "March 2026".
func SeasonName(id string) string {
	t, err := time.Parse("2006-01", id)
	if err != nil {
		return id
	}
	return t.Format("January 2006")
}

// SeasonDue reports whether t falls in the closing window of its season:
// the last day of the month from 23:00 UTC.
func SeasonDue(t time.Time) bool {
	t = t.UTC()
	lastDay := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return t.Day() == lastDay && t.Hour() >= seasonClosingHour
}

// EndSeason snapshots the current season's top members and resets season
// XP across the guild. Each season ends at most once.
func (e *Engine) EndSeason(ctx context.Context, guildID string) (SeasonResult, error) {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	now := e.now()
	id := SeasonID(now)
	ended, err := e.store.HasSeasonRecord(ctx, guildID, id)
	if err != nil {
		return SeasonResult{}, err
	}
	if ended {
		return SeasonResult{}, ErrSeasonEnded
	}

	// Pending grants belong to the season being closed.
	if err := e.store.Flush(ctx); err != nil {
		return SeasonResult{}, err
	}
	top, err := e.store.Leaderboard(ctx, guildID, database.BoardSeason, time.Time{}, seasonWinners, 0)
	if err != nil {
		return SeasonResult{}, err
	}
	if len(top) == 0 {
		return SeasonResult{}, ErrNoSeasonData
	}

	res := SeasonResult{GuildID: guildID, SeasonID: id, Name: SeasonName(id), EndedAt: now}
	ids := make([]string, len(top))
	for i, row := range top {
		ids[i] = row.UserID
		res.Winners = append(res.Winners, SeasonWinner{UserID: row.UserID, SeasonXP: row.Value})
	}
	winners, err := json.Marshal(ids)
	if err != nil {
		return SeasonResult{}, fmt.Errorf("unable to encode winners: %w", err)
	}
	rec := database.SeasonRecord{GuildID: guildID, SeasonID: id, Winners: datatypes.JSON(winners), EndedAt: database.At(now)}
	if err := e.store.EndSeason(ctx, rec); err != nil {
		return SeasonResult{}, err
	}

	e.log.Info().Str("guild_id", guildID).Str("season", id).Strs("winners", ids).Msg("season ended")
	e.background("notify season ended", func(ctx context.Context) error {
		return e.notifier.NotifySeasonEnded(ctx, res)
	})
	return res, nil
}

// SeasonCheck ends the season in every guild with season XP once the
// closing window is reached. Guilds already closed are skipped, so running
// it every hour is safe.
func (e *Engine) SeasonCheck(ctx context.Context) ([]SeasonResult, error) {
	if !SeasonDue(e.now()) {
		return nil, nil
	}
	guilds, err := e.store.GuildsWithSeasonXP(ctx)
	if err != nil {
		return nil, err
	}
	var results []SeasonResult
	var errs []error
	for _, guildID := range guilds {
		res, err := e.EndSeason(ctx, guildID)
		switch {
		case errors.Is(err, ErrSeasonEnded), errors.Is(err, ErrNoSeasonData):
		case err != nil:
			errs = append(errs, fmt.Errorf("guild %s: %w", guildID, err))
		default:
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}

// HallOfFame lists the most recent finished seasons, newest first.
func (e *Engine) HallOfFame(ctx context.Context, guildID string) ([]SeasonResult, error) {
	recs, err := e.store.SeasonRecords(ctx, guildID, hallOfFameSize)
	if err != nil {
		return nil, err
	}
	out := make([]SeasonResult, 0, len(recs))
	for _, r := range recs {
		res := SeasonResult{GuildID: r.GuildID, SeasonID: r.SeasonID, Name: SeasonName(r.SeasonID), EndedAt: r.EndedAt.Time}
		for _, id := range decodeIDs(r.Winners) {
			res.Winners = append(res.Winners, SeasonWinner{UserID: id})
		}
		out = append(out, res)
	}
	return out, nil
}

// PruneHistory drops ledger rows older than the retention window. A zero
// retention keeps everything.
func (e *Engine) PruneHistory(ctx context.Context) error {
	if e.opts.HistoryRetention <= 0 {
		return nil
	}
	before := e.now().Add(-e.opts.HistoryRetention)
	if err := e.store.PruneHistory(ctx, before); err != nil {
		return err
	}
	e.log.Info().Time("before", before).Msg("ledger prune queued")
	return nil
}

// Sweep forgets in-memory cooldown records that the store already holds
// and the last message text of members who have gone quiet.
func (e *Engine) Sweep() {
	now := e.now()
	e.cooldown.Forget(now.Add(-cooldownMemory))
	e.duplicates.Forget(now.Add(-duplicateMemory))
}
