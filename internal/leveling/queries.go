package leveling

import (
	"context"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/classes"
	"github.com/code-wolf-byte/hunterxp/internal/database"
	"github.com/code-wolf-byte/hunterxp/internal/progression"
)

const (
	PageSize   = 10
	weeklySpan = 7 * 24 * time.Hour
)

// Profile is everything shown about one member.
type Profile struct {
	UserID         string
	TotalXP        int64
	SeasonXP       int64
	WeeklyXP       int64
	Level          int
	Rank           progression.Rank
	IntoLevel      int64
	ForNext        int64
	Position       int
	Class          classes.Class
	Messages       int64
	VoiceSeconds   int64
	DailyStreak    int
	StoredDailies  int
	FocusChannelID string
	LastDailyAt    time.Time
}

func (e *Engine) Profile(ctx context.Context, guildID, userID string) (Profile, error) {
	s, err := e.Settings(ctx, guildID)
	if err != nil {
		return Profile{}, err
	}
	p, err := e.progress(ctx, guildID, userID)
	if err != nil {
		return Profile{}, err
	}
	st, err := e.calc.Standing(guildID, s.Formula, p.TotalXP)
	if err != nil {
		e.log.Error().Err(err).Str("guild_id", guildID).Msg("unable to derive standing")
		st = progression.Standing{Rank: progression.RankE}
	}
	weekly, err := e.store.XPSince(ctx, guildID, userID, e.now().Add(-weeklySpan))
	if err != nil {
		return Profile{}, err
	}
	pos, err := e.store.Position(ctx, guildID, p.TotalXP)
	if err != nil {
		return Profile{}, err
	}
	class, _ := classes.Parse(p.ClassName())
	return Profile{
		UserID:         userID,
		TotalXP:        p.TotalXP,
		SeasonXP:       p.SeasonXP,
		WeeklyXP:       weekly,
		Level:          st.Level,
		Rank:           st.Rank,
		IntoLevel:      st.IntoLevel,
		ForNext:        st.ForNext,
		Position:       pos,
		Class:          class,
		Messages:       p.Messages,
		VoiceSeconds:   p.VoiceSeconds,
		DailyStreak:    p.DailyStreak,
		StoredDailies:  p.StoredDailies,
		FocusChannelID: p.FocusChannel(),
		LastDailyAt:    p.LastDailyAt.Time,
	}, nil
}

type LeaderboardEntry struct {
	Position int
	UserID   string
	Value    int64 // XP, or seconds on the voice board
	Level    int
	Rank     progression.Rank
}

// Leaderboard returns one page, counted from 1, of a guild board.
func (e *Engine) Leaderboard(ctx context.Context, guildID string, board database.Board, page int) ([]LeaderboardEntry, error) {
	switch board {
	case database.BoardTotal, database.BoardWeekly, database.BoardVoice, database.BoardSeason:
	default:
		return nil, ErrUnknownBoard
	}
	s, err := e.Settings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	page = max(page, 1)
	offset := (page - 1) * PageSize
	rows, err := e.store.Leaderboard(ctx, guildID, board, e.now().Add(-weeklySpan), PageSize, offset)
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, len(rows))
	for i, r := range rows {
		level := e.level(guildID, s, r.TotalXP)
		out[i] = LeaderboardEntry{
			Position: offset + i + 1,
			UserID:   r.UserID,
			Value:    r.Value,
			Level:    level,
			Rank:     progression.RankFromLevel(level),
		}
	}
	return out, nil
}

// MemberStanding is a member's level and class as currently stored.
type MemberStanding struct {
	UserID  string
	TotalXP int64
	Level   int
	Rank    progression.Rank
	Class   classes.Class
}

// Standings lists every member with XP, highest first, leveled with the
// guild's formula.
func (e *Engine) Standings(ctx context.Context, guildID string) ([]MemberStanding, error) {
	s, err := e.Settings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.Members(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]MemberStanding, len(rows))
	for i, r := range rows {
		level := e.level(guildID, s, r.TotalXP)
		class, _ := classes.Parse(r.ClassName())
		out[i] = MemberStanding{
			UserID:  r.UserID,
			TotalXP: r.TotalXP,
			Level:   level,
			Rank:    progression.RankFromLevel(level),
			Class:   class,
		}
	}
	return out, nil
}

type ServerStats struct {
	Members      int64
	TotalXP      int64
	Messages     int64
	VoiceSeconds int64
}

func (e *Engine) ServerStats(ctx context.Context, guildID string) (ServerStats, error) {
	a, err := e.store.Aggregates(ctx, guildID)
	if err != nil {
		return ServerStats{}, err
	}
	return ServerStats(a), nil
}
