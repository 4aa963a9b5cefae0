package leveling

import (
	"context"
	"sync"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/progression"
)

type transitionKey struct {
	guildID string
	userID  string
	level   int
}

// transitionLog suppresses repeated notifications for the same level
// reached within ttl, as happens when a gateway event is redelivered.
type transitionLog struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[transitionKey]time.Time
}

func newTransitionLog(ttl time.Duration) *transitionLog {
	return &transitionLog{ttl: ttl, seen: make(map[transitionKey]time.Time)}
}

// first records k at now and reports whether it was not already recorded
// within the ttl.
func (l *transitionLog) first(k transitionKey, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, at := range l.seen {
		if now.Sub(at) >= l.ttl {
			delete(l.seen, key)
		}
	}
	if at, ok := l.seen[k]; ok && now.Sub(at) < l.ttl {
		return false
	}
	l.seen[k] = now
	return true
}

// transitionInput carries what detection needs about one XP change.
type transitionInput struct {
	guildID   string
	userID    string
	channelID string
	settings  Settings
	oldTotal  int64
	newTotal  int64
	forced    bool
}

// detect compares the levels on both sides of an XP change and dispatches
// at most one notification. Activity only notifies on a level increase.
// Forced changes also notify when the rank moves in either direction so
// rank roles can follow an admin correction.
func (e *Engine) detect(in transitionInput) *Transition {
	oldLevel := e.level(in.guildID, in.settings, in.oldTotal)
	newLevel := e.level(in.guildID, in.settings, in.newTotal)
	oldRank, newRank := progression.RankFromLevel(oldLevel), progression.RankFromLevel(newLevel)

	rankChanged := oldRank != newRank
	switch {
	case newLevel > oldLevel:
	case in.forced && rankChanged:
	default:
		return nil
	}

	if !in.forced && !e.transitions.first(transitionKey{in.guildID, in.userID, newLevel}, e.now()) {
		e.log.Debug().Str("guild_id", in.guildID).Str("user_id", in.userID).Int("level", newLevel).Msg("duplicate level-up suppressed")
		return nil
	}

	t := Transition{
		GuildID:           in.guildID,
		UserID:            in.userID,
		OldLevel:          oldLevel,
		NewLevel:          newLevel,
		OldRank:           oldRank,
		NewRank:           newRank,
		RankChanged:       rankChanged,
		Forced:            in.forced,
		ChannelID:         in.channelID,
		Announce:          in.settings.LevelUpMessages,
		AnnounceChannelID: in.settings.LevelUpChannel,
	}
	e.emit(t)
	return &t
}

func (e *Engine) emit(t Transition) {
	e.log.Info().
		Str("guild_id", t.GuildID).
		Str("user_id", t.UserID).
		Int("old_level", t.OldLevel).
		Int("new_level", t.NewLevel).
		Stringer("rank", t.NewRank).
		Bool("rank_changed", t.RankChanged).
		Msg("level transition")
	if t.RankChanged {
		e.background("notify rank-up", func(ctx context.Context) error {
			return e.notifier.NotifyRankUp(ctx, t)
		})
		return
	}
	e.background("notify level-up", func(ctx context.Context) error {
		return e.notifier.NotifyLevelUp(ctx, t)
	})
}
