package leveling

import (
	"context"
	"errors"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/classes"
	"github.com/code-wolf-byte/hunterxp/internal/database"
)

const (
	dailyCooldown = 24 * time.Hour
	// A fighter keeps the streak by claiming again within this window.
	streakWindow = 48 * time.Hour
)

// DailyResult describes a successful daily claim. Mages bank a credit
// instead of receiving XP.
type DailyResult struct {
	XP            int64
	Streak        int
	Stored        bool
	StoredCredits int
	Transition    *Transition
}

// ClaimDaily grants the daily reward once per 24 hours.
func (e *Engine) ClaimDaily(ctx context.Context, guildID, userID string) (DailyResult, error) {
	s, err := e.Settings(ctx, guildID)
	if err != nil {
		return DailyResult{}, err
	}
	if !s.DailyEnabled {
		return DailyResult{}, ErrDailyDisabled
	}
	now := e.now()

	var res DailyResult
	var oldTotal int64
	err = e.store.UpdateProgress(ctx, "claim daily", guildID, userID, func(p *database.UserProgress) (database.Delta, error) {
		res, oldTotal = DailyResult{}, p.TotalXP
		last := p.LastDailyAt.Time
		if !last.IsZero() {
			if elapsed := now.Sub(last); elapsed < dailyCooldown {
				return database.Delta{}, &CooldownError{Action: "daily", Remaining: dailyCooldown - elapsed}
			}
		}
		class, _ := classes.Parse(p.ClassName())
		set := map[string]any{"last_daily": database.At(now)}

		if classes.For(class).StoresDailies() {
			if p.StoredDailies >= classes.MaxStoredDailies {
				return database.Delta{}, ErrStoredDailiesFull
			}
			res.Stored = true
			res.StoredCredits = p.StoredDailies + 1
			set["stored_dailies"] = res.StoredCredits
			return database.Delta{Set: set}, nil
		}

		res.Streak = p.DailyStreak
		if class == classes.Fighter && !last.IsZero() {
			if now.Sub(last) < streakWindow {
				res.Streak++
			} else {
				res.Streak = 0
			}
			set["daily_streak"] = res.Streak
		}
		res.XP = classes.DailyReward(class, s.DailyReward)
		return database.Delta{XP: res.XP, Source: SourceDaily, At: now, Set: set}, nil
	})
	if err != nil {
		return DailyResult{}, err
	}

	if res.XP > 0 {
		e.syncXP(userID, res.XP, SourceDaily)
		res.Transition = e.detect(transitionInput{guildID: guildID, userID: userID, settings: s, oldTotal: oldTotal, newTotal: oldTotal + res.XP})
	}
	e.log.Info().Str("guild_id", guildID).Str("user_id", userID).Int64("xp", res.XP).Bool("stored", res.Stored).Msg("daily claimed")
	return res, nil
}

// StoredResult describes a bulk claim of banked daily credits.
type StoredResult struct {
	Credits    int
	XP         int64
	Transition *Transition
}

// ClaimStored pays out every banked daily credit at once.
func (e *Engine) ClaimStored(ctx context.Context, guildID, userID string) (StoredResult, error) {
	s, err := e.Settings(ctx, guildID)
	if err != nil {
		return StoredResult{}, err
	}
	var res StoredResult
	var oldTotal int64
	err = e.store.UpdateProgress(ctx, "claim stored dailies", guildID, userID, func(p *database.UserProgress) (database.Delta, error) {
		res, oldTotal = StoredResult{}, p.TotalXP
		class, _ := classes.Parse(p.ClassName())
		if !classes.For(class).StoresDailies() {
			return database.Delta{}, ErrNotMage
		}
		if p.StoredDailies <= 0 {
			return database.Delta{}, ErrNoStoredDailies
		}
		res.Credits = p.StoredDailies
		res.XP = classes.StoredClaim(class, s.DailyReward, p.StoredDailies)
		return database.Delta{XP: res.XP, Source: SourceStored, At: e.now(), Set: map[string]any{"stored_dailies": 0}}, nil
	})
	if err != nil {
		return StoredResult{}, err
	}
	if res.XP > 0 {
		e.syncXP(userID, res.XP, SourceStored)
		res.Transition = e.detect(transitionInput{guildID: guildID, userID: userID, settings: s, oldTotal: oldTotal, newTotal: oldTotal + res.XP})
	}
	return res, nil
}

// ChooseClass sets a member's class. The choice unlocks at the configured
// level and can never be changed afterwards.
func (e *Engine) ChooseClass(ctx context.Context, guildID, userID, name string) (classes.Class, error) {
	class, ok := classes.Parse(name)
	if !ok {
		return classes.None, ErrInvalidClass
	}
	s, err := e.Settings(ctx, guildID)
	if err != nil {
		return classes.None, err
	}
	p, err := e.progress(ctx, guildID, userID)
	if err != nil {
		return classes.None, err
	}
	if p.ClassName() != "" {
		return classes.None, ErrClassAlreadyChosen
	}
	if e.level(guildID, s, p.TotalXP) < e.opts.ClassUnlockLevel {
		return classes.None, ErrClassLocked
	}
	if err := e.store.SetClass(ctx, guildID, userID, string(class)); err != nil {
		if errors.Is(err, database.ErrClassAlreadySet) {
			return classes.None, ErrClassAlreadyChosen
		}
		return classes.None, err
	}
	e.log.Info().Str("guild_id", guildID).Str("user_id", userID).Stringer("class", class).Msg("class chosen")
	e.background("sync class", func(ctx context.Context) error {
		return e.syncer.SyncClassSelection(ctx, userID, class)
	})
	return class, nil
}

// SetFocus moves a ranger's focus channel, at most once per cooldown.
func (e *Engine) SetFocus(ctx context.Context, guildID, userID, channelID string) error {
	now := e.now()
	return e.store.UpdateProgress(ctx, "set focus", guildID, userID, func(p *database.UserProgress) (database.Delta, error) {
		if class, _ := classes.Parse(p.ClassName()); class != classes.Ranger {
			return database.Delta{}, ErrNotRanger
		}
		if p.FocusChannel() != "" && !p.FocusSetAt.IsZero() {
			if elapsed := now.Sub(p.FocusSetAt.Time); elapsed < classes.FocusCooldown {
				return database.Delta{}, &CooldownError{Action: "focus change", Remaining: classes.FocusCooldown - elapsed}
			}
		}
		return database.Delta{Set: map[string]any{
			"focus_channel":     channelID,
			"focus_channel_set": database.At(now),
		}}, nil
	})
}
