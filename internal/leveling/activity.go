package leveling

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/code-wolf-byte/hunterxp/internal/classes"
	"github.com/code-wolf-byte/hunterxp/internal/database"
	"github.com/code-wolf-byte/hunterxp/internal/guard"
)

// Suppression names the check that kept a message from earning XP.
type Suppression string

const (
	SuppressedBurst    Suppression = "burst"
	SuppressedChannel  Suppression = "channel"
	SuppressedCooldown Suppression = "cooldown"
)

// MessageActivity is a chat message from a non-bot member.
type MessageActivity struct {
	GuildID   string
	UserID    string
	ChannelID string
	Text      string
	Mentions  int      // other members mentioned
	RoleIDs   []string // roles the author holds
	At        time.Time
}

// Outcome reports what one message earned.
type Outcome struct {
	Suppressed Suppression
	Gain       int64
	Crit       bool
	Duplicate  bool
	Transition *Transition
}

// OnMessageActivity runs a message through the guards, resolves its XP,
// queues the grant and reports any level transition. Suppressed messages
// are not errors.
func (e *Engine) OnMessageActivity(ctx context.Context, m MessageActivity) (Outcome, error) {
	at := e.at(m.At)
	key := guard.Key{GuildID: m.GuildID, UserID: m.UserID}

	if !e.window.Allow(key, at) {
		return Outcome{Suppressed: SuppressedBurst}, nil
	}
	s, err := e.Settings(ctx, m.GuildID)
	if err != nil {
		return Outcome{}, err
	}
	if !guard.ChannelEligible(m.ChannelID, s.Blacklist, s.Whitelist) {
		return Outcome{Suppressed: SuppressedChannel}, nil
	}

	p, err := e.progress(ctx, m.GuildID, m.UserID)
	if err != nil {
		return Outcome{}, err
	}
	class, _ := classes.Parse(p.ClassName())
	if !e.cooldown.TryAcquire(key, p.LastXPAt.Time, at, classes.Cooldown(class, s.Cooldown())) {
		return Outcome{Suppressed: SuppressedCooldown}, nil
	}

	base := s.XPMin + e.opts.Rand.IntN(s.XPMax-s.XPMin+1)
	res := e.resolver.ResolveMessage(classes.MessageInput{
		Class: class,
		Message: classes.Message{
			Length:    utf8.RuneCountInString(m.Text),
			Mentions:  m.Mentions,
			ChannelID: m.ChannelID,
			At:        at,
		},
		State: classes.State{
			DailyStreak:        p.DailyStreak,
			Combo:              p.MessageCombo,
			LastMessageAt:      p.LastMessageAt.Time,
			FocusChannelID:     p.FocusChannel(),
			LastMentionBonusAt: p.LastMentionBonusAt.Time,
		},
		RoleMultiplier: classes.RoleMultiplier(m.RoleIDs, s.RoleMultipliers),
	})

	out := Outcome{Gain: max(1, res.Gain(base)), Crit: res.Crit}
	if !res.DuplicateImmune && e.duplicates.Repeat(key, m.Text, at) {
		out.Gain = guard.Penalize(out.Gain)
		out.Duplicate = true
	}

	set := map[string]any{}
	var combo *database.ComboStep
	if res.ComboChanged {
		combo = &database.ComboStep{At: at, Since: at.Add(-classes.ComboWindow)}
	}
	if res.MentionBonus {
		set["last_mention_xp"] = database.At(at)
	}
	err = e.store.ApplyDelta(ctx, database.Delta{
		GuildID:   m.GuildID,
		UserID:    m.UserID,
		XP:        out.Gain,
		Messages:  1,
		GrantedAt: at,
		Source:    SourceMessage,
		At:        at,
		Combo:     combo,
		Set:       set,
	})
	if err != nil {
		e.cooldown.Release(key, at)
		return Outcome{}, err
	}
	e.syncXP(m.UserID, out.Gain, SourceMessage)

	out.Transition = e.detect(transitionInput{
		guildID:   m.GuildID,
		userID:    m.UserID,
		channelID: m.ChannelID,
		settings:  s,
		oldTotal:  p.TotalXP,
		newTotal:  p.TotalXP + out.Gain,
	})
	return out, nil
}
