package leveling

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/classes"
	"github.com/code-wolf-byte/hunterxp/internal/database"
	"github.com/code-wolf-byte/hunterxp/internal/guard"
)

// VoiceEvent is a member joining or leaving a voice channel.
type VoiceEvent struct {
	GuildID   string
	UserID    string
	ChannelID string
	RoleIDs   []string
	At        time.Time
}

// VoiceMember is one occupant seen by a periodic tick.
type VoiceMember struct {
	UserID  string
	RoleIDs []string
	Bot     bool
}

// VoiceTick credits everyone currently in a channel.
type VoiceTick struct {
	GuildID   string
	ChannelID string
	Members   []VoiceMember
	Interval  time.Duration
	At        time.Time
}

// VoiceGrant is the credit given to one member.
type VoiceGrant struct {
	UserID     string
	Seconds    int64
	XP         int64
	Transition *Transition
}

type voiceSession struct {
	channelID string
	roleIDs   []string
	credited  time.Time // voice time is credited up to here
}

// voiceTracker remembers who is in which voice channel and how much of
// their time has been credited.
type voiceTracker struct {
	mu       sync.Mutex
	sessions map[guard.Key]*voiceSession
}

func newVoiceTracker() *voiceTracker {
	return &voiceTracker{sessions: make(map[guard.Key]*voiceSession)}
}

func (t *voiceTracker) occupants(guildID, channelID string) []string {
	var ids []string
	for k, s := range t.sessions {
		if k.GuildID == guildID && s.channelID == channelID {
			ids = append(ids, k.UserID)
		}
	}
	return ids
}

// OnVoiceJoin starts tracking a member. Moving between channels keeps the
// time already accrued.
func (e *Engine) OnVoiceJoin(ctx context.Context, ev VoiceEvent) {
	at := e.at(ev.At)
	k := guard.Key{GuildID: ev.GuildID, UserID: ev.UserID}
	e.voice.mu.Lock()
	defer e.voice.mu.Unlock()
	if s, ok := e.voice.sessions[k]; ok {
		s.channelID = ev.ChannelID
		s.roleIDs = ev.RoleIDs
		return
	}
	e.voice.sessions[k] = &voiceSession{channelID: ev.ChannelID, roleIDs: ev.RoleIDs, credited: at}
	e.log.Debug().Str("guild_id", ev.GuildID).Str("user_id", ev.UserID).Msg("voice session started")
}

// OnVoiceLeave credits the time since the last tick and stops tracking.
// Members that were never tracked earn nothing.
func (e *Engine) OnVoiceLeave(ctx context.Context, ev VoiceEvent) (*VoiceGrant, error) {
	at := e.at(ev.At)
	k := guard.Key{GuildID: ev.GuildID, UserID: ev.UserID}

	e.voice.mu.Lock()
	s, ok := e.voice.sessions[k]
	if !ok {
		e.voice.mu.Unlock()
		return nil, nil
	}
	delete(e.voice.sessions, k)
	channelID := s.channelID
	roles := s.roleIDs
	if ev.RoleIDs != nil {
		roles = ev.RoleIDs
	}
	seconds := int64(at.Sub(s.credited) / time.Second)
	others := e.voice.occupants(ev.GuildID, channelID)
	e.voice.mu.Unlock()

	if seconds <= 0 {
		return nil, nil
	}
	grants, err := e.creditVoice(ctx, ev.GuildID, channelID, []voiceCredit{{ev.UserID, roles, seconds}}, append(others, ev.UserID), at)
	if err != nil || len(grants) == 0 {
		return nil, err
	}
	return &grants[0], nil
}

// OnVoiceTick credits every non-bot occupant for the time since they were
// last credited, capped at the tick interval. Occupants not tracked yet,
// for example after a restart, are credited the full interval.
func (e *Engine) OnVoiceTick(ctx context.Context, tick VoiceTick) ([]VoiceGrant, error) {
	at := e.at(tick.At)
	limit := int64(tick.Interval / time.Second)

	var credits []voiceCredit
	var present []string
	e.voice.mu.Lock()
	for _, m := range tick.Members {
		if m.Bot {
			continue
		}
		present = append(present, m.UserID)
		k := guard.Key{GuildID: tick.GuildID, UserID: m.UserID}
		s, ok := e.voice.sessions[k]
		if !ok {
			s = &voiceSession{credited: at.Add(-tick.Interval)}
			e.voice.sessions[k] = s
		}
		s.channelID = tick.ChannelID
		s.roleIDs = m.RoleIDs
		seconds := min(int64(at.Sub(s.credited)/time.Second), limit)
		s.credited = at
		if seconds > 0 {
			credits = append(credits, voiceCredit{m.UserID, m.RoleIDs, seconds})
		}
	}
	e.voice.mu.Unlock()

	return e.creditVoice(ctx, tick.GuildID, tick.ChannelID, credits, present, at)
}

type voiceCredit struct {
	userID  string
	roleIDs []string
	seconds int64
}

// creditVoice grants voice time and XP. occupants are everyone in the
// channel and decide the healer aura.
func (e *Engine) creditVoice(ctx context.Context, guildID, channelID string, credits []voiceCredit, occupants []string, at time.Time) ([]VoiceGrant, error) {
	if len(credits) == 0 {
		return nil, nil
	}
	s, err := e.Settings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ProgressOf(ctx, guildID, occupants)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]*database.UserProgress, len(rows))
	var healers []string
	for i := range rows {
		byUser[rows[i].UserID] = &rows[i]
		if c, _ := classes.Parse(rows[i].ClassName()); c == classes.Healer {
			healers = append(healers, rows[i].UserID)
		}
	}

	grants := make([]VoiceGrant, 0, len(credits))
	for _, c := range credits {
		p := byUser[c.userID]
		if p == nil {
			p = &database.UserProgress{GuildID: guildID, UserID: c.userID}
		}
		class, _ := classes.Parse(p.ClassName())
		aura := slices.ContainsFunc(healers, func(id string) bool { return id != c.userID })

		g := VoiceGrant{UserID: c.userID, Seconds: c.seconds}
		if s.VoiceXPEnabled && s.VoiceXPRate > 0 {
			mult := e.resolver.VoiceMultiplier(classes.VoiceInput{
				Class:          class,
				RoleMultiplier: classes.RoleMultiplier(c.roleIDs, s.RoleMultipliers),
				Aura:           aura,
			})
			g.XP = int64(math.Floor(float64(s.VoiceXPRate) * float64(c.seconds) / 60 * mult))
		}
		err := e.store.ApplyDelta(ctx, database.Delta{
			GuildID:      guildID,
			UserID:       c.userID,
			XP:           g.XP,
			VoiceSeconds: c.seconds,
			Source:       SourceVoice,
			At:           at,
		})
		if err != nil {
			return grants, fmt.Errorf("unable to credit voice time: %w", err)
		}
		if g.XP > 0 {
			e.syncXP(c.userID, g.XP, SourceVoice)
			g.Transition = e.detect(transitionInput{
				guildID:  guildID,
				userID:   c.userID,
				settings: s,
				oldTotal: p.TotalXP,
				newTotal: p.TotalXP + g.XP,
			})
		}
		grants = append(grants, g)
	}
	return grants, nil
}

func (e *Engine) at(t time.Time) time.Time {
	if t.IsZero() {
		return e.now()
	}
	return t
}
