// Package leveling connects the leveling engine to a discord guild: it feeds
// gateway events into the engine, serves the slash and prefix commands, and
// announces transitions.
package leveling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	xp "github.com/code-wolf-byte/hunterxp/internal/leveling"
	"github.com/rs/zerolog"
)

const name = "Leveling"

// commandTimeout bounds the engine work behind one gateway event.
const commandTimeout = 15 * time.Second

// roleSyncTimeout bounds a guild-wide role sync.
const roleSyncTimeout = 10 * time.Minute

// Leveling is the per-guild module.
type Leveling struct {
	guildName      string
	guildSnowflake string
	appId          string
	session        *discordgo.Session
	engine         *xp.Engine
	roles          Roles
	log            *zerolog.Logger

	registered []*discordgo.ApplicationCommand
}

// New returns an instance of the leveling module for one guild.
func New(
	guildName string,
	guildSnowflake string,
	appId string,
	session *discordgo.Session,
	engine *xp.Engine,
	roles Roles,
	log *zerolog.Logger,
) *Leveling {
	l := log.With().
		Str("module", name).
		Str("guild_name", guildName).
		Str("guild_snowflake", guildSnowflake).
		Logger()

	return &Leveling{
		guildName:      guildName,
		guildSnowflake: guildSnowflake,
		appId:          appId,
		session:        session,
		engine:         engine,
		roles:          roles,
		log:            &l,
	}
}

// Load registers the guild's slash commands. It runs when a guild becomes
// available, including after a reconnect.
func (l *Leveling) Load(ctx context.Context) error {
	if _, err := l.engine.Settings(ctx, l.guildSnowflake); err != nil {
		return fmt.Errorf("unable to load settings: %w", err)
	}
	created, err := l.session.ApplicationCommandBulkOverwrite(l.appId, l.guildSnowflake, commands, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("unable to register commands: %w", err)
	}
	l.registered = created
	l.log.Debug().Int("commands", len(created)).Msgf("leveling module loaded for guild %s", l.guildName)
	return nil
}

// Unload removes the commands registered by Load.
func (l *Leveling) Unload(ctx context.Context) error {
	var errs []error
	for _, c := range l.registered {
		if err := l.session.ApplicationCommandDelete(l.appId, l.guildSnowflake, c.ID, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("unable to delete command %s: %w", c.Name, err))
		}
	}
	l.registered = nil
	return errors.Join(errs...)
}

// OnMessageCreate runs prefix commands and otherwise hands the message to
// the engine as activity.
func (l *Leveling) OnMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if cmd, args, ok := parsePrefix(m.Content); ok {
		handled, err := l.handlePrefix(ctx, s, m, cmd, args)
		if err != nil {
			l.log.Error().Err(err).Str("command", cmd).Msg("prefix command failed")
		}
		if handled {
			return
		}
	}

	var roles []string
	if m.Member != nil {
		roles = m.Member.Roles
	}
	out, err := l.engine.OnMessageActivity(ctx, xp.MessageActivity{
		GuildID:   m.GuildID,
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		Text:      m.Content,
		Mentions:  mentionCount(m.Author.ID, m.Mentions),
		RoleIDs:   roles,
		At:        m.Timestamp,
	})
	if err != nil {
		l.log.Error().Err(err).Str("user_id", m.Author.ID).Msg("unable to process message activity")
		return
	}

	var reaction string
	switch {
	case out.Suppressed == xp.SuppressedBurst:
		reaction = reactionBurst
	case out.Crit:
		reaction = reactionCrit
	}
	if reaction != "" {
		if err := s.MessageReactionAdd(m.ChannelID, m.ID, reaction, discordgo.WithContext(ctx)); err != nil {
			l.log.Debug().Err(err).Str("reaction", reaction).Msg("unable to react")
		}
	}
}

// OnVoiceStateUpdate turns joins, moves and leaves into voice sessions.
func (l *Leveling) OnVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || v.UserID == "" {
		return
	}
	if v.Member != nil && v.Member.User != nil && v.Member.User.Bot {
		return
	}
	var before string
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}
	var roles []string
	if v.Member != nil {
		roles = v.Member.Roles
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	switch voiceChange(before, v.ChannelID) {
	case voiceJoined, voiceMoved:
		l.engine.OnVoiceJoin(ctx, xp.VoiceEvent{GuildID: v.GuildID, UserID: v.UserID, ChannelID: v.ChannelID, RoleIDs: roles})
	case voiceLeft:
		g, err := l.engine.OnVoiceLeave(ctx, xp.VoiceEvent{GuildID: v.GuildID, UserID: v.UserID, ChannelID: before, RoleIDs: roles})
		if err != nil {
			l.log.Error().Err(err).Str("user_id", v.UserID).Msg("unable to credit voice session")
			return
		}
		if g != nil {
			l.log.Debug().Str("user_id", v.UserID).Int64("seconds", g.Seconds).Int64("xp", g.XP).Msg("voice session credited")
		}
	}
}

// OnInteractionCreate processes slash commands.
func (l *Leveling) OnInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.Member == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	l.handleCommand(ctx, s, i)
}

type voiceAction int

const (
	voiceNone voiceAction = iota
	voiceJoined
	voiceMoved
	voiceLeft
)

// voiceChange classifies a voice state update from the channel before and
// after it. Mute and deafen updates keep the channel and change nothing.
func voiceChange(before, after string) voiceAction {
	switch {
	case before == after:
		return voiceNone
	case before == "":
		return voiceJoined
	case after == "":
		return voiceLeft
	}
	return voiceMoved
}

// mentionCount counts mentioned members other than the author and bots.
func mentionCount(authorID string, mentions []*discordgo.User) int {
	n := 0
	for _, u := range mentions {
		if u != nil && u.ID != authorID && !u.Bot {
			n++
		}
	}
	return n
}
