package leveling

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	xp "github.com/code-wolf-byte/hunterxp/internal/leveling"
	"github.com/rs/zerolog"
)

// Intents are the gateway intents the bot needs.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsMessageContent

// Bot owns the gateway session and routes events to per-guild modules.
type Bot struct {
	session *discordgo.Session
	appId   string
	engine  *xp.Engine
	roles   Roles
	log     *zerolog.Logger

	mu      sync.RWMutex
	modules map[string]*Leveling
}

func NewBot(session *discordgo.Session, appId string, engine *xp.Engine, roles Roles, log *zerolog.Logger) *Bot {
	l := log.With().Str("component", "discord").Logger()
	b := &Bot{
		session: session,
		appId:   appId,
		engine:  engine,
		roles:   roles,
		log:     &l,
		modules: make(map[string]*Leveling),
	}
	session.Identify.Intents = Intents
	session.AddHandler(b.onReady)
	session.AddHandler(b.onGuildCreate)
	session.AddHandler(b.onGuildDelete)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onVoiceStateUpdate)
	session.AddHandler(b.onInteractionCreate)
	return b
}

// Open connects to the gateway. Modules load as guilds become available.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("unable to open discord session: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if b.appId == "" && r.Application != nil {
		b.appId = r.Application.ID
	}
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord session ready")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	defer b.recover("guild create")
	if g.Unavailable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	m := New(g.Name, g.ID, b.appId, s, b.engine, b.roles, b.log)
	if err := m.Load(ctx); err != nil {
		b.log.Error().Err(err).Str("guild_id", g.ID).Msg("unable to load leveling module")
		return
	}
	b.mu.Lock()
	b.modules[g.ID] = m
	b.mu.Unlock()
}

func (b *Bot) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	defer b.recover("guild delete")
	b.mu.Lock()
	delete(b.modules, g.ID)
	b.mu.Unlock()
}

func (b *Bot) module(guildID string) *Leveling {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.modules[guildID]
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	defer b.recover("message create")
	if mod := b.module(m.GuildID); mod != nil {
		mod.OnMessageCreate(s, m)
	}
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	defer b.recover("voice state update")
	if mod := b.module(v.GuildID); mod != nil {
		mod.OnVoiceStateUpdate(s, v)
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer b.recover("interaction create")
	if mod := b.module(i.GuildID); mod != nil {
		mod.OnInteractionCreate(s, i)
	}
}

func (b *Bot) recover(event string) {
	if r := recover(); r != nil {
		b.log.Error().
			Str("event", event).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("recovered from handler panic")
	}
}

// VoiceTick credits every member sitting in a voice channel of a loaded
// guild for the past interval.
func (b *Bot) VoiceTick(ctx context.Context, interval time.Duration) error {
	at := time.Now()
	var errs []error
	for _, tick := range b.voiceTicks(interval, at) {
		if err := ctx.Err(); err != nil {
			return err
		}
		grants, err := b.engine.OnVoiceTick(ctx, tick)
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s channel %s: %w", tick.GuildID, tick.ChannelID, err))
			continue
		}
		b.log.Debug().Str("guild_id", tick.GuildID).Str("channel_id", tick.ChannelID).Int("credited", len(grants)).Msg("voice tick")
	}
	return errors.Join(errs...)
}

// voiceTicks snapshots the state cache into one tick per occupied channel.
func (b *Bot) voiceTicks(interval time.Duration, at time.Time) []xp.VoiceTick {
	state := b.session.State
	state.RLock()
	defer state.RUnlock()

	var ticks []xp.VoiceTick
	for _, g := range state.Guilds {
		if b.module(g.ID) == nil {
			continue
		}
		byChannel := map[string]*xp.VoiceTick{}
		var order []string
		for _, vs := range g.VoiceStates {
			if vs.ChannelID == "" {
				continue
			}
			t, ok := byChannel[vs.ChannelID]
			if !ok {
				t = &xp.VoiceTick{GuildID: g.ID, ChannelID: vs.ChannelID, Interval: interval, At: at}
				byChannel[vs.ChannelID] = t
				order = append(order, vs.ChannelID)
			}
			t.Members = append(t.Members, voiceMember(g, vs))
		}
		for _, id := range order {
			ticks = append(ticks, *byChannel[id])
		}
	}
	return ticks
}

// voiceMember resolves roles and the bot flag from the voice state or the
// guild's cached members.
func voiceMember(g *discordgo.Guild, vs *discordgo.VoiceState) xp.VoiceMember {
	m := vs.Member
	if m == nil {
		for _, cached := range g.Members {
			if cached.User != nil && cached.User.ID == vs.UserID {
				m = cached
				break
			}
		}
	}
	out := xp.VoiceMember{UserID: vs.UserID}
	if m != nil {
		out.RoleIDs = m.Roles
		out.Bot = m.User != nil && m.User.Bot
	}
	return out
}
