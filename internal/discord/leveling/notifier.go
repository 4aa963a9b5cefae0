package leveling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/code-wolf-byte/hunterxp/internal/classes"
	xp "github.com/code-wolf-byte/hunterxp/internal/leveling"
	"github.com/code-wolf-byte/hunterxp/internal/progression"
	"github.com/rs/zerolog"
)

// Roles maps ranks, classes and the season champion to guild role ids.
type Roles struct {
	Rank     map[progression.Rank]string
	Class    map[classes.Class]string
	Champion string
}

// NewRoles parses role maps keyed by rank names ("E-RANK") and class names
// ("TANK").
func NewRoles(rank, class map[string]string, champion string) (Roles, error) {
	r := Roles{
		Rank:     make(map[progression.Rank]string, len(rank)),
		Class:    make(map[classes.Class]string, len(class)),
		Champion: champion,
	}
	for k, id := range rank {
		tier, ok := progression.ParseRank(k)
		if !ok {
			return Roles{}, fmt.Errorf("unknown rank %q in rank roles", k)
		}
		r.Rank[tier] = id
	}
	for k, id := range class {
		c, ok := classes.Parse(k)
		if !ok {
			return Roles{}, fmt.Errorf("unknown class %q in class roles", k)
		}
		r.Class[c] = id
	}
	return r, nil
}

// rankRoleChanges computes the stacked rank roles for rank: every role up to
// and including it is held, every role above it is removed.
func (r Roles) rankRoleChanges(held []string, rank progression.Rank) (add, remove []string) {
	for _, tier := range progression.Ranks {
		id := r.Rank[tier]
		if id == "" {
			continue
		}
		has := slices.Contains(held, id)
		switch {
		case tier <= rank && !has:
			add = append(add, id)
		case tier > rank && has:
			remove = append(remove, id)
		}
	}
	return add, remove
}

// memberRoleChanges adds the class role, when the class has one and it is
// missing, to the stacked rank role changes. Class roles are never removed
// since the choice is permanent.
func (r Roles) memberRoleChanges(held []string, rank progression.Rank, class classes.Class) (add, remove []string) {
	add, remove = r.rankRoleChanges(held, rank)
	if id := r.Class[class]; id != "" && !slices.Contains(held, id) {
		add = append(add, id)
	}
	return add, remove
}

// syncMemberRoles fetches the member and brings their rank and class roles
// in line with rank and class. Pass classes.None to leave class roles alone.
// It reports whether any role was added or removed.
func syncMemberRoles(ctx context.Context, session *discordgo.Session, roles Roles, guildID, userID string, rank progression.Rank, class classes.Class) (bool, error) {
	if len(roles.Rank) == 0 && roles.Class[class] == "" {
		return false, nil
	}
	member, err := session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("unable to fetch member for roles: %w", err)
	}
	add, remove := roles.memberRoleChanges(member.Roles, rank, class)
	var errs []error
	for _, id := range remove {
		if err := session.GuildMemberRoleRemove(guildID, userID, id, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("unable to remove role %s: %w", id, err))
		}
	}
	for _, id := range add {
		if err := session.GuildMemberRoleAdd(guildID, userID, id, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("unable to add role %s: %w", id, err))
		}
	}
	return len(add)+len(remove) > 0, errors.Join(errs...)
}

var rankFlavor = map[progression.Rank]string{
	progression.RankE: "Still grinding!",
	progression.RankD: "Building strength!",
	progression.RankC: "Getting stronger!",
	progression.RankB: "Rising through the ranks!",
	progression.RankA: "Elite hunter status!",
	progression.RankS: "Legendary power!",
}

// Notifier announces transitions in discord and keeps rank and champion
// roles in step with them.
type Notifier struct {
	session *discordgo.Session
	roles   Roles
	log     *zerolog.Logger
}

func NewNotifier(session *discordgo.Session, roles Roles, log *zerolog.Logger) *Notifier {
	l := log.With().Str("component", "notifier").Logger()
	return &Notifier{session: session, roles: roles, log: &l}
}

func (n *Notifier) NotifyLevelUp(ctx context.Context, t xp.Transition) error {
	if !t.Announce {
		return nil
	}
	msg := fmt.Sprintf("⚡ **LEVEL UP**\n<@%s> reached **Level %d**! %s", t.UserID, t.NewLevel, rankFlavor[t.NewRank])
	return n.announce(ctx, t.GuildID, n.channelFor(t), msg)
}

// NotifyRankUp syncs the member's rank roles and, for a rise, announces it.
// Downward corrections only touch roles.
func (n *Notifier) NotifyRankUp(ctx context.Context, t xp.Transition) error {
	if err := n.syncRankRoles(ctx, t.GuildID, t.UserID, t.NewRank); err != nil {
		return err
	}
	if !t.Announce || t.NewRank < t.OldRank {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔮 **SYSTEM ALERT**\n<@%s> has ascended.\n\n**%s → %s**", t.UserID, t.OldRank, t.NewRank)
	if id := n.roles.Rank[t.NewRank]; id != "" {
		fmt.Fprintf(&b, "\nRole unlocked: <@&%s>", id)
	}
	return n.announce(ctx, t.GuildID, n.channelFor(t), b.String())
}

// NotifySeasonEnded moves the champion role to the winners and announces
// the podium in the guild's system channel.
func (n *Notifier) NotifySeasonEnded(ctx context.Context, r xp.SeasonResult) error {
	var errs []error
	if n.roles.Champion != "" {
		if err := n.crownChampions(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("🏆 %s has ended", r.Name),
		Description: podium(r.Winners),
		Color:       colorGold,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Season XP has been reset. A new hunt begins!"},
	}
	if channelID := n.systemChannel(r.GuildID); channelID != "" {
		if _, err := n.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("unable to announce season: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) syncRankRoles(ctx context.Context, guildID, userID string, rank progression.Rank) error {
	changed, err := syncMemberRoles(ctx, n.session, n.roles, guildID, userID, rank, classes.None)
	if changed {
		n.log.Debug().Str("guild_id", guildID).Str("user_id", userID).Stringer("rank", rank).Msg("rank roles synced")
	}
	return err
}

func (n *Notifier) crownChampions(ctx context.Context, r xp.SeasonResult) error {
	role := n.roles.Champion
	winners := make([]string, len(r.Winners))
	for i, w := range r.Winners {
		winners[i] = w.UserID
	}

	var errs []error
	after := ""
	for {
		page, err := n.session.GuildMembers(r.GuildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("unable to list members: %w", err)
		}
		for _, m := range page {
			if m.User == nil || slices.Contains(winners, m.User.ID) || !slices.Contains(m.Roles, role) {
				continue
			}
			if err := n.session.GuildMemberRoleRemove(r.GuildID, m.User.ID, role, discordgo.WithContext(ctx)); err != nil {
				errs = append(errs, fmt.Errorf("unable to remove champion role from %s: %w", m.User.ID, err))
			}
		}
		if len(page) < 1000 {
			break
		}
		after = page[len(page)-1].User.ID
	}
	for _, id := range winners {
		if err := n.session.GuildMemberRoleAdd(r.GuildID, id, role, discordgo.WithContext(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("unable to crown %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// channelFor picks the configured level-up channel, then the channel the
// activity happened in, then the guild's system channel.
func (n *Notifier) channelFor(t xp.Transition) string {
	switch {
	case t.AnnounceChannelID != "":
		return t.AnnounceChannelID
	case t.ChannelID != "":
		return t.ChannelID
	}
	return n.systemChannel(t.GuildID)
}

func (n *Notifier) systemChannel(guildID string) string {
	g, err := n.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	return g.SystemChannelID
}

func (n *Notifier) announce(ctx context.Context, guildID, channelID, msg string) error {
	if channelID == "" {
		n.log.Debug().Str("guild_id", guildID).Msg("no announcement channel")
		return nil
	}
	if _, err := n.session.ChannelMessageSend(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("unable to announce in %s: %w", channelID, err)
	}
	return nil
}
