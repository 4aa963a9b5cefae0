package leveling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/code-wolf-byte/hunterxp/internal/classes"
	"github.com/code-wolf-byte/hunterxp/internal/database"
	xp "github.com/code-wolf-byte/hunterxp/internal/leveling"
)

// handleCommand routes each slash command.
func (l *Leveling) handleCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	opts := optionMap(data.Options)

	var embed *discordgo.MessageEmbed
	var err error
	ephemeral := false

	switch data.Name {
	case "xp":
		userID := i.Member.User.ID
		if o, ok := opts["user"]; ok {
			userID = o.UserValue(nil).ID
		}
		embed, err = l.profileEmbed(ctx, userID)
	case "compare":
		embed, err = l.compare(ctx, i.Member.User.ID, opts["user"].UserValue(nil).ID)
	case "myclass":
		userID := i.Member.User.ID
		if o, ok := opts["user"]; ok {
			userID = o.UserValue(nil).ID
		}
		embed, err = l.memberClass(ctx, userID)
	case "classinfo":
		embed = classInfoEmbed(l.engine.ClassUnlockLevel())
	case "daily":
		embed, err = l.daily(ctx, i.Member.User.ID)
	case "claimstored":
		embed, err = l.claimStored(ctx, i.Member.User.ID)
	case "chooseclass":
		embed, err = l.chooseClass(ctx, s, i.Member.User.ID, opts["class"].StringValue())
	case "setfocus":
		embed, err = l.setFocus(ctx, i.Member.User.ID, opts["channel"].ChannelValue(nil).ID)
		ephemeral = true
	case "leaderboard":
		board := database.BoardTotal
		if o, ok := opts["board"]; ok {
			board = database.Board(o.StringValue())
		}
		page := 1
		if o, ok := opts["page"]; ok {
			page = int(o.IntValue())
		}
		embed, err = l.leaderboardEmbed(ctx, board, page)
	case "hunters":
		embed, err = l.hallOfFameEmbed(ctx)
	case "serverstats":
		embed, err = l.statsEmbed(ctx)
	case "syncroles":
		if !isAdmin(i.Member) {
			embed, ephemeral = errorEmbed("Not Allowed", "This command requires the Administrator permission."), true
			break
		}
		l.syncRolesDeferred(s, i)
		return
	case "setxp", "addxp", "endseason", "xpconfig":
		ephemeral = true
		if !isAdmin(i.Member) {
			embed = errorEmbed("Not Allowed", "This command requires the Administrator permission.")
			break
		}
		embed, err = l.handleAdmin(ctx, data, opts)
	default:
		return
	}

	if err != nil {
		msg, known := describeError(err, l.engine.ClassUnlockLevel())
		if !known {
			l.log.Error().Err(err).Str("command", data.Name).Str("user_id", i.Member.User.ID).Msg("command failed")
		}
		embed = errorEmbed("Command Failed", msg)
		ephemeral = true
	}
	l.reply(s, i, embed, ephemeral)
}

func (l *Leveling) handleAdmin(ctx context.Context, data discordgo.ApplicationCommandInteractionData, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) (*discordgo.MessageEmbed, error) {
	switch data.Name {
	case "setxp":
		userID := opts["user"].UserValue(nil).ID
		res, err := l.engine.SetXP(ctx, l.guildSnowflake, userID, opts["amount"].IntValue())
		if err != nil {
			return nil, err
		}
		return successEmbed("XP Set", fmt.Sprintf("<@%s> now has **%d XP** (was %d).", userID, res.NewTotal, res.OldTotal)), nil
	case "addxp":
		userID := opts["user"].UserValue(nil).ID
		res, err := l.engine.AddXP(ctx, l.guildSnowflake, userID, opts["amount"].IntValue())
		if err != nil {
			return nil, err
		}
		return successEmbed("XP Updated", fmt.Sprintf("<@%s> now has **%d XP** (was %d).", userID, res.NewTotal, res.OldTotal)), nil
	case "endseason":
		res, err := l.engine.EndSeason(ctx, l.guildSnowflake)
		if err != nil {
			return nil, err
		}
		return successEmbed("Season Ended", fmt.Sprintf("**%s** is over. Champions have been crowned.", res.Name)), nil
	case "xpconfig":
		if len(data.Options) == 0 {
			return nil, errors.New("missing subcommand")
		}
		sub := data.Options[0]
		s, err := l.configure(ctx, sub.Name, optionMap(sub.Options))
		if err != nil {
			return nil, err
		}
		return settingsEmbed(s), nil
	}
	return nil, fmt.Errorf("unknown admin command %q", data.Name)
}

// configure applies one xpconfig subcommand and returns the resulting
// settings.
func (l *Leveling) configure(ctx context.Context, sub string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) (xp.Settings, error) {
	g := l.guildSnowflake
	intOpt := func(name string) *int {
		v := int(opts[name].IntValue())
		return &v
	}
	boolOpt := func(name string) *bool {
		v := opts[name].BoolValue()
		return &v
	}
	channelOpt := func() string { return opts["channel"].ChannelValue(nil).ID }
	roleOpt := func() string { return opts["role"].RoleValue(nil, g).ID }

	switch sub {
	case "view":
		return l.engine.Settings(ctx, g)
	case "range":
		return l.engine.UpdateSettings(ctx, g, xp.Patch{XPMin: intOpt("min"), XPMax: intOpt("max")})
	case "cooldown":
		return l.engine.UpdateSettings(ctx, g, xp.Patch{CooldownSeconds: intOpt("seconds")})
	case "voice":
		return l.engine.UpdateSettings(ctx, g, xp.Patch{VoiceXPEnabled: boolOpt("enabled"), VoiceXPRate: intOpt("rate")})
	case "daily":
		return l.engine.UpdateSettings(ctx, g, xp.Patch{DailyEnabled: boolOpt("enabled"), DailyReward: intOpt("reward")})
	case "levelup":
		channel := ""
		if _, ok := opts["channel"]; ok {
			channel = channelOpt()
		}
		return l.engine.UpdateSettings(ctx, g, xp.Patch{LevelUpMessages: boolOpt("enabled"), LevelUpChannel: &channel})
	case "prefix":
		return l.engine.UpdateSettings(ctx, g, xp.Patch{PrefixCommands: boolOpt("enabled")})
	case "formula":
		src := ""
		if o, ok := opts["expression"]; ok {
			src = o.StringValue()
		}
		return l.engine.UpdateSettings(ctx, g, xp.Patch{Formula: &src})
	case "blacklist":
		return l.engine.BlacklistChannel(ctx, g, channelOpt())
	case "unblacklist":
		return l.engine.UnblacklistChannel(ctx, g, channelOpt())
	case "whitelist":
		return l.engine.WhitelistChannel(ctx, g, channelOpt())
	case "unwhitelist":
		return l.engine.UnwhitelistChannel(ctx, g, channelOpt())
	case "clearwhitelist":
		return l.engine.ClearWhitelist(ctx, g)
	case "multiplier":
		return l.engine.SetRoleMultiplier(ctx, g, roleOpt(), opts["multiplier"].FloatValue())
	case "removemultiplier":
		return l.engine.RemoveRoleMultiplier(ctx, g, roleOpt())
	}
	return xp.Settings{}, fmt.Errorf("unknown xpconfig subcommand %q", sub)
}

func (l *Leveling) compare(ctx context.Context, userA, userB string) (*discordgo.MessageEmbed, error) {
	a, err := l.engine.Profile(ctx, l.guildSnowflake, userA)
	if err != nil {
		return nil, err
	}
	b, err := l.engine.Profile(ctx, l.guildSnowflake, userB)
	if err != nil {
		return nil, err
	}
	return compareEmbed(a, b), nil
}

func (l *Leveling) memberClass(ctx context.Context, userID string) (*discordgo.MessageEmbed, error) {
	p, err := l.engine.Profile(ctx, l.guildSnowflake, userID)
	if err != nil {
		return nil, err
	}
	return memberClassEmbed(p, l.engine.ClassUnlockLevel()), nil
}

// syncRolesDeferred acknowledges the interaction before walking the guild,
// which can take longer than discord waits for a first response.
func (l *Leveling) syncRolesDeferred(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		l.log.Error().Err(err).Msg("unable to acknowledge syncroles")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), roleSyncTimeout)
	defer cancel()
	res, err := l.syncRoles(ctx)
	embed := roleSyncEmbed(res)
	if err != nil {
		l.log.Error().Err(err).Msg("role sync failed")
		msg, _ := describeError(err, l.engine.ClassUnlockLevel())
		embed = errorEmbed("Role Sync Failed", msg)
	}
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		l.log.Error().Err(err).Msg("unable to report role sync")
	}
}

// syncRoles re-applies rank and class roles to every member with XP. A
// member that cannot be synced, usually because they left, is counted and
// skipped.
func (l *Leveling) syncRoles(ctx context.Context) (roleSyncResult, error) {
	var res roleSyncResult
	standings, err := l.engine.Standings(ctx, l.guildSnowflake)
	if err != nil {
		return res, err
	}
	for _, st := range standings {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		changed, err := syncMemberRoles(ctx, l.session, l.roles, l.guildSnowflake, st.UserID, st.Rank, st.Class)
		switch {
		case err != nil:
			res.Failed++
			l.log.Debug().Err(err).Str("user_id", st.UserID).Msg("unable to sync roles")
		case changed:
			res.Synced++
		default:
			res.Unchanged++
		}
	}
	l.log.Info().Int("synced", res.Synced).Int("unchanged", res.Unchanged).Int("failed", res.Failed).Msg("roles synced")
	return res, nil
}

func (l *Leveling) daily(ctx context.Context, userID string) (*discordgo.MessageEmbed, error) {
	res, err := l.engine.ClaimDaily(ctx, l.guildSnowflake, userID)
	if err != nil {
		return nil, err
	}
	if res.Stored {
		return successEmbed("Daily Stored", fmt.Sprintf("Mana stored: **%d/%d** credits. Use /claimstored to release them.", res.StoredCredits, classes.MaxStoredDailies)), nil
	}
	desc := fmt.Sprintf("You claimed **%d XP**!", res.XP)
	if res.Streak > 0 {
		desc += fmt.Sprintf("\nStreak: **%d** days", res.Streak)
	}
	return successEmbed("Daily Reward Claimed!", desc), nil
}

func (l *Leveling) claimStored(ctx context.Context, userID string) (*discordgo.MessageEmbed, error) {
	res, err := l.engine.ClaimStored(ctx, l.guildSnowflake, userID)
	if err != nil {
		return nil, err
	}
	return successEmbed("Mana Released", fmt.Sprintf("Released **%d** stored dailies for **%d XP**!", res.Credits, res.XP)), nil
}

func (l *Leveling) chooseClass(ctx context.Context, s *discordgo.Session, userID, className string) (*discordgo.MessageEmbed, error) {
	class, err := l.engine.ChooseClass(ctx, l.guildSnowflake, userID, className)
	if err != nil {
		return nil, err
	}
	if roleID := l.roles.Class[class]; roleID != "" {
		if err := s.GuildMemberRoleAdd(l.guildSnowflake, userID, roleID, discordgo.WithContext(ctx)); err != nil {
			l.log.Warn().Err(err).Str("user_id", userID).Str("role_id", roleID).Msg("unable to grant class role")
		}
	}
	return successEmbed("Class Awakened", fmt.Sprintf("<@%s> has awakened as a **%s**.", userID, class)), nil
}

func (l *Leveling) setFocus(ctx context.Context, userID, channelID string) (*discordgo.MessageEmbed, error) {
	if err := l.engine.SetFocus(ctx, l.guildSnowflake, userID, channelID); err != nil {
		return nil, err
	}
	return successEmbed("Focus Set", fmt.Sprintf("You now earn double XP in <#%s>.", channelID)), nil
}

func (l *Leveling) profileEmbed(ctx context.Context, userID string) (*discordgo.MessageEmbed, error) {
	p, err := l.engine.Profile(ctx, l.guildSnowflake, userID)
	if err != nil {
		return nil, err
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Level", Value: fmt.Sprintf("%d", p.Level), Inline: true},
		{Name: "Rank", Value: p.Rank.String(), Inline: true},
		{Name: "Position", Value: fmt.Sprintf("#%d", p.Position), Inline: true},
		{Name: "Total XP", Value: fmt.Sprintf("%d", p.TotalXP), Inline: true},
		{Name: "Season XP", Value: fmt.Sprintf("%d", p.SeasonXP), Inline: true},
		{Name: "This Week", Value: fmt.Sprintf("%d", p.WeeklyXP), Inline: true},
		{Name: "Progress", Value: fmt.Sprintf("%s %d/%d", progressBar(p.IntoLevel, p.ForNext, 12), p.IntoLevel, p.ForNext)},
		{Name: "Class", Value: p.Class.String(), Inline: true},
		{Name: "Messages", Value: fmt.Sprintf("%d", p.Messages), Inline: true},
		{Name: "Voice", Value: formatSeconds(p.VoiceSeconds), Inline: true},
	}
	switch p.Class {
	case classes.Fighter:
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Daily Streak", Value: fmt.Sprintf("%d", p.DailyStreak), Inline: true})
	case classes.Mage:
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Stored Dailies", Value: fmt.Sprintf("%d/%d", p.StoredDailies, classes.MaxStoredDailies), Inline: true})
	case classes.Ranger:
		focus := "None"
		if p.FocusChannelID != "" {
			focus = "<#" + p.FocusChannelID + ">"
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Focus", Value: focus, Inline: true})
	}
	return &discordgo.MessageEmbed{
		Title:       "Hunter Profile",
		Description: fmt.Sprintf("<@%s>", userID),
		Color:       rankColor(p.Rank),
		Fields:      fields,
	}, nil
}

func (l *Leveling) leaderboardEmbed(ctx context.Context, board database.Board, page int) (*discordgo.MessageEmbed, error) {
	rows, err := l.engine.Leaderboard(ctx, l.guildSnowflake, board, page)
	if err != nil {
		return nil, err
	}
	title := boardTitle(board)
	if len(rows) == 0 {
		return errorEmbed(title, "No leaderboard data found!"), nil
	}
	lines := make([]string, len(rows))
	for idx, row := range rows {
		value := fmt.Sprintf("%d XP", row.Value)
		if board == database.BoardVoice {
			value = formatSeconds(row.Value)
		}
		lines[idx] = fmt.Sprintf("**%d.** <@%s> · Lv %d %s · %s", row.Position, row.UserID, row.Level, row.Rank, value)
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: strings.Join(lines, "\n"),
		Color:       colorSuccess,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Page %d", max(page, 1))},
	}, nil
}

func (l *Leveling) hallOfFameEmbed(ctx context.Context) (*discordgo.MessageEmbed, error) {
	seasons, err := l.engine.HallOfFame(ctx, l.guildSnowflake)
	if err != nil {
		return nil, err
	}
	if len(seasons) == 0 {
		return errorEmbed("Hall of Fame", "No season has ended yet."), nil
	}
	fields := make([]*discordgo.MessageEmbedField, len(seasons))
	for idx, season := range seasons {
		fields[idx] = &discordgo.MessageEmbedField{Name: season.Name, Value: podium(season.Winners)}
	}
	return &discordgo.MessageEmbed{Title: "Hall of Fame", Color: colorGold, Fields: fields}, nil
}

func (l *Leveling) statsEmbed(ctx context.Context) (*discordgo.MessageEmbed, error) {
	st, err := l.engine.ServerStats(ctx, l.guildSnowflake)
	if err != nil {
		return nil, err
	}
	return &discordgo.MessageEmbed{
		Title: "Server Statistics",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Hunters", Value: fmt.Sprintf("%d", st.Members), Inline: true},
			{Name: "Total XP", Value: fmt.Sprintf("%d", st.TotalXP), Inline: true},
			{Name: "Messages", Value: fmt.Sprintf("%d", st.Messages), Inline: true},
			{Name: "Voice Time", Value: formatSeconds(st.VoiceSeconds), Inline: true},
		},
	}, nil
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func isAdmin(m *discordgo.Member) bool {
	return m != nil && m.Permissions&discordgo.PermissionAdministrator != 0
}
