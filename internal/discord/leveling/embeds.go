package leveling

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/code-wolf-byte/hunterxp/internal/database"
	xp "github.com/code-wolf-byte/hunterxp/internal/leveling"
	"github.com/code-wolf-byte/hunterxp/internal/progression"
)

const (
	colorError   = 0xFF0000
	colorSuccess = 0x00FF00
	colorInfo    = 0x5865F2
	colorGold    = 0xFFD700

	reactionBurst = "⏱️"
	reactionCrit  = "💥"
)

func (l *Leveling) reply(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		l.log.Error().Err(err).Str("command", i.ApplicationCommandData().Name).Msg("unable to respond to interaction")
	}
}

func successEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: colorSuccess}
}

func errorEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: colorError}
}

// describeError turns an engine error into text for the member. known is
// false for failures the member cannot act on.
func describeError(err error, unlockLevel int) (msg string, known bool) {
	var cd *xp.CooldownError
	var ve *xp.ValidationError
	switch {
	case errors.As(err, &cd):
		return fmt.Sprintf("You can use %s again in %s.", cd.Action, formatDuration(cd.Remaining)), true
	case errors.As(err, &ve):
		return fmt.Sprintf("Invalid `%s`: %s.", ve.Field, ve.Constraint), true
	case errors.Is(err, xp.ErrClassLocked):
		return fmt.Sprintf("Classes unlock at level %d. Keep hunting!", unlockLevel), true
	case errors.Is(err, xp.ErrClassAlreadyChosen):
		return "You have already chosen a class. The choice is permanent.", true
	case errors.Is(err, xp.ErrInvalidClass):
		return "That class does not exist.", true
	case errors.Is(err, xp.ErrNotRanger):
		return "Only Rangers can set a focus channel.", true
	case errors.Is(err, xp.ErrDailyDisabled):
		return "Daily rewards are disabled on this server.", true
	case errors.Is(err, xp.ErrStoredDailiesFull):
		return "Your mana is full. Use /claimstored before storing more dailies.", true
	case errors.Is(err, xp.ErrNoStoredDailies):
		return "You have no stored dailies to claim.", true
	case errors.Is(err, xp.ErrNotMage):
		return "Only Mages can store daily rewards.", true
	case errors.Is(err, xp.ErrNoSeasonData):
		return "Nobody earned season XP yet. Nothing to end.", true
	case errors.Is(err, xp.ErrSeasonEnded):
		return "This season has already ended.", true
	case errors.Is(err, xp.ErrUnknownBoard):
		return "Unknown leaderboard.", true
	}
	return "Something went wrong. Please try again later.", false
}

func settingsEmbed(s xp.Settings) *discordgo.MessageEmbed {
	onOff := func(b bool) string {
		if b {
			return "Enabled"
		}
		return "Disabled"
	}
	channels := func(ids []string) string {
		if len(ids) == 0 {
			return "None"
		}
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = "<#" + id + ">"
		}
		return strings.Join(out, " ")
	}
	levelUp := onOff(s.LevelUpMessages)
	if s.LevelUpChannel != "" {
		levelUp += " in <#" + s.LevelUpChannel + ">"
	}
	multipliers := "None"
	if len(s.RoleMultipliers) > 0 {
		roles := make([]string, 0, len(s.RoleMultipliers))
		for id := range s.RoleMultipliers {
			roles = append(roles, id)
		}
		sort.Strings(roles)
		lines := make([]string, len(roles))
		for i, id := range roles {
			lines[i] = fmt.Sprintf("<@&%s> ×%g", id, s.RoleMultipliers[id])
		}
		multipliers = strings.Join(lines, "\n")
	}
	return &discordgo.MessageEmbed{
		Title: "XP Settings",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Message XP", Value: fmt.Sprintf("%d-%d every %ds", s.XPMin, s.XPMax, s.CooldownSeconds), Inline: true},
			{Name: "Voice XP", Value: fmt.Sprintf("%s, %d XP/min", onOff(s.VoiceXPEnabled), s.VoiceXPRate), Inline: true},
			{Name: "Daily", Value: fmt.Sprintf("%s, %d XP", onOff(s.DailyEnabled), s.DailyReward), Inline: true},
			{Name: "Level-up Messages", Value: levelUp, Inline: true},
			{Name: "Prefix Commands", Value: onOff(s.PrefixCommands), Inline: true},
			{Name: "Formula", Value: "`" + s.FormulaSource() + "`"},
			{Name: "Blacklist", Value: channels(s.Blacklist)},
			{Name: "Whitelist", Value: channels(s.Whitelist)},
			{Name: "Role Multipliers", Value: multipliers},
		},
	}
}

func boardTitle(b database.Board) string {
	switch b {
	case database.BoardWeekly:
		return "Weekly Leaderboard"
	case database.BoardVoice:
		return "Voice Leaderboard"
	case database.BoardSeason:
		return "Season Leaderboard"
	}
	return "Leaderboard"
}

var medals = []string{"🥇", "🥈", "🥉"}

func podium(winners []xp.SeasonWinner) string {
	if len(winners) == 0 {
		return "No winners"
	}
	lines := make([]string, len(winners))
	for i, w := range winners {
		prefix := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			prefix = medals[i]
		}
		lines[i] = fmt.Sprintf("%s <@%s>", prefix, w.UserID)
		if w.SeasonXP > 0 {
			lines[i] += fmt.Sprintf(" · %d XP", w.SeasonXP)
		}
	}
	return strings.Join(lines, "\n")
}

func rankColor(r progression.Rank) int {
	switch r {
	case progression.RankS:
		return 0xFFD700
	case progression.RankA:
		return 0xE74C3C
	case progression.RankB:
		return 0x9B59B6
	case progression.RankC:
		return 0x3498DB
	case progression.RankD:
		return 0x2ECC71
	}
	return 0x95A5A6
}

// progressBar draws width cells, filled in proportion to into/total.
func progressBar(into, total int64, width int) string {
	filled := 0
	if total > 0 && into > 0 {
		filled = int(min(into*int64(width)/total, int64(width)))
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatSeconds(secs int64) string {
	return formatDuration(time.Duration(secs) * time.Second)
}

// formatDuration renders the two most significant units, e.g. "3h 20m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := int64(d / (24 * time.Hour))
	hours := int64(d/time.Hour) % 24
	minutes := int64(d/time.Minute) % 60
	seconds := int64(d/time.Second) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
