package leveling

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/code-wolf-byte/hunterxp/internal/database"
)

const prefix = "!"

// parsePrefix splits "!cmd args..." into a lowercase command and its
// arguments.
func parsePrefix(content string) (string, []string, bool) {
	if !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// handlePrefix answers the text commands when the guild allows them.
// handled is false for unknown commands and disabled guilds, so the
// message still counts as activity.
func (l *Leveling) handlePrefix(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, cmd string, args []string) (bool, error) {
	switch cmd {
	case "xp", "rank", "daily", "leaderboard", "lb":
	default:
		return false, nil
	}
	settings, err := l.engine.Settings(ctx, m.GuildID)
	if err != nil {
		return false, err
	}
	if !settings.PrefixCommands {
		return false, nil
	}

	var embed *discordgo.MessageEmbed
	switch cmd {
	case "xp", "rank":
		userID := m.Author.ID
		if len(m.Mentions) > 0 {
			userID = m.Mentions[0].ID
		}
		embed, err = l.profileEmbed(ctx, userID)
	case "daily":
		embed, err = l.daily(ctx, m.Author.ID)
	case "leaderboard", "lb":
		page := 1
		if len(args) > 0 {
			if n, convErr := strconv.Atoi(args[0]); convErr == nil {
				page = n
			}
		}
		embed, err = l.leaderboardEmbed(ctx, database.BoardTotal, page)
	}
	if err != nil {
		msg, known := describeError(err, l.engine.ClassUnlockLevel())
		embed = errorEmbed("Command Failed", msg)
		if known {
			err = nil
		}
	}
	if _, sendErr := s.ChannelMessageSendEmbed(m.ChannelID, embed, discordgo.WithContext(ctx)); sendErr != nil {
		return true, sendErr
	}
	return true, err
}
