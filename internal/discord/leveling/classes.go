package leveling

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/code-wolf-byte/hunterxp/internal/classes"
	xp "github.com/code-wolf-byte/hunterxp/internal/leveling"
)

const colorClass = 0xFF6B6B

type classBlurb struct {
	emoji     string
	title     string
	perks     []string
	drawbacks []string
	playstyle string
}

var classBlurbs = map[classes.Class]classBlurb{
	classes.Tank: {
		emoji:     "🛡️",
		title:     "Endurance Specialist",
		perks:     []string{"1.8x voice XP", "Half the message cooldown"},
		drawbacks: []string{"0.9x message XP"},
		playstyle: "Voice chat grinder",
	},
	classes.Assassin: {
		emoji: "🗡️",
		title: "Precision Striker",
		perks: []string{
			"1.5x message XP",
			"15% chance for 2x XP",
			"Combo: +5% per message within 5 minutes, up to +20%",
		},
		drawbacks: []string{"0.8x voice XP"},
		playstyle: "Active chatter",
	},
	classes.Fighter: {
		emoji:     "⚔️",
		title:     "Balanced Warrior",
		perks:     []string{"1.2x XP from every source", "Daily streak: +5% per day, up to +25%", "Immune to the repeat penalty"},
		playstyle: "Consistent daily",
	},
	classes.Ranger: {
		emoji:     "🏹",
		title:     "Strategic Hunter",
		perks:     []string{"2x XP in your focus channel", "Focus can move once a week"},
		drawbacks: []string{"0.8x XP in other channels"},
		playstyle: "Strategic focus",
	},
	classes.Healer: {
		emoji: "💚",
		title: "Support Specialist",
		perks: []string{
			"1.5x daily rewards",
			"+25 XP for mentioning someone in a message of 20+ characters, every 5 minutes",
			"Voice aura: +5% voice XP for everyone else in your channel",
		},
		drawbacks: []string{"0.9x message and voice XP"},
		playstyle: "Community support",
	},
	classes.Mage: {
		emoji:     "🔮",
		title:     "Knowledge Seeker",
		perks:     []string{"1.4x XP for messages of 50+ characters", "Stores up to 3 dailies, released together at 1.5x"},
		drawbacks: []string{"0.7x XP for messages under 20 characters"},
		playstyle: "Long-form writer",
	},
}

func (b classBlurb) describe() string {
	var sb strings.Builder
	sb.WriteString("**Strengths:**\n")
	for _, p := range b.perks {
		fmt.Fprintf(&sb, "• %s\n", p)
	}
	if len(b.drawbacks) > 0 {
		sb.WriteString("\n**Weaknesses:**\n")
		for _, d := range b.drawbacks {
			fmt.Fprintf(&sb, "• %s\n", d)
		}
	}
	fmt.Fprintf(&sb, "\n**Playstyle:** %s", b.playstyle)
	return sb.String()
}

// classInfoEmbed lists every class in selection order.
func classInfoEmbed(unlockLevel int) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(classes.All))
	for _, c := range classes.All {
		b := classBlurbs[c]
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("%s %s · %s", b.emoji, c, b.title),
			Value:  b.describe(),
			Inline: true,
		})
	}
	return &discordgo.MessageEmbed{
		Title:       "Hunter Classes",
		Description: fmt.Sprintf("Unlock at **Level %d**. The choice is permanent.", unlockLevel),
		Color:       colorClass,
		Fields:      fields,
	}
}

// memberClassEmbed shows one member's class with the class state they have
// built up. Members without a class get a hint at what to do next.
func memberClassEmbed(p xp.Profile, unlockLevel int) *discordgo.MessageEmbed {
	if p.Class == classes.None {
		msg := fmt.Sprintf("<@%s> has not unlocked classes yet (Level %d needed).", p.UserID, unlockLevel)
		if p.Level >= unlockLevel {
			msg = fmt.Sprintf("<@%s> has not chosen a class yet. Use /chooseclass to pick one.", p.UserID)
		}
		return &discordgo.MessageEmbed{Title: "No Class", Description: msg, Color: colorInfo}
	}
	b := classBlurbs[p.Class]
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s · %s", b.emoji, p.Class, b.title),
		Description: fmt.Sprintf("<@%s>\n\n%s", p.UserID, b.describe()),
		Color:       colorClass,
	}
	switch p.Class {
	case classes.Fighter:
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Daily Streak", Value: fmt.Sprintf("%d days", p.DailyStreak), Inline: true})
	case classes.Mage:
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Stored Dailies", Value: fmt.Sprintf("%d/%d", p.StoredDailies, classes.MaxStoredDailies), Inline: true})
	case classes.Ranger:
		focus := "None"
		if p.FocusChannelID != "" {
			focus = "<#" + p.FocusChannelID + ">"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Focus", Value: focus, Inline: true})
	}
	return embed
}

// compareLeads summarises who is ahead on each stat; ties are left out.
func compareLeads(a, b xp.Profile) []string {
	var leads []string
	lead := func(x, y int64, what string) {
		switch {
		case x > y:
			leads = append(leads, fmt.Sprintf("<@%s> %s", a.UserID, what))
		case y > x:
			leads = append(leads, fmt.Sprintf("<@%s> %s", b.UserID, what))
		}
	}
	lead(a.TotalXP, b.TotalXP, "leads in total XP")
	lead(a.WeeklyXP, b.WeeklyXP, "leads this week")
	lead(a.Messages, b.Messages, "sent more messages")
	lead(a.VoiceSeconds, b.VoiceSeconds, "spent more time in voice")
	return leads
}

func compareEmbed(a, b xp.Profile) *discordgo.MessageEmbed {
	column := func(p xp.Profile) *discordgo.MessageEmbedField {
		value := fmt.Sprintf("<@%s>\nLevel %d · %s\n%d XP\nThis week: %d XP\nMessages: %d\nVoice: %s",
			p.UserID, p.Level, p.Rank, p.TotalXP, p.WeeklyXP, p.Messages, formatSeconds(p.VoiceSeconds))
		return &discordgo.MessageEmbedField{Name: fmt.Sprintf("#%d", p.Position), Value: value, Inline: true}
	}
	embed := &discordgo.MessageEmbed{
		Title:  "Hunter Comparison",
		Color:  colorInfo,
		Fields: []*discordgo.MessageEmbedField{column(a), column(b)},
	}
	if leads := compareLeads(a, b); len(leads) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Summary", Value: strings.Join(leads, "\n")})
	}
	return embed
}

// roleSyncResult counts the outcome of a guild-wide role sync.
type roleSyncResult struct {
	Synced    int
	Unchanged int
	Failed    int
}

func roleSyncEmbed(r roleSyncResult) *discordgo.MessageEmbed {
	embed := successEmbed("Role Sync Complete",
		fmt.Sprintf("Updated: **%d**\nAlready correct: **%d**\nFailed: **%d**", r.Synced, r.Unchanged, r.Failed))
	if r.Failed > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Members who left the server cannot be synced."}
	}
	return embed
}
