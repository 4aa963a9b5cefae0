package database

import (
	"gorm.io/datatypes"
)

// UserProgress is a member's standing within one guild. Rows are created
// lazily on the first write that touches the member.
type UserProgress struct {
	UserID  string `gorm:"column:user_id;primaryKey"`
	GuildID string `gorm:"column:guild_id;primaryKey"`

	TotalXP      int64     `gorm:"column:xp"`
	SeasonXP     int64     `gorm:"column:monthly_xp"`
	Messages     int64     `gorm:"column:messages"`
	VoiceSeconds int64     `gorm:"column:voice_time"`
	LastXPAt     Timestamp `gorm:"column:last_xp_time"`
	LastDailyAt  Timestamp `gorm:"column:last_daily"`

	// Class is set at most once.
	Class              *string   `gorm:"column:class"`
	DailyStreak        int       `gorm:"column:daily_streak"`
	StoredDailies      int       `gorm:"column:stored_dailies"`
	LastMentionBonusAt Timestamp `gorm:"column:last_mention_xp"`
	FocusChannelID     *string   `gorm:"column:focus_channel"`
	FocusSetAt         Timestamp `gorm:"column:focus_channel_set"`
	MessageCombo       int       `gorm:"column:message_combo"`
	LastMessageAt      Timestamp `gorm:"column:last_message_time"`
}

func (UserProgress) TableName() string { return "users" }

// ClassName returns the chosen class or an empty string.
func (u *UserProgress) ClassName() string {
	if u.Class == nil {
		return ""
	}
	return *u.Class
}

// FocusChannel returns the focus channel or an empty string.
func (u *UserProgress) FocusChannel() string {
	if u.FocusChannelID == nil {
		return ""
	}
	return *u.FocusChannelID
}

// GuildConfig holds the admin-tunable settings of one guild.
type GuildConfig struct {
	GuildID string `gorm:"column:guild_id;primaryKey"`

	XPMin           int     `gorm:"column:xp_min"`
	XPMax           int     `gorm:"column:xp_max"`
	CooldownSeconds int     `gorm:"column:xp_cooldown"`
	VoiceXPEnabled  bool    `gorm:"column:voice_xp_enabled"`
	VoiceXPRate     int     `gorm:"column:voice_xp_rate"`
	DailyEnabled    bool    `gorm:"column:daily_enabled"`
	DailyReward     int     `gorm:"column:daily_reward"`
	LevelUpMessages bool    `gorm:"column:levelup_messages"`
	LevelUpChannel  *string `gorm:"column:levelup_channel"`
	PrefixCommands  bool    `gorm:"column:prefix_commands_enabled"`
	Formula         *string `gorm:"column:xp_formula"`

	Blacklist       datatypes.JSON `gorm:"column:blacklisted_channels"`
	Whitelist       datatypes.JSON `gorm:"column:whitelisted_channels"`
	RoleMultipliers datatypes.JSON `gorm:"column:role_multipliers"`
}

func (GuildConfig) TableName() string { return "guild_settings" }

// XPHistoryEntry is an append-only ledger row written for every XP grant.
type XPHistoryEntry struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string    `gorm:"column:user_id"`
	GuildID   string    `gorm:"column:guild_id"`
	XP        int64     `gorm:"column:xp"`
	Timestamp Timestamp `gorm:"column:timestamp"`
	Source    string    `gorm:"column:source"`
}

func (XPHistoryEntry) TableName() string { return "xp_history" }

// SeasonRecord freezes a finished season's winners. Rows are never updated.
type SeasonRecord struct {
	GuildID  string         `gorm:"column:guild_id;primaryKey"`
	SeasonID string         `gorm:"column:season_id;primaryKey"`
	Winners  datatypes.JSON `gorm:"column:winners"`
	EndedAt  Timestamp      `gorm:"column:ended_at"`
}

func (SeasonRecord) TableName() string { return "seasons" }
