package leveling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/database"
	"github.com/code-wolf-byte/hunterxp/internal/formula"
	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// formulaSampleLevel is where a new formula is test-evaluated before it is
// accepted.
const formulaSampleLevel = 10

// Settings is the admin-tunable configuration of one guild.
type Settings struct {
	XPMin           int                `json:"xp_min" validate:"min=1,max=100"`
	XPMax           int                `json:"xp_max" validate:"gtefield=XPMin,max=100"`
	CooldownSeconds int                `json:"xp_cooldown" validate:"min=0,max=300"`
	VoiceXPEnabled  bool               `json:"voice_xp_enabled"`
	VoiceXPRate     int                `json:"voice_xp_rate" validate:"min=0,max=50"`
	DailyEnabled    bool               `json:"daily_enabled"`
	DailyReward     int                `json:"daily_reward" validate:"min=0,max=10000"`
	LevelUpMessages bool               `json:"levelup_messages"`
	LevelUpChannel  string             `json:"levelup_channel"`
	PrefixCommands  bool               `json:"prefix_commands_enabled"`
	Formula         string             `json:"xp_formula"`
	Blacklist       []string           `json:"blacklisted_channels"`
	Whitelist       []string           `json:"whitelisted_channels"`
	RoleMultipliers map[string]float64 `json:"role_multipliers" validate:"dive,min=0.1,max=10"`
}

// DefaultSettings is what a guild runs with until an admin changes it.
func DefaultSettings() Settings {
	return Settings{
		XPMin:           15,
		XPMax:           25,
		CooldownSeconds: 60,
		VoiceXPEnabled:  true,
		VoiceXPRate:     5,
		DailyEnabled:    true,
		DailyReward:     500,
		LevelUpMessages: true,
		PrefixCommands:  true,
		Blacklist:       []string{},
		Whitelist:       []string{},
		RoleMultipliers: map[string]float64{},
	}
}

func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownSeconds) * time.Second
}

// FormulaSource returns the formula in effect, falling back to the default.
func (s Settings) FormulaSource() string {
	if s.Formula == "" {
		return formula.Default
	}
	return s.Formula
}

func (s Settings) clone() Settings {
	c := s
	c.Blacklist = slices.Clone(s.Blacklist)
	c.Whitelist = slices.Clone(s.Whitelist)
	c.RoleMultipliers = make(map[string]float64, len(s.RoleMultipliers))
	for k, v := range s.RoleMultipliers {
		c.RoleMultipliers[k] = v
	}
	return c
}

// Patch is a partial settings update; nil fields are left unchanged.
type Patch struct {
	XPMin           *int               `json:"xp_min"`
	XPMax           *int               `json:"xp_max"`
	CooldownSeconds *int               `json:"xp_cooldown"`
	VoiceXPEnabled  *bool              `json:"voice_xp_enabled"`
	VoiceXPRate     *int               `json:"voice_xp_rate"`
	DailyEnabled    *bool              `json:"daily_enabled"`
	DailyReward     *int               `json:"daily_reward"`
	LevelUpMessages *bool              `json:"levelup_messages"`
	LevelUpChannel  *string            `json:"levelup_channel"`
	PrefixCommands  *bool              `json:"prefix_commands_enabled"`
	Formula         *string            `json:"xp_formula"`
	Blacklist       []string           `json:"blacklisted_channels"`
	Whitelist       []string           `json:"whitelisted_channels"`
	RoleMultipliers map[string]float64 `json:"role_multipliers"`
}

// apply copies the set fields onto s and returns the touched columns.
func (p Patch) apply(s *Settings) []string {
	var cols []string
	set := func(col string, ok bool, fn func()) {
		if ok {
			fn()
			cols = append(cols, col)
		}
	}
	set("xp_min", p.XPMin != nil, func() { s.XPMin = *p.XPMin })
	set("xp_max", p.XPMax != nil, func() { s.XPMax = *p.XPMax })
	set("xp_cooldown", p.CooldownSeconds != nil, func() { s.CooldownSeconds = *p.CooldownSeconds })
	set("voice_xp_enabled", p.VoiceXPEnabled != nil, func() { s.VoiceXPEnabled = *p.VoiceXPEnabled })
	set("voice_xp_rate", p.VoiceXPRate != nil, func() { s.VoiceXPRate = *p.VoiceXPRate })
	set("daily_enabled", p.DailyEnabled != nil, func() { s.DailyEnabled = *p.DailyEnabled })
	set("daily_reward", p.DailyReward != nil, func() { s.DailyReward = *p.DailyReward })
	set("levelup_messages", p.LevelUpMessages != nil, func() { s.LevelUpMessages = *p.LevelUpMessages })
	set("levelup_channel", p.LevelUpChannel != nil, func() { s.LevelUpChannel = *p.LevelUpChannel })
	set("prefix_commands_enabled", p.PrefixCommands != nil, func() { s.PrefixCommands = *p.PrefixCommands })
	set("xp_formula", p.Formula != nil, func() { s.Formula = strings.TrimSpace(*p.Formula) })
	set("blacklisted_channels", p.Blacklist != nil, func() { s.Blacklist = dedupe(p.Blacklist) })
	set("whitelisted_channels", p.Whitelist != nil, func() { s.Whitelist = dedupe(p.Whitelist) })
	set("role_multipliers", p.RoleMultipliers != nil, func() { s.RoleMultipliers = p.RoleMultipliers })
	return cols
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates s, compiling its formula as well. The first violation is
// reported.
func (e *Engine) check(s Settings) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Field(), Constraint: describe(verrs[0])}
		}
		return fmt.Errorf("unable to validate settings: %w", err)
	}
	if s.Formula == "" {
		return nil
	}
	expr, err := e.formulas.Compile(s.Formula)
	if err != nil {
		return &ValidationError{Field: "xp_formula", Constraint: err.Error()}
	}
	if _, err := expr.Evaluate(formulaSampleLevel); err != nil {
		return &ValidationError{Field: "xp_formula", Constraint: err.Error()}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be below xp_min"
	}
	return fmt.Sprintf("failed %s %s", fe.Tag(), fe.Param())
}

func settingsFromConfig(c *database.GuildConfig) Settings {
	s := Settings{
		XPMin:           c.XPMin,
		XPMax:           c.XPMax,
		CooldownSeconds: c.CooldownSeconds,
		VoiceXPEnabled:  c.VoiceXPEnabled,
		VoiceXPRate:     c.VoiceXPRate,
		DailyEnabled:    c.DailyEnabled,
		DailyReward:     c.DailyReward,
		LevelUpMessages: c.LevelUpMessages,
		PrefixCommands:  c.PrefixCommands,
		Blacklist:       decodeIDs(c.Blacklist),
		Whitelist:       decodeIDs(c.Whitelist),
		RoleMultipliers: decodeMultipliers(c.RoleMultipliers),
	}
	if c.LevelUpChannel != nil {
		s.LevelUpChannel = *c.LevelUpChannel
	}
	if c.Formula != nil {
		s.Formula = strings.TrimSpace(*c.Formula)
	}
	return s
}

func (s Settings) record(guildID string) database.GuildConfig {
	c := database.GuildConfig{
		GuildID:         guildID,
		XPMin:           s.XPMin,
		XPMax:           s.XPMax,
		CooldownSeconds: s.CooldownSeconds,
		VoiceXPEnabled:  s.VoiceXPEnabled,
		VoiceXPRate:     s.VoiceXPRate,
		DailyEnabled:    s.DailyEnabled,
		DailyReward:     s.DailyReward,
		LevelUpMessages: s.LevelUpMessages,
		PrefixCommands:  s.PrefixCommands,
		Blacklist:       encodeJSON(s.Blacklist, "[]"),
		Whitelist:       encodeJSON(s.Whitelist, "[]"),
		RoleMultipliers: encodeJSON(s.RoleMultipliers, "{}"),
	}
	if s.LevelUpChannel != "" {
		c.LevelUpChannel = &s.LevelUpChannel
	}
	if s.Formula != "" {
		c.Formula = &s.Formula
	}
	return c
}

func encodeJSON(v any, empty string) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return datatypes.JSON(empty)
	}
	return datatypes.JSON(b)
}

// decodeIDs reads a channel list. Older rows may hold numeric ids.
func decodeIDs(raw datatypes.JSON) []string {
	ids := []string{}
	if len(raw) == 0 {
		return ids
	}
	var items []any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return ids
	}
	for _, item := range items {
		switch v := item.(type) {
		case string:
			ids = append(ids, v)
		case json.Number:
			ids = append(ids, v.String())
		}
	}
	return ids
}

func decodeMultipliers(raw datatypes.JSON) map[string]float64 {
	out := map[string]float64{}
	if len(raw) == 0 {
		return out
	}
	var items map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return out
	}
	for role, item := range items {
		switch v := item.(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				out[role] = f
			}
		case float64:
			out[role] = v
		}
	}
	return out
}

type cachedSettings struct {
	settings Settings
	expires  time.Time
}

// settingsCache keeps each guild's settings for a fixed TTL. Admin writes
// replace the entry directly.
type settingsCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedSettings
}

func newSettingsCache(ttl time.Duration) *settingsCache {
	return &settingsCache{ttl: ttl, entries: make(map[string]cachedSettings)}
}

func (c *settingsCache) get(guildID string, now time.Time) (Settings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[guildID]
	if !ok || !now.Before(e.expires) {
		return Settings{}, false
	}
	return e.settings.clone(), true
}

func (c *settingsCache) put(guildID string, s Settings, now time.Time) {
	c.mu.Lock()
	c.entries[guildID] = cachedSettings{settings: s.clone(), expires: now.Add(c.ttl)}
	c.mu.Unlock()
}

// Settings returns the guild's settings, defaults included for guilds that
// never saved any.
func (e *Engine) Settings(ctx context.Context, guildID string) (Settings, error) {
	now := e.now()
	if s, ok := e.settings.get(guildID, now); ok {
		return s, nil
	}
	s, err := e.loadSettings(ctx, guildID)
	if err != nil {
		return Settings{}, err
	}
	e.settings.put(guildID, s, now)
	return s, nil
}

func (e *Engine) loadSettings(ctx context.Context, guildID string) (Settings, error) {
	cfg, err := e.store.GuildConfig(ctx, guildID)
	if errors.Is(err, database.ErrNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return settingsFromConfig(cfg), nil
}

// UpdateSettings validates and applies a partial update. Nothing is written
// when validation fails.
func (e *Engine) UpdateSettings(ctx context.Context, guildID string, p Patch) (Settings, error) {
	return e.mutateSettings(ctx, guildID, func(s *Settings) ([]string, error) {
		return p.apply(s), nil
	})
}

func (e *Engine) BlacklistChannel(ctx context.Context, guildID, channelID string) (Settings, error) {
	return e.mutateSettings(ctx, guildID, func(s *Settings) ([]string, error) {
		s.Blacklist = dedupe(append(s.Blacklist, channelID))
		return []string{"blacklisted_channels"}, nil
	})
}

func (e *Engine) UnblacklistChannel(ctx context.Context, guildID, channelID string) (Settings, error) {
	return e.mutateSettings(ctx, guildID, func(s *Settings) ([]string, error) {
		s.Blacklist = slices.DeleteFunc(s.Blacklist, func(id string) bool { return id == channelID })
		return []string{"blacklisted_channels"}, nil
	})
}

func (e *Engine) WhitelistChannel(ctx context.Context, guildID, channelID string) (Settings, error) {
	return e.mutateSettings(ctx, guildID, func(s *Settings) ([]string, error) {
		s.Whitelist = dedupe(append(s.Whitelist, channelID))
		return []string{"whitelisted_channels"}, nil
	})
}

func (e *Engine) UnwhitelistChannel(ctx context.Context, guildID, channelID string) (Settings, error) {
	return e.mutateSettings(ctx, guildID, func(s *Settings) ([]string, error) {
		s.Whitelist = slices.DeleteFunc(s.Whitelist, func(id string) bool { return id == channelID })
		return []string{"whitelisted_channels"}, nil
	})
}

func (e *Engine) ClearWhitelist(ctx context.Context, guildID string) (Settings, error) {
	return e.mutateSettings(ctx, guildID, func(s *Settings) ([]string, error) {
		s.Whitelist = []string{}
		return []string{"whitelisted_channels"}, nil
	})
}

func (e *Engine) SetRoleMultiplier(ctx context.Context, guildID, roleID string, multiplier float64) (Settings, error) {
	return e.mutateSettings(ctx, guildID, func(s *Settings) ([]string, error) {
		s.RoleMultipliers[roleID] = multiplier
		return []string{"role_multipliers"}, nil
	})
}

func (e *Engine) RemoveRoleMultiplier(ctx context.Context, guildID, roleID string) (Settings, error) {
	return e.mutateSettings(ctx, guildID, func(s *Settings) ([]string, error) {
		delete(s.RoleMultipliers, roleID)
		return []string{"role_multipliers"}, nil
	})
}

// mutateSettings serialises admin edits so concurrent list changes never
// overwrite each other.
func (e *Engine) mutateSettings(ctx context.Context, guildID string, fn func(*Settings) ([]string, error)) (Settings, error) {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	current, err := e.Settings(ctx, guildID)
	if err != nil {
		return Settings{}, err
	}
	next := current.clone()
	cols, err := fn(&next)
	if err != nil {
		return Settings{}, err
	}
	if err := e.check(next); err != nil {
		return Settings{}, err
	}
	if err := e.store.SaveGuildConfig(ctx, next.record(guildID), cols); err != nil {
		return Settings{}, fmt.Errorf("unable to save settings: %w", err)
	}
	if next.FormulaSource() != current.FormulaSource() {
		e.calc.Invalidate(guildID)
	}
	e.settings.put(guildID, next, e.now())
	e.log.Info().Str("guild_id", guildID).Strs("fields", cols).Msg("guild settings updated")
	return next, nil
}
