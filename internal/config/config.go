// Package config loads the bot's settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	// Discord
	DiscordToken string `env:"DISCORD_TOKEN" validate:"required"`
	DiscordAppID string `env:"DISCORD_APP_ID"`

	// Storage
	DatabasePath     string        `env:"DATABASE_PATH" envDefault:"system.db" validate:"required"`
	WriteQueueSize   int           `env:"WRITE_QUEUE_SIZE" envDefault:"1024" validate:"min=1"`
	WriteMaxAttempts int           `env:"WRITE_MAX_ATTEMPTS" envDefault:"5" validate:"min=1"`
	WriteBaseBackoff time.Duration `env:"WRITE_BASE_BACKOFF" envDefault:"100ms" validate:"gt=0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`

	// Admin HTTP API
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	AdminToken string `env:"ADMIN_TOKEN"`

	// Leveling
	BurstWindow         time.Duration `env:"BURST_WINDOW" envDefault:"10s" validate:"gt=0"`
	BurstThreshold      int           `env:"BURST_THRESHOLD" envDefault:"5" validate:"min=1"`
	LevelUpDedupeTTL    time.Duration `env:"LEVELUP_DEDUPE_TTL" envDefault:"5s" validate:"gt=0"`
	SettingsCacheTTL    time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"10m" validate:"gt=0"`
	ClassUnlockLevel    int           `env:"CLASS_UNLOCK_LEVEL" envDefault:"10" validate:"min=1"`
	VoiceTickInterval   time.Duration `env:"VOICE_TICK_INTERVAL" envDefault:"5m" validate:"gte=1m"`
	SeasonCheckInterval time.Duration `env:"SEASON_CHECK_INTERVAL" envDefault:"1h" validate:"gt=0"`
	HistoryRetention    time.Duration `env:"HISTORY_RETENTION" envDefault:"2160h" validate:"gte=0"`
	ExternalTimeout     time.Duration `env:"EXTERNAL_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	// Website sync; disabled unless all three are set.
	SupabaseURL   string `env:"SUPABASE_URL" validate:"omitempty,url"`
	SupabaseKey   string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	BotSyncSecret string `env:"BOT_SYNC_SECRET"`

	// Role mapping, e.g. RANK_ROLES="S-RANK:123,A-RANK:456".
	RankRoles          map[string]string `env:"RANK_ROLES" envKeyValSeparator:":"`
	ClassRoles         map[string]string `env:"CLASS_ROLES" envKeyValSeparator:":"`
	SeasonChampionRole string            `env:"SEASON_CHAMPION_ROLE"`
}

// Load reads envFile when present, then the process environment, which
// takes precedence.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unable to read %s: %w", envFile, err)
		}
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("unable to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q", fe.Namespace(), strings.TrimSpace(fe.Tag()+" "+fe.Param()))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid configuration: LOG_LEVEL: %w", err)
	}
	return nil
}

func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
