package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabasePath != "system.db" || cfg.HTTPAddr != ":8080" || cfg.LogFormat != "console" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.VoiceTickInterval != 5*time.Minute || cfg.HistoryRetention != 90*24*time.Hour {
		t.Errorf("durations: voice %v retention %v", cfg.VoiceTickInterval, cfg.HistoryRetention)
	}
	if cfg.ClassUnlockLevel != 10 || cfg.BurstThreshold != 5 {
		t.Errorf("leveling defaults: %+v", cfg)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Errorf("level = %v", cfg.Level())
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "DiscordToken") {
		t.Fatalf("err = %v, want a DiscordToken error", err)
	}
}

func TestLoadRoleMaps(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("RANK_ROLES", "S-RANK:111,A-RANK:222")
	t.Setenv("CLASS_ROLES", "MAGE:333")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"S-RANK": "111", "A-RANK": "222"}, cfg.RankRoles); diff != "" {
		t.Errorf("rank roles (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"MAGE": "333"}, cfg.ClassRoles); diff != "" {
		t.Errorf("class roles (-want +got):\n%s", diff)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HUNTERXP_TEST_FILE_ONLY=1\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISCORD_TOKEN", "token")
	// Set first so the file cannot override it and the test restores it.
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("HUNTERXP_TEST_FILE_ONLY", "")
	os.Unsetenv("HUNTERXP_TEST_FILE_ONLY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Level() != zerolog.WarnLevel {
		t.Errorf("environment should win over the file, level = %v", cfg.Level())
	}
	if os.Getenv("HUNTERXP_TEST_FILE_ONLY") != "1" {
		t.Error("values only in the file were not loaded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"log format", "LOG_FORMAT", "xml"},
		{"log level", "LOG_LEVEL", "loud"},
		{"voice tick", "VOICE_TICK_INTERVAL", "10s"},
		{"burst threshold", "BURST_THRESHOLD", "0"},
		{"sync url", "SUPABASE_URL", "not a url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DISCORD_TOKEN", "token")
			t.Setenv(tc.key, tc.val)
			if _, err := Load(""); err == nil {
				t.Errorf("%s=%q accepted", tc.key, tc.val)
			}
		})
	}
}
