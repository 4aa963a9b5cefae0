package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/code-wolf-byte/hunterxp/internal/api"
	"github.com/code-wolf-byte/hunterxp/internal/config"
	"github.com/code-wolf-byte/hunterxp/internal/database"
	discord "github.com/code-wolf-byte/hunterxp/internal/discord/leveling"
	"github.com/code-wolf-byte/hunterxp/internal/formula"
	"github.com/code-wolf-byte/hunterxp/internal/jobs"
	"github.com/code-wolf-byte/hunterxp/internal/leveling"
	"github.com/code-wolf-byte/hunterxp/internal/progression"
	"github.com/code-wolf-byte/hunterxp/internal/websync"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DatabasePath, &log)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("unable to close database")
		}
	}()

	writer := database.NewWriter(db, database.WriterOptions{
		QueueSize:   cfg.WriteQueueSize,
		MaxAttempts: cfg.WriteMaxAttempts,
		BaseBackoff: cfg.WriteBaseBackoff,
	}, &log)
	defer func() {
		if err := writer.Close(); err != nil {
			log.Error().Err(err).Msg("unable to drain write queue")
		}
	}()

	store := database.NewStore(db, writer)
	formulas := formula.NewCache()

	var syncer leveling.Syncer
	client, err := websync.New(websync.Options{
		BaseURL:    cfg.SupabaseURL,
		ServiceKey: cfg.SupabaseKey,
		BotSecret:  cfg.BotSyncSecret,
		Timeout:    cfg.ExternalTimeout,
	}, &log)
	switch {
	case errors.Is(err, websync.ErrNotConfigured):
		log.Info().Msg("web sync disabled")
	case err != nil:
		return err
	default:
		syncer = client
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("unable to create discord session: %w", err)
	}
	roles, err := discord.NewRoles(cfg.RankRoles, cfg.ClassRoles, cfg.SeasonChampionRole)
	if err != nil {
		return err
	}

	opts := leveling.DefaultOptions()
	opts.ClassUnlockLevel = cfg.ClassUnlockLevel
	opts.BurstWindow = cfg.BurstWindow
	opts.BurstThreshold = cfg.BurstThreshold
	opts.DedupeTTL = cfg.LevelUpDedupeTTL
	opts.SettingsTTL = cfg.SettingsCacheTTL
	opts.ExternalTimeout = cfg.ExternalTimeout
	opts.HistoryRetention = cfg.HistoryRetention

	engine := leveling.New(leveling.Deps{
		Store:      store,
		Calculator: progression.New(formulas, &log),
		Formulas:   formulas,
		Notifier:   discord.NewNotifier(session, roles, &log),
		Syncer:     syncer,
	}, opts, &log)
	defer engine.Close()

	bot := discord.NewBot(session, cfg.DiscordAppID, engine, roles, &log)
	if err := bot.Open(); err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close discord session")
		}
	}()

	sched, err := jobs.New(engine, bot, jobs.Options{
		VoiceInterval:  cfg.VoiceTickInterval,
		SeasonInterval: cfg.SeasonCheckInterval,
	}, &log)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Error().Err(err).Msg("unable to stop jobs")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(engine, cfg.AdminToken, &log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN is empty, admin routes will refuse every request")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("admin api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	log.Info().Msg("hunterxp running")
	err = g.Wait()
	log.Info().Msg("shutting down")
	return err
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level())
	if cfg.LogFormat == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}
