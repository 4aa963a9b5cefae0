// Package jobs runs the periodic work behind the bot: voice ticks, the
// monthly season close, ledger pruning and cache sweeps.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/leveling"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// VoiceTicker credits everyone currently in a voice channel.
type VoiceTicker interface {
	VoiceTick(ctx context.Context, interval time.Duration) error
}

type Options struct {
	VoiceInterval  time.Duration
	SeasonInterval time.Duration
	PruneInterval  time.Duration
	SweepInterval  time.Duration
	// RunTimeout bounds a single run of any job.
	RunTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		VoiceInterval:  5 * time.Minute,
		SeasonInterval: time.Hour,
		PruneInterval:  24 * time.Hour,
		SweepInterval:  10 * time.Minute,
		RunTimeout:     2 * time.Minute,
	}
}

type Scheduler struct {
	sched  gocron.Scheduler
	engine *leveling.Engine
	voice  VoiceTicker
	opts   Options
	log    *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New registers every job. Nothing runs until Start. voice may be nil, in
// which case no voice tick is scheduled.
func New(engine *leveling.Engine, voice VoiceTicker, opts Options, log *zerolog.Logger) (*Scheduler, error) {
	def := DefaultOptions()
	if opts.VoiceInterval <= 0 {
		opts.VoiceInterval = def.VoiceInterval
	}
	if opts.SeasonInterval <= 0 {
		opts.SeasonInterval = def.SeasonInterval
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = def.PruneInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = def.RunTimeout
	}

	l := log.With().Str("component", "jobs").Logger()
	sched, err := gocron.NewScheduler(
		gocron.WithLogger(logger{&l}),
		gocron.WithGlobalJobOptions(gocron.WithSingletonMode(gocron.LimitModeReschedule)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, engine: engine, voice: voice, opts: opts, log: &l, ctx: ctx, cancel: cancel}

	type job struct {
		name      string
		every     time.Duration
		immediate bool
		run       func(context.Context) error
	}
	list := []job{
		{"season-check", opts.SeasonInterval, true, s.seasonCheck},
		{"prune-history", opts.PruneInterval, false, s.engine.PruneHistory},
		{"sweep", opts.SweepInterval, false, s.sweep},
	}
	if voice != nil {
		list = append(list, job{"voice-tick", opts.VoiceInterval, false, s.voiceTick})
	}
	for _, j := range list {
		jobOpts := []gocron.JobOption{gocron.WithName(j.name)}
		if j.immediate {
			jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
		}
		if _, err := sched.NewJob(gocron.DurationJob(j.every), gocron.NewTask(s.wrap(j.name, j.run)), jobOpts...); err != nil {
			cancel()
			_ = sched.Shutdown()
			return nil, fmt.Errorf("unable to schedule %s: %w", j.name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	s.log.Info().Int("jobs", len(s.sched.Jobs())).Msg("scheduler started")
}

// Shutdown cancels running jobs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("unable to stop scheduler: %w", err)
	}
	return nil
}

// wrap gives each run its own deadline and logs failures.
func (s *Scheduler) wrap(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RunTimeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("job finished")
	}
}

func (s *Scheduler) voiceTick(ctx context.Context) error {
	return s.voice.VoiceTick(ctx, s.opts.VoiceInterval)
}

func (s *Scheduler) seasonCheck(ctx context.Context) error {
	results, err := s.engine.SeasonCheck(ctx)
	for _, r := range results {
		s.log.Info().Str("guild_id", r.GuildID).Str("season", r.SeasonID).Int("winners", len(r.Winners)).Msg("season closed")
	}
	return err
}

func (s *Scheduler) sweep(context.Context) error {
	s.engine.Sweep()
	return nil
}

// logger adapts zerolog to gocron's key/value logger.
type logger struct{ l *zerolog.Logger }

func (g logger) Debug(msg string, args ...any) { g.l.Debug().Fields(args).Msg(msg) }
func (g logger) Info(msg string, args ...any) { g.l.Info().Fields(args).Msg(msg) }
func (g logger) Warn(msg string, args ...any) { g.l.Warn().Fields(args).Msg(msg) }
func (g logger) Error(msg string, args ...any) { g.l.Error().Fields(args).Msg(msg) }
