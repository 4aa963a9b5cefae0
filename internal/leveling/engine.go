// Package leveling turns member activity into XP, levels and ranks for each
// guild, and owns every operation that changes a member's progress.
package leveling

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/classes"
	"github.com/code-wolf-byte/hunterxp/internal/database"
	"github.com/code-wolf-byte/hunterxp/internal/formula"
	"github.com/code-wolf-byte/hunterxp/internal/guard"
	"github.com/code-wolf-byte/hunterxp/internal/progression"
	"github.com/rs/zerolog"
)

// Ledger sources, also forwarded to the web sync.
const (
	SourceMessage = "discord_message"
	SourceVoice   = "discord_voice"
	SourceDaily   = "discord_daily"
	SourceStored  = "discord_stored_daily"
	SourceAdmin   = "discord_admin"
)

// Transition is a level change worth telling someone about.
type Transition struct {
	GuildID  string
	UserID   string
	OldLevel int
	NewLevel int
	OldRank  progression.Rank
	NewRank  progression.Rank
	// RankChanged marks a rank-up; otherwise this is a plain level-up.
	RankChanged bool
	Forced      bool
	// ChannelID is where the triggering activity happened, if anywhere.
	ChannelID string
	// Announce and AnnounceChannelID mirror the guild's level-up settings.
	Announce          bool
	AnnounceChannelID string
}

// SeasonResult describes a season that just ended.
type SeasonResult struct {
	GuildID  string
	SeasonID string
	Name     string
	Winners  []SeasonWinner
	EndedAt  time.Time
}

type SeasonWinner struct {
	UserID   string
	SeasonXP int64
}

// Notifier receives transitions. Calls run in the background and their
// errors are only logged.
type Notifier interface {
	NotifyLevelUp(ctx context.Context, t Transition) error
	NotifyRankUp(ctx context.Context, t Transition) error
	NotifySeasonEnded(ctx context.Context, r SeasonResult) error
}

// Syncer mirrors progress to the web app. Calls run in the background and
// their errors are only logged.
type Syncer interface {
	SyncXPDelta(ctx context.Context, userID string, amount int64, source string) error
	SyncClassSelection(ctx context.Context, userID string, class classes.Class) error
}

// Rand is the randomness the engine consumes.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

type Options struct {
	ClassUnlockLevel int
	BurstWindow      time.Duration
	BurstThreshold   int
	DedupeTTL        time.Duration
	SettingsTTL      time.Duration
	ExternalTimeout  time.Duration
	HistoryRetention time.Duration

	Now  func() time.Time
	Rand Rand
}

func DefaultOptions() Options {
	return Options{
		ClassUnlockLevel: 10,
		BurstWindow:      10 * time.Second,
		BurstThreshold:   5,
		DedupeTTL:        5 * time.Second,
		SettingsTTL:      10 * time.Minute,
		ExternalTimeout:  10 * time.Second,
		HistoryRetention: 90 * 24 * time.Hour,
	}
}

// Deps are the collaborators an Engine is built from. Notifier and Syncer
// may be nil.
type Deps struct {
	Store      *database.Store
	Calculator *progression.Calculator
	Formulas   *formula.Cache
	Notifier   Notifier
	Syncer     Syncer
}

type Engine struct {
	store    *database.Store
	calc     *progression.Calculator
	formulas *formula.Cache
	notifier Notifier
	syncer   Syncer
	resolver *classes.Resolver
	opts     Options
	log      *zerolog.Logger

	window      *guard.Window
	cooldown    *guard.Cooldown
	duplicates  *guard.Duplicates
	transitions *transitionLog
	settings    *settingsCache
	voice       *voiceTracker

	adminMu sync.Mutex
	bg      sync.WaitGroup
}

func New(deps Deps, opts Options, log *zerolog.Logger) *Engine {
	def := DefaultOptions()
	if opts.ClassUnlockLevel <= 0 {
		opts.ClassUnlockLevel = def.ClassUnlockLevel
	}
	if opts.BurstWindow <= 0 {
		opts.BurstWindow = def.BurstWindow
	}
	if opts.BurstThreshold <= 0 {
		opts.BurstThreshold = def.BurstThreshold
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = def.DedupeTTL
	}
	if opts.SettingsTTL <= 0 {
		opts.SettingsTTL = def.SettingsTTL
	}
	if opts.ExternalTimeout <= 0 {
		opts.ExternalTimeout = def.ExternalTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = globalRand{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Syncer == nil {
		deps.Syncer = nopSyncer{}
	}

	l := log.With().Str("component", "leveling").Logger()
	return &Engine{
		store:       deps.Store,
		calc:        deps.Calculator,
		formulas:    deps.Formulas,
		notifier:    deps.Notifier,
		syncer:      deps.Syncer,
		resolver:    classes.NewResolver(opts.Rand),
		opts:        opts,
		log:         &l,
		window:      guard.NewWindow(opts.BurstThreshold, opts.BurstWindow),
		cooldown:    guard.NewCooldown(),
		duplicates:  guard.NewDuplicates(),
		transitions: newTransitionLog(opts.DedupeTTL),
		settings:    newSettingsCache(opts.SettingsTTL),
		voice:       newVoiceTracker(),
	}
}

// Close waits for background notifications and syncs, then stops the
// engine's sweepers. The store is owned by the caller.
func (e *Engine) Close() {
	e.bg.Wait()
	e.window.Close()
}

// Drain waits for background notifications and syncs started so far.
func (e *Engine) Drain() {
	e.bg.Wait()
}

// ClassUnlockLevel is the level at which members may choose a class.
func (e *Engine) ClassUnlockLevel() int {
	return e.opts.ClassUnlockLevel
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

// background runs fn detached from the caller with the external timeout.
func (e *Engine) background(op string, fn func(ctx context.Context) error) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.ExternalTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.log.Warn().Err(err).Str("op", op).Msg("background call failed")
		}
	}()
}

func (e *Engine) syncXP(userID string, amount int64, source string) {
	if amount <= 0 {
		return
	}
	e.background("sync xp", func(ctx context.Context) error {
		return e.syncer.SyncXPDelta(ctx, userID, amount, source)
	})
}

// progress reads a member's row, substituting an empty one for members
// that were never seen.
func (e *Engine) progress(ctx context.Context, guildID, userID string) (*database.UserProgress, error) {
	p, err := e.store.Progress(ctx, guildID, userID)
	if errors.Is(err, database.ErrNotFound) {
		return &database.UserProgress{GuildID: guildID, UserID: userID}, nil
	}
	return p, err
}

// level derives a level; formula failures are logged by the calculator and
// count as level 0.
func (e *Engine) level(guildID string, s Settings, total int64) int {
	return e.calc.LevelFromTotalXP(guildID, s.Formula, total)
}

type nopNotifier struct{}

func (nopNotifier) NotifyLevelUp(context.Context, Transition) error { return nil }
func (nopNotifier) NotifyRankUp(context.Context, Transition) error { return nil }
func (nopNotifier) NotifySeasonEnded(context.Context, SeasonResult) error { return nil }

type nopSyncer struct{}

func (nopSyncer) SyncXPDelta(context.Context, string, int64, string) error { return nil }
func (nopSyncer) SyncClassSelection(context.Context, string, classes.Class) error { return nil }
