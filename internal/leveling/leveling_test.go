package leveling

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/classes"
	"github.com/code-wolf-byte/hunterxp/internal/database"
	"github.com/code-wolf-byte/hunterxp/internal/formula"
	"github.com/code-wolf-byte/hunterxp/internal/progression"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedRand struct {
	n int
	f float64
}

func (r fixedRand) IntN(int) int     { return r.n }
func (r fixedRand) Float64() float64 { return r.f }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type syncedXP struct {
	UserID string
	Amount int64
	Source string
}

type recorder struct {
	mu       sync.Mutex
	levelUps []Transition
	rankUps  []Transition
	seasons  []SeasonResult
	xp       []syncedXP
	classes  []classes.Class
}

func (r *recorder) NotifyLevelUp(_ context.Context, t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levelUps = append(r.levelUps, t)
	return nil
}

func (r *recorder) NotifyRankUp(_ context.Context, t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rankUps = append(r.rankUps, t)
	return nil
}

func (r *recorder) NotifySeasonEnded(_ context.Context, s SeasonResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seasons = append(r.seasons, s)
	return nil
}

func (r *recorder) SyncXPDelta(_ context.Context, userID string, amount int64, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.xp = append(r.xp, syncedXP{userID, amount, source})
	return nil
}

func (r *recorder) SyncClassSelection(_ context.Context, _ string, c classes.Class) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes = append(r.classes, c)
	return nil
}

type harness struct {
	*Engine
	store *database.Store
	rec   *recorder
	clock *clock
}

func newHarness(t *testing.T, rnd Rand) *harness {
	t.Helper()
	l := zerolog.Nop()
	ctx := context.Background()
	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "hunterxp.db"), &l)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close(db) })
	w := database.NewWriter(db, database.WriterOptions{}, &l)
	t.Cleanup(func() { w.Close() })

	store := database.NewStore(db, w)
	formulas := formula.NewCache()
	rec := &recorder{}
	clk := &clock{t: t0}
	opts := DefaultOptions()
	opts.Now = clk.Now
	opts.Rand = rnd
	e := New(Deps{
		Store:      store,
		Calculator: progression.New(formulas, &l),
		Formulas:   formulas,
		Notifier:   rec,
		Syncer:     rec,
	}, opts, &l)
	t.Cleanup(e.Close)
	return &harness{Engine: e, store: store, rec: rec, clock: clk}
}

func (h *harness) message(t *testing.T, user, channel, text string) Outcome {
	t.Helper()
	out, err := h.OnMessageActivity(context.Background(), MessageActivity{GuildID: "g", UserID: user, ChannelID: channel, Text: text})
	if err != nil {
		t.Fatalf("OnMessageActivity: %v", err)
	}
	return out
}

func (h *harness) total(t *testing.T, user string) int64 {
	t.Helper()
	ctx := context.Background()
	if err := h.store.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	p, err := h.store.Progress(ctx, "g", user)
	if err != nil {
		t.Fatal(err)
	}
	return p.TotalXP
}

func (h *harness) noCooldown(t *testing.T) {
	t.Helper()
	zero := 0
	if _, err := h.UpdateSettings(context.Background(), "g", Patch{CooldownSeconds: &zero}); err != nil {
		t.Fatal(err)
	}
}

// promote lifts a member to level 10 and picks a class.
func (h *harness) promote(t *testing.T, user string, c classes.Class) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.SetXP(ctx, "g", user, 5500); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ChooseClass(ctx, "g", user, string(c)); err != nil {
		t.Fatal(err)
	}
}

func TestFirstMessageOfNewMember(t *testing.T) {
	h := newHarness(t, fixedRand{n: 5, f: 0.99})

	out := h.message(t, "u", "c", "hello there")
	if out.Suppressed != "" || out.Gain != 20 || out.Transition != nil {
		t.Fatalf("outcome = %+v, want 20 xp and no transition", out)
	}
	if got := h.total(t, "u"); got != 20 {
		t.Errorf("stored xp = %d, want 20", got)
	}
	h.Drain()
	if diff := cmp.Diff([]syncedXP{{"u", 20, SourceMessage}}, h.rec.xp); diff != "" {
		t.Errorf("synced xp (-want +got):\n%s", diff)
	}
}

func TestCooldownGate(t *testing.T) {
	h := newHarness(t, fixedRand{n: 0, f: 0.99})

	if out := h.message(t, "u", "c", "one"); out.Gain != 15 {
		t.Fatalf("first message gain = %d, want 15", out.Gain)
	}
	h.clock.Advance(59 * time.Second)
	if out := h.message(t, "u", "c", "two"); out.Suppressed != SuppressedCooldown {
		t.Errorf("message one second early: %+v, want cooldown", out)
	}
	h.clock.Advance(time.Second)
	if out := h.message(t, "u", "c", "three"); out.Suppressed != "" {
		t.Errorf("message at the cooldown boundary: %+v, want granted", out)
	}
}

func TestConcurrentMessagesGrantOnce(t *testing.T) {
	h := newHarness(t, fixedRand{n: 0, f: 0.99})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.OnMessageActivity(context.Background(), MessageActivity{
				GuildID: "g", UserID: "u", ChannelID: "c", Text: string(rune('a' + i)),
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := h.total(t, "u"); got != 15 {
		t.Errorf("stored xp = %d, want a single 15 xp grant", got)
	}
}

func TestTankCooldownIsHalved(t *testing.T) {
	h := newHarness(t, fixedRand{n: 0, f: 0.99})
	h.promote(t, "u", classes.Tank)

	h.message(t, "u", "c", "one")
	h.clock.Advance(30 * time.Second)
	if out := h.message(t, "u", "c", "two"); out.Suppressed != "" {
		t.Errorf("tank after 30s: %+v, want granted", out)
	}
}

func TestBurstSuppression(t *testing.T) {
	h := newHarness(t, fixedRand{n: 0, f: 0.99})
	h.noCooldown(t)

	for i := 0; i < 5; i++ {
		if out := h.message(t, "u", "c", string(rune('a'+i))); out.Suppressed != "" {
			t.Fatalf("message %d suppressed: %s", i+1, out.Suppressed)
		}
	}
	if out := h.message(t, "u", "c", "f"); out.Suppressed != SuppressedBurst {
		t.Errorf("sixth message: %+v, want burst", out)
	}
}

func TestDuplicatePenalty(t *testing.T) {
	h := newHarness(t, fixedRand{n: 5, f: 0.99})
	h.noCooldown(t)

	h.message(t, "u", "c", "same words")
	out := h.message(t, "u", "c", "  same words ")
	if !out.Duplicate || out.Gain != 6 {
		t.Errorf("repeat: %+v, want duplicate with 6 xp", out)
	}

	h.promote(t, "f", classes.Fighter)
	h.message(t, "f", "c", "same words")
	out = h.message(t, "f", "c", "same words")
	if out.Duplicate || out.Gain != 24 {
		t.Errorf("fighter repeat: %+v, want 24 xp without penalty", out)
	}

	h.promote(t, "a", classes.Assassin)
	h.message(t, "a", "c", "same words")
	if out = h.message(t, "a", "c", "same words"); !out.Duplicate {
		t.Errorf("assassin repeat was not penalised")
	}
}

func TestAssassinComboSurvivesQueuedWrites(t *testing.T) {
	h := newHarness(t, fixedRand{n: 0, f: 0.99})
	h.noCooldown(t)
	h.promote(t, "a", classes.Assassin)

	for _, text := range []string{"one", "two", "three", "four"} {
		if out := h.message(t, "a", "c", text); out.Suppressed != "" {
			t.Fatalf("%q suppressed: %s", text, out.Suppressed)
		}
		h.clock.Advance(3 * time.Second)
	}
	h.total(t, "a")
	p, err := h.store.Progress(context.Background(), "g", "a")
	if err != nil {
		t.Fatal(err)
	}
	if p.MessageCombo != 4 {
		t.Errorf("combo after four unflushed messages = %d, want 4", p.MessageCombo)
	}
}

func TestSweepForgetsQuietMembers(t *testing.T) {
	h := newHarness(t, fixedRand{n: 5, f: 0.99})
	h.noCooldown(t)

	h.message(t, "u", "c", "same words")
	h.clock.Advance(2 * time.Hour)
	h.Sweep()
	if out := h.message(t, "u", "c", "same words"); out.Duplicate || out.Gain != 20 {
		t.Errorf("repeat after a swept silence: %+v, want full 20 xp", out)
	}
	if out := h.message(t, "u", "c", "same words"); !out.Duplicate {
		t.Errorf("immediate repeat after the sweep was not penalised")
	}
}

func TestChannelPolicy(t *testing.T) {
	h := newHarness(t, fixedRand{n: 0, f: 0.99})
	ctx := context.Background()
	h.noCooldown(t)

	if _, err := h.BlacklistChannel(ctx, "g", "noisy"); err != nil {
		t.Fatal(err)
	}
	if out := h.message(t, "u", "noisy", "x"); out.Suppressed != SuppressedChannel {
		t.Errorf("blacklisted channel: %+v", out)
	}
	if _, err := h.WhitelistChannel(ctx, "g", "quiet"); err != nil {
		t.Fatal(err)
	}
	if out := h.message(t, "u", "elsewhere", "y"); out.Suppressed != SuppressedChannel {
		t.Errorf("channel outside the whitelist: %+v", out)
	}
	if out := h.message(t, "u", "quiet", "z"); out.Suppressed != "" {
		t.Errorf("whitelisted channel: %+v", out)
	}
	s, err := h.ClearWhitelist(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Whitelist) != 0 || len(s.Blacklist) != 1 {
		t.Errorf("lists = %v %v", s.Blacklist, s.Whitelist)
	}
}

func TestRoleMultiplier(t *testing.T) {
	h := newHarness(t, fixedRand{n: 5, f: 0.99})
	ctx := context.Background()
	if _, err := h.SetRoleMultiplier(ctx, "g", "booster", 2); err != nil {
		t.Fatal(err)
	}
	out, err := h.OnMessageActivity(ctx, MessageActivity{GuildID: "g", UserID: "u", ChannelID: "c", Text: "hi", RoleIDs: []string{"booster", "other"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Gain != 40 {
		t.Errorf("gain = %d, want 40", out.Gain)
	}
}

func TestLevelUpTransition(t *testing.T) {
	h := newHarness(t, fixedRand{n: 5, f: 0.99})
	ctx := context.Background()
	if _, err := h.SetXP(ctx, "g", "u", 90); err != nil {
		t.Fatal(err)
	}

	out := h.message(t, "u", "c", "level me")
	if out.Transition == nil {
		t.Fatal("no transition crossing level 1")
	}
	want := Transition{GuildID: "g", UserID: "u", OldLevel: 0, NewLevel: 1, OldRank: progression.RankE, NewRank: progression.RankE,
		ChannelID: "c", Announce: true}
	if diff := cmp.Diff(want, *out.Transition); diff != "" {
		t.Errorf("transition (-want +got):\n%s", diff)
	}
	h.Drain()
	if len(h.rec.levelUps) != 1 || len(h.rec.rankUps) != 0 {
		t.Errorf("notified %d level-ups and %d rank-ups, want 1 and 0", len(h.rec.levelUps), len(h.rec.rankUps))
	}
}

func TestTransitionsAreDeduplicated(t *testing.T) {
	h := newHarness(t, fixedRand{})
	in := transitionInput{guildID: "g", userID: "u", settings: DefaultSettings(), oldTotal: 90, newTotal: 110}

	if h.detect(in) == nil {
		t.Fatal("first detection returned nothing")
	}
	if h.detect(in) != nil {
		t.Error("redelivered level-up was not suppressed")
	}
	h.clock.Advance(5 * time.Second)
	if h.detect(in) == nil {
		t.Error("level-up after the dedupe window was suppressed")
	}
	in.forced = true
	if h.detect(in) == nil || h.detect(in) == nil {
		t.Error("forced transitions must not be deduplicated")
	}
}

func TestAdminSetXPRankUp(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()

	target, err := h.calc.CumulativeXP("g", "", 100)
	if err != nil {
		t.Fatal(err)
	}
	res, err := h.SetXP(ctx, "g", "u", target)
	if err != nil {
		t.Fatal(err)
	}
	tr := res.Transition
	if tr == nil || tr.NewLevel != 100 || tr.NewRank != progression.RankA || !tr.RankChanged || !tr.Forced {
		t.Fatalf("transition = %+v, want forced rank-up to A at level 100", tr)
	}

	p, err := h.Profile(ctx, "g", "u")
	if err != nil {
		t.Fatal(err)
	}
	if p.Level != 100 || p.Rank.String() != "A-RANK" || p.SeasonXP != 0 {
		t.Errorf("profile = level %d rank %s season %d", p.Level, p.Rank, p.SeasonXP)
	}

	res, err = h.SetXP(ctx, "g", "u", 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Transition == nil || res.Transition.NewRank != progression.RankE {
		t.Errorf("downward correction = %+v, want a rank transition to E", res.Transition)
	}
	h.Drain()
	if len(h.rec.rankUps) != 2 {
		t.Errorf("rank notifications = %d, want 2", len(h.rec.rankUps))
	}
}

func TestAddXP(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()
	if _, err := h.AddXP(ctx, "g", "u", 250); err != nil {
		t.Fatal(err)
	}
	res, err := h.AddXP(ctx, "g", "u", -1000)
	if err != nil {
		t.Fatal(err)
	}
	if res.OldTotal != 250 || res.NewTotal != 0 {
		t.Errorf("result = %+v", res)
	}
	if got := h.total(t, "u"); got != 0 {
		t.Errorf("xp = %d, want 0", got)
	}
}

func TestChooseClass(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()

	if _, err := h.ChooseClass(ctx, "g", "u", "bard"); !errors.Is(err, ErrInvalidClass) {
		t.Errorf("unknown class: %v", err)
	}
	if _, err := h.ChooseClass(ctx, "g", "u", "mage"); !errors.Is(err, ErrClassLocked) {
		t.Errorf("below level 10: %v", err)
	}
	h.SetXP(ctx, "g", "u", 5500)
	c, err := h.ChooseClass(ctx, "g", "u", "mage")
	if err != nil || c != classes.Mage {
		t.Fatalf("ChooseClass = %v, %v", c, err)
	}
	if _, err := h.ChooseClass(ctx, "g", "u", "tank"); !errors.Is(err, ErrClassAlreadyChosen) {
		t.Errorf("second choice: %v", err)
	}
	h.Drain()
	if diff := cmp.Diff([]classes.Class{classes.Mage}, h.rec.classes); diff != "" {
		t.Errorf("synced classes (-want +got):\n%s", diff)
	}
}

func TestClaimDaily(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()

	res, err := h.ClaimDaily(ctx, "g", "u")
	if err != nil || res.XP != 500 {
		t.Fatalf("ClaimDaily = %+v, %v", res, err)
	}
	_, err = h.ClaimDaily(ctx, "g", "u")
	var cd *CooldownError
	if !errors.As(err, &cd) || cd.Remaining != 24*time.Hour {
		t.Fatalf("second claim = %v, want 24h cooldown", err)
	}
	h.clock.Advance(24 * time.Hour)
	if _, err := h.ClaimDaily(ctx, "g", "u"); err != nil {
		t.Errorf("claim after 24h: %v", err)
	}

	off := false
	h.UpdateSettings(ctx, "g", Patch{DailyEnabled: &off})
	if _, err := h.ClaimDaily(ctx, "g", "v"); !errors.Is(err, ErrDailyDisabled) {
		t.Errorf("disabled daily: %v", err)
	}
}

func TestFighterStreak(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()
	h.promote(t, "f", classes.Fighter)

	steps := []struct {
		wait   time.Duration
		streak int
	}{
		{0, 0},
		{25 * time.Hour, 1},
		{47 * time.Hour, 2},
		{49 * time.Hour, 0},
	}
	for i, s := range steps {
		h.clock.Advance(s.wait)
		res, err := h.ClaimDaily(ctx, "g", "f")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if res.Streak != s.streak || res.XP != 600 {
			t.Errorf("claim %d: streak %d xp %d, want %d 600", i, res.Streak, res.XP, s.streak)
		}
	}
}

func TestMageStoredDailies(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()
	h.promote(t, "m", classes.Mage)

	if _, err := h.ClaimStored(ctx, "g", "m"); !errors.Is(err, ErrNoStoredDailies) {
		t.Errorf("empty claim: %v", err)
	}
	for i := 1; i <= 3; i++ {
		res, err := h.ClaimDaily(ctx, "g", "m")
		if err != nil || !res.Stored || res.StoredCredits != i || res.XP != 0 {
			t.Fatalf("daily %d = %+v, %v", i, res, err)
		}
		h.clock.Advance(24 * time.Hour)
	}
	if _, err := h.ClaimDaily(ctx, "g", "m"); !errors.Is(err, ErrStoredDailiesFull) {
		t.Errorf("fourth daily: %v", err)
	}

	before := h.total(t, "m")
	res, err := h.ClaimStored(ctx, "g", "m")
	if err != nil || res.Credits != 3 || res.XP != 3375 {
		t.Fatalf("ClaimStored = %+v, %v", res, err)
	}
	if got := h.total(t, "m"); got != before+3375 {
		t.Errorf("xp = %d, want %d", got, before+3375)
	}
	if _, err := h.ClaimStored(ctx, "g", "u"); !errors.Is(err, ErrNotMage) {
		t.Errorf("non-mage claim: %v", err)
	}
}

func TestSetFocus(t *testing.T) {
	h := newHarness(t, fixedRand{n: 5})
	ctx := context.Background()

	if err := h.SetFocus(ctx, "g", "u", "c1"); !errors.Is(err, ErrNotRanger) {
		t.Errorf("non-ranger: %v", err)
	}
	h.promote(t, "r", classes.Ranger)
	if err := h.SetFocus(ctx, "g", "r", "c1"); err != nil {
		t.Fatal(err)
	}
	var cd *CooldownError
	if err := h.SetFocus(ctx, "g", "r", "c2"); !errors.As(err, &cd) {
		t.Errorf("second change: %v, want cooldown", err)
	}

	if out := h.message(t, "r", "c1", "focused"); out.Gain != 40 {
		t.Errorf("focus channel gain = %d, want 40", out.Gain)
	}
	h.clock.Advance(time.Minute)
	if out := h.message(t, "r", "c9", "wandering"); out.Gain != 16 {
		t.Errorf("other channel gain = %d, want 16", out.Gain)
	}

	h.clock.Advance(7 * 24 * time.Hour)
	if err := h.SetFocus(ctx, "g", "r", "c2"); err != nil {
		t.Errorf("change after a week: %v", err)
	}
}

func TestVoiceSession(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()

	h.OnVoiceJoin(ctx, VoiceEvent{GuildID: "g", UserID: "u", ChannelID: "v"})
	h.clock.Advance(10 * time.Minute)
	g, err := h.OnVoiceLeave(ctx, VoiceEvent{GuildID: "g", UserID: "u", ChannelID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	if g == nil || g.Seconds != 600 || g.XP != 50 {
		t.Fatalf("grant = %+v, want 600s and 50 xp", g)
	}
	if g, _ := h.OnVoiceLeave(ctx, VoiceEvent{GuildID: "g", UserID: "u"}); g != nil {
		t.Errorf("leave without a session credited %+v", g)
	}
}

func TestVoiceTickAndAura(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()
	h.promote(t, "healer", classes.Healer)

	tick := VoiceTick{
		GuildID:   "g",
		ChannelID: "v",
		Interval:  5 * time.Minute,
		Members:   []VoiceMember{{UserID: "healer"}, {UserID: "plain"}, {UserID: "robot", Bot: true}},
	}
	grants, err := h.OnVoiceTick(ctx, tick)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]int64{}
	for _, g := range grants {
		if g.Seconds != 300 {
			t.Errorf("%s credited %ds, want 300", g.UserID, g.Seconds)
		}
		got[g.UserID] = g.XP
	}
	if diff := cmp.Diff(map[string]int64{"healer": 22, "plain": 26}, got); diff != "" {
		t.Errorf("voice xp (-want +got):\n%s", diff)
	}

	// Leaving two minutes later only credits the remainder.
	h.clock.Advance(2 * time.Minute)
	g, err := h.OnVoiceLeave(ctx, VoiceEvent{GuildID: "g", UserID: "plain"})
	if err != nil {
		t.Fatal(err)
	}
	if g == nil || g.Seconds != 120 {
		t.Errorf("leave after tick = %+v, want 120s", g)
	}

	off := false
	h.UpdateSettings(ctx, "g", Patch{VoiceXPEnabled: &off})
	h.clock.Advance(3 * time.Minute)
	grants, _ = h.OnVoiceTick(ctx, VoiceTick{GuildID: "g", ChannelID: "v", Interval: 5 * time.Minute, Members: []VoiceMember{{UserID: "healer"}}})
	if len(grants) != 1 || grants[0].XP != 0 || grants[0].Seconds != 300 {
		t.Errorf("disabled voice xp grants = %+v, want time only", grants)
	}
}

func TestSettingsValidation(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()
	ptr := func(v int) *int { return &v }
	str := func(v string) *string { return &v }

	tests := []struct {
		name  string
		patch Patch
		field string
	}{
		{"xp_min too low", Patch{XPMin: ptr(0)}, "xp_min"},
		{"xp_max below xp_min", Patch{XPMin: ptr(30), XPMax: ptr(20)}, "xp_max"},
		{"xp_max too high", Patch{XPMax: ptr(101)}, "xp_max"},
		{"cooldown too long", Patch{CooldownSeconds: ptr(301)}, "xp_cooldown"},
		{"voice rate", Patch{VoiceXPRate: ptr(51)}, "voice_xp_rate"},
		{"daily reward", Patch{DailyReward: ptr(10001)}, "daily_reward"},
		{"multiplier", Patch{RoleMultipliers: map[string]float64{"r1": 0.05}}, "role_multipliers[r1]"},
		{"unsafe formula", Patch{Formula: str("__import__('os')")}, "xp_formula"},
		{"attribute access", Patch{Formula: str("level.__class__")}, "xp_formula"},
		{"failing formula", Patch{Formula: str("100 / (level - 10)")}, "xp_formula"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.UpdateSettings(ctx, "g", tc.patch)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("err = %v, want validation error on %s", err, tc.field)
			}
		})
	}

	s, err := h.Settings(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultSettings(), s); diff != "" {
		t.Errorf("rejected patches changed settings (-want +got):\n%s", diff)
	}
}

func TestFormulaChangeRebuildsLevels(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()
	h.AddXP(ctx, "g", "u", 1250)

	p, _ := h.Profile(ctx, "g", "u")
	if p.Level != 4 {
		t.Fatalf("default level = %d, want 4", p.Level)
	}
	src := "int(level*120+50)"
	if _, err := h.UpdateSettings(ctx, "g", Patch{Formula: &src}); err != nil {
		t.Fatal(err)
	}
	p, _ = h.Profile(ctx, "g", "u")
	if p.Level != 3 {
		t.Errorf("level under the new formula = %d, want 3", p.Level)
	}

	h.store.Flush(ctx)
	cfg, err := h.store.GuildConfig(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Formula == nil || *cfg.Formula != src || cfg.XPMin != 15 {
		t.Errorf("stored config = %+v", cfg)
	}
}

func TestBrokenFormulaDegradesToLevelZero(t *testing.T) {
	h := newHarness(t, fixedRand{n: 5})
	ctx := context.Background()
	src := "100 // (level - 3)"
	if _, err := h.UpdateSettings(ctx, "g", Patch{Formula: &src}); err != nil {
		t.Fatal(err)
	}
	out := h.message(t, "u", "c", "still counts")
	if out.Gain != 20 || out.Transition != nil {
		t.Errorf("outcome = %+v, want xp granted without a transition", out)
	}
}

func TestLeaderboardAndProfile(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()
	h.AddXP(ctx, "g", "a", 300)
	h.AddXP(ctx, "g", "b", 700)
	h.AddXP(ctx, "g", "c", 100)

	board, err := h.Leaderboard(ctx, "g", database.BoardTotal, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []LeaderboardEntry{
		{Position: 1, UserID: "b", Value: 700, Level: 3, Rank: progression.RankE},
		{Position: 2, UserID: "a", Value: 300, Level: 2, Rank: progression.RankE},
		{Position: 3, UserID: "c", Value: 100, Level: 1, Rank: progression.RankE},
	}
	if diff := cmp.Diff(want, board); diff != "" {
		t.Errorf("board (-want +got):\n%s", diff)
	}
	weekly, _ := h.Leaderboard(ctx, "g", database.BoardWeekly, 1)
	if len(weekly) != 3 {
		t.Errorf("weekly board has %d rows, want 3", len(weekly))
	}
	if _, err := h.Leaderboard(ctx, "g", "monthly", 1); !errors.Is(err, ErrUnknownBoard) {
		t.Errorf("unknown board: %v", err)
	}

	p, err := h.Profile(ctx, "g", "a")
	if err != nil {
		t.Fatal(err)
	}
	if p.Position != 2 || p.WeeklyXP != 300 || p.IntoLevel != 0 || p.ForNext != 300 {
		t.Errorf("profile = %+v", p)
	}
	stats, _ := h.ServerStats(ctx, "g")
	if stats.Members != 3 || stats.TotalXP != 1100 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStandings(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()
	h.AddXP(ctx, "g", "a", 300)
	h.promote(t, "m", classes.Mage)
	h.AddXP(ctx, "other", "z", 900)

	got, err := h.Standings(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	want := []MemberStanding{
		{UserID: "m", TotalXP: 5500, Level: 10, Rank: progression.RankFromLevel(10), Class: classes.Mage},
		{UserID: "a", TotalXP: 300, Level: 2, Rank: progression.RankE, Class: classes.None},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("standings (-want +got):\n%s", diff)
	}
}

func TestSeasons(t *testing.T) {
	h := newHarness(t, fixedRand{})
	ctx := context.Background()

	if _, err := h.EndSeason(ctx, "g"); !errors.Is(err, ErrNoSeasonData) {
		t.Errorf("empty season: %v", err)
	}
	for user, xp := range map[string]int64{"a": 50, "b": 400, "c": 200, "d": 100} {
		h.AddXP(ctx, "g", user, xp)
	}
	h.AddXP(ctx, "other", "z", 10)

	if res, err := h.SeasonCheck(ctx); err != nil || res != nil {
		t.Fatalf("check mid-month = %v, %v", res, err)
	}

	res, err := h.EndSeason(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	want := []SeasonWinner{{"b", 400}, {"c", 200}, {"d", 100}}
	if diff := cmp.Diff(want, res.Winners); diff != "" {
		t.Errorf("winners (-want +got):\n%s", diff)
	}
	if res.SeasonID != "2026-03" || res.Name != "March 2026" {
		t.Errorf("season = %s %q", res.SeasonID, res.Name)
	}
	if _, err := h.EndSeason(ctx, "g"); !errors.Is(err, ErrSeasonEnded) {
		t.Errorf("second end: %v", err)
	}
	p, _ := h.Profile(ctx, "g", "b")
	if p.SeasonXP != 0 || p.TotalXP != 400 {
		t.Errorf("after season: season %d total %d", p.SeasonXP, p.TotalXP)
	}

	h.clock.Set(time.Date(2026, 3, 31, 23, 5, 0, 0, time.UTC))
	results, err := h.SeasonCheck(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].GuildID != "other" {
		t.Errorf("closing check ended %+v, want only the other guild", results)
	}

	fame, err := h.HallOfFame(ctx, "g")
	if err != nil {
		t.Fatal(err)
	}
	if len(fame) != 1 || len(fame[0].Winners) != 3 || fame[0].Winners[0].UserID != "b" {
		t.Errorf("hall of fame = %+v", fame)
	}
	h.Drain()
	if len(h.rec.seasons) != 2 {
		t.Errorf("season notifications = %d, want 2", len(h.rec.seasons))
	}
}

func TestSeasonDue(t *testing.T) {
	tests := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, 3, 31, 22, 59, 0, 0, time.UTC), false},
		{time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 2, 28, 23, 30, 0, 0, time.UTC), true},
		{time.Date(2028, 2, 28, 23, 30, 0, 0, time.UTC), false},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range tests {
		if got := SeasonDue(tc.at); got != tc.want {
			t.Errorf("SeasonDue(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
}
