// Package progression derives levels and ranks from cumulative XP.
//
// Requirements come from a guild's formula: the XP needed to go from level
// n-1 to n. Cumulative totals are kept per guild in a prefix-sum table that
// only ever grows, so repeated lookups are cheap once a level range has been
// visited.
package progression

import (
	"fmt"
	"math"
	"sync"

	"github.com/code-wolf-byte/hunterxp/internal/formula"
	"github.com/rs/zerolog"
)

// MaxLevel bounds level searches so a formula whose requirements stop
// growing cannot stall the caller.
const MaxLevel = 100000

// Standing describes where a cumulative XP total sits on a guild's curve.
type Standing struct {
	Level     int
	Rank      Rank
	IntoLevel int64 // XP earned past the current level's threshold
	ForNext   int64 // XP the next level requires in total
}

type Calculator struct {
	formulas *formula.Cache
	log      *zerolog.Logger

	mu     sync.Mutex
	tables map[string]*prefixTable
}

func New(formulas *formula.Cache, log *zerolog.Logger) *Calculator {
	l := log.With().Str("component", "progression").Logger()
	return &Calculator{
		formulas: formulas,
		log:      &l,
		tables:   make(map[string]*prefixTable),
	}
}

// XPForLevel evaluates the requirement of a single level step.
func (c *Calculator) XPForLevel(source string, level int) (int64, error) {
	expr, err := c.formulas.Compile(source)
	if err != nil {
		return 0, err
	}
	if level <= 0 {
		return 0, nil
	}
	req, err := expr.Evaluate(int64(level))
	if err != nil {
		return 0, err
	}
	return req, nil
}

// CumulativeXP returns the total XP needed to reach level from zero. Levels
// past MaxLevel are priced as MaxLevel, since no total ever resolves to a
// higher level; callers converting a requested level to XP should reject
// such levels first.
func (c *Calculator) CumulativeXP(guildID, source string, level int) (int64, error) {
	if level <= 0 {
		return 0, nil
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	t, err := c.table(guildID, source)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sum(level)
}

// LevelFromTotalXP returns the highest level whose cumulative requirement is
// covered by total. A formula that fails to evaluate yields level 0 and is
// logged; the error never reaches the caller.
func (c *Calculator) LevelFromTotalXP(guildID, source string, total int64) int {
	level, err := c.levelFromTotal(guildID, source, total)
	if err != nil {
		c.log.Error().Err(err).
			Str("guild_id", guildID).
			Str("formula", source).
			Int64("total_xp", total).
			Msg("unable to derive level, falling back to 0")
		return 0
	}
	return level
}

// Standing resolves level, rank and progress into the next level.
func (c *Calculator) Standing(guildID, source string, total int64) (Standing, error) {
	level, err := c.levelFromTotal(guildID, source, total)
	if err != nil {
		return Standing{}, err
	}
	st := Standing{Level: level, Rank: RankFromLevel(level)}
	if level >= MaxLevel {
		return st, nil
	}
	floor, err := c.CumulativeXP(guildID, source, level)
	if err != nil {
		return Standing{}, err
	}
	next, err := c.CumulativeXP(guildID, source, level+1)
	if err != nil {
		return Standing{}, err
	}
	st.IntoLevel = total - floor
	st.ForNext = next - floor
	return st, nil
}

// Invalidate drops the guild's prefix table, typically after its formula
// changes. Tables are also rebuilt automatically when a different formula
// source is passed in.
func (c *Calculator) Invalidate(guildID string) {
	c.mu.Lock()
	delete(c.tables, guildID)
	c.mu.Unlock()
}

func (c *Calculator) table(guildID, source string) (*prefixTable, error) {
	if source == "" {
		source = formula.Default
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[guildID]; ok && t.source == source {
		return t, nil
	}
	expr, err := c.formulas.Compile(source)
	if err != nil {
		return nil, err
	}
	t := &prefixTable{source: source, expr: expr, sums: []int64{0}}
	c.tables[guildID] = t
	return t, nil
}

func (c *Calculator) levelFromTotal(guildID, source string, total int64) (int, error) {
	if total <= 0 {
		return 0, nil
	}
	t, err := c.table(guildID, source)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if est, ok, err := t.estimate(total); err != nil {
		return 0, err
	} else if ok {
		return t.adjust(est, total)
	}
	return t.search(total)
}

type prefixTable struct {
	mu     sync.Mutex
	source string
	expr   *formula.Expr
	sums   []int64 // sums[n] is the cumulative requirement of level n
}

// sum extends the table through level n and returns its entry.
func (t *prefixTable) sum(n int) (int64, error) {
	for k := len(t.sums); k <= n; k++ {
		req, err := t.expr.Evaluate(int64(k))
		if err != nil {
			return 0, err
		}
		if req < 0 {
			return 0, &formula.EvaluationError{Level: int64(k), Reason: fmt.Sprintf("requirement %d is negative", req)}
		}
		prev := t.sums[k-1]
		next := prev + req
		if next < prev {
			next = math.MaxInt64
		}
		t.sums = append(t.sums, next)
	}
	return t.sums[n], nil
}

// estimate solves the closed form when the first three requirements form an
// arithmetic progression. ok is false when the curve does not qualify.
func (t *prefixTable) estimate(total int64) (int, bool, error) {
	s1, err := t.sum(1)
	if err != nil {
		return 0, false, err
	}
	s2, err := t.sum(2)
	if err != nil {
		return 0, false, err
	}
	s3, err := t.sum(3)
	if err != nil {
		return 0, false, err
	}
	x1, x2, x3 := s1, s2-s1, s3-s2
	step := x2 - x1
	if x3-x2 != step || step < 0 || x1 <= 0 {
		return 0, false, nil
	}

	var n float64
	if step == 0 {
		n = float64(total) / float64(x1)
	} else {
		// S(n) = a*n(n+1)/2 + b*n with a = step and b = x1 - step.
		a := float64(step) / 2
		b := a + float64(x1-step)
		n = (-b + math.Sqrt(b*b+4*a*float64(total))) / (2 * a)
	}
	if math.IsNaN(n) || n < 0 {
		return 0, false, nil
	}
	if n > MaxLevel {
		return MaxLevel, true, nil
	}
	return int(n), true, nil
}

// adjust walks est to the exact answer against the real prefix table, which
// also covers formulas that only look linear across the first levels.
func (t *prefixTable) adjust(est int, total int64) (int, error) {
	for est > 0 {
		s, err := t.sum(est)
		if err != nil {
			return 0, err
		}
		if s <= total {
			break
		}
		est--
	}
	for est < MaxLevel {
		s, err := t.sum(est + 1)
		if err != nil {
			return 0, err
		}
		if s > total {
			break
		}
		est++
	}
	return est, nil
}

// search bounds the answer by doubling and then bisects.
func (t *prefixTable) search(total int64) (int, error) {
	lo, hi := 0, 1
	for {
		s, err := t.sum(hi)
		if err != nil {
			return 0, err
		}
		if s > total {
			break
		}
		if hi == MaxLevel {
			return MaxLevel, nil
		}
		lo = hi
		hi = min(hi*2, MaxLevel)
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		s, err := t.sum(mid)
		if err != nil {
			return 0, err
		}
		if s <= total {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, nil
}
