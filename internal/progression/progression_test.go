package progression

import (
	"testing"

	"github.com/code-wolf-byte/hunterxp/internal/formula"
	"github.com/rs/zerolog"
)

func newCalculator() *Calculator {
	log := zerolog.Nop()
	return New(formula.NewCache(), &log)
}

func TestDefaultCurve(t *testing.T) {
	c := newCalculator()

	req, err := c.XPForLevel("", 1)
	if err != nil || req != 100 {
		t.Fatalf("XPForLevel(1) = %d, %v; want 100", req, err)
	}
	cum, err := c.CumulativeXP("g1", "", 3)
	if err != nil || cum != 600 {
		t.Fatalf("CumulativeXP(3) = %d, %v; want 600", cum, err)
	}
}

func TestLevelRoundTrip(t *testing.T) {
	formulas := []string{
		"",
		"int(level*120+50)",
		"level**2 + 50",
		"max(level*100, level**3)",
		"100",
		"round(level * 1.5) + 10",
	}
	for _, src := range formulas {
		t.Run(src, func(t *testing.T) {
			c := newCalculator()
			for level := 0; level <= 300; level++ {
				cum, err := c.CumulativeXP("g", src, level)
				if err != nil {
					t.Fatalf("CumulativeXP(%d): %v", level, err)
				}
				if got := c.LevelFromTotalXP("g", src, cum); got != level {
					t.Fatalf("LevelFromTotalXP(CumulativeXP(%d)=%d) = %d", level, cum, got)
				}
				if level > 0 {
					if got := c.LevelFromTotalXP("g", src, cum-1); got != level-1 {
						t.Fatalf("LevelFromTotalXP(%d) = %d, want %d", cum-1, got, level-1)
					}
				}
			}
		})
	}
}

func TestLevelFromTotalXPLargeFirstLookup(t *testing.T) {
	c := newCalculator()
	cum, err := c.CumulativeXP("fresh", "", 5000)
	if err != nil {
		t.Fatal(err)
	}
	c.Invalidate("fresh")
	if got := c.LevelFromTotalXP("fresh", "", cum+1); got != 5000 {
		t.Errorf("LevelFromTotalXP = %d, want 5000", got)
	}
}

func TestLevelFromTotalXPMonotonic(t *testing.T) {
	c := newCalculator()
	prev := 0
	for xp := int64(-50); xp < 60000; xp += 37 {
		got := c.LevelFromTotalXP("g", "level**2 + 50", xp)
		if got < prev {
			t.Fatalf("level decreased from %d to %d at xp %d", prev, got, xp)
		}
		prev = got
	}
}

func TestLevelFromTotalXPNonPositive(t *testing.T) {
	c := newCalculator()
	for _, xp := range []int64{0, -1, -1000} {
		if got := c.LevelFromTotalXP("g", "", xp); got != 0 {
			t.Errorf("LevelFromTotalXP(%d) = %d, want 0", xp, got)
		}
	}
}

func TestLevelFromTotalXPFormulaErrors(t *testing.T) {
	c := newCalculator()
	if got := c.LevelFromTotalXP("g", "100 / (level - 5)", 1000000); got != 0 {
		t.Errorf("division by zero formula gave level %d, want 0", got)
	}
	if got := c.LevelFromTotalXP("g", "50 - level*100", 1000); got != 0 {
		t.Errorf("negative requirement formula gave level %d, want 0", got)
	}
}

func TestLevelFromTotalXPFlatCurveIsBounded(t *testing.T) {
	c := newCalculator()
	if got := c.LevelFromTotalXP("g", "0", 10); got != MaxLevel {
		t.Errorf("zero requirement curve gave level %d, want %d", got, MaxLevel)
	}
}

func TestCumulativeXPClampsAtMaxLevel(t *testing.T) {
	c := newCalculator()
	top, err := c.CumulativeXP("g", "1", MaxLevel)
	if err != nil {
		t.Fatal(err)
	}
	if top != MaxLevel {
		t.Fatalf("CumulativeXP(MaxLevel) = %d, want %d", top, MaxLevel)
	}
	past, err := c.CumulativeXP("g", "1", MaxLevel+50)
	if err != nil {
		t.Fatal(err)
	}
	if past != top {
		t.Errorf("CumulativeXP(MaxLevel+50) = %d, want the MaxLevel price %d", past, top)
	}
	if got := c.LevelFromTotalXP("g", "1", past); got != MaxLevel {
		t.Errorf("level for the clamped total = %d, want %d", got, MaxLevel)
	}
}

func TestTablesFollowFormulaChanges(t *testing.T) {
	c := newCalculator()
	if got := c.LevelFromTotalXP("g", "", 600); got != 3 {
		t.Fatalf("default level = %d, want 3", got)
	}
	if got := c.LevelFromTotalXP("g", "level*50", 600); got != 4 {
		t.Fatalf("custom level = %d, want 4", got)
	}
}

func TestStanding(t *testing.T) {
	c := newCalculator()
	st, err := c.Standing("g", "", 650)
	if err != nil {
		t.Fatal(err)
	}
	want := Standing{Level: 3, Rank: RankE, IntoLevel: 50, ForNext: 400}
	if st != want {
		t.Errorf("Standing = %+v, want %+v", st, want)
	}
}

func TestRankFromLevel(t *testing.T) {
	tests := []struct {
		level int
		want  string
	}{
		{0, "E-RANK"},
		{25, "E-RANK"},
		{26, "D-RANK"},
		{49, "D-RANK"},
		{50, "C-RANK"},
		{74, "C-RANK"},
		{75, "B-RANK"},
		{99, "B-RANK"},
		{100, "A-RANK"},
		{149, "A-RANK"},
		{150, "S-RANK"},
		{10000, "S-RANK"},
	}
	for _, tc := range tests {
		if got := RankFromLevel(tc.level).String(); got != tc.want {
			t.Errorf("RankFromLevel(%d) = %s, want %s", tc.level, got, tc.want)
		}
	}

	prev := RankE
	for level := 0; level < 200; level++ {
		r := RankFromLevel(level)
		if r < prev {
			t.Fatalf("rank decreased at level %d", level)
		}
		prev = r
	}
}

func TestParseRank(t *testing.T) {
	for _, r := range Ranks {
		got, ok := ParseRank(r.String())
		if !ok || got != r {
			t.Errorf("ParseRank(%q) = %v, %v", r.String(), got, ok)
		}
	}
	if got, ok := ParseRank(" c-rank "); !ok || got != RankC {
		t.Errorf("ParseRank(c-rank) = %v, %v; want C-RANK", got, ok)
	}
	if _, ok := ParseRank("Z-RANK"); ok {
		t.Error("ParseRank accepted an unknown tier")
	}
}
