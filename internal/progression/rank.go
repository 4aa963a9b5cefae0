package progression

import "strings"

// Rank is a coarse tier derived from level.
type Rank int

const (
	RankE Rank = iota
	RankD
	RankC
	RankB
	RankA
	RankS
)

// Ranks lists every tier from lowest to highest.
var Ranks = []Rank{RankE, RankD, RankC, RankB, RankA, RankS}

// rankFloors holds the lowest level of each tier, indexed by Rank.
var rankFloors = [...]int{0, 26, 50, 75, 100, 150}

var rankNames = [...]string{"E-RANK", "D-RANK", "C-RANK", "B-RANK", "A-RANK", "S-RANK"}

func (r Rank) String() string {
	if r < RankE || r > RankS {
		return "UNKNOWN"
	}
	return rankNames[r]
}

// MinLevel returns the lowest level that qualifies for r.
func (r Rank) MinLevel() int {
	return rankFloors[r]
}

// ParseRank maps a tier name such as "A-RANK", in any case, back to its Rank.
func ParseRank(s string) (Rank, bool) {
	s = strings.TrimSpace(s)
	for i, name := range rankNames {
		if strings.EqualFold(name, s) {
			return Rank(i), true
		}
	}
	return RankE, false
}

// RankFromLevel returns the highest tier whose floor is at or below level.
func RankFromLevel(level int) Rank {
	for r := RankS; r > RankE; r-- {
		if level >= rankFloors[r] {
			return r
		}
	}
	return RankE
}
