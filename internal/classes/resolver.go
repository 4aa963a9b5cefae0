package classes

import (
	"math"
	"time"
)

// Resolver combines class rules with role multipliers into final factors.
type Resolver struct {
	rnd Rand
}

func NewResolver(rnd Rand) *Resolver {
	return &Resolver{rnd: rnd}
}

// MessageInput is everything the resolver needs for one message.
type MessageInput struct {
	Class          Class
	Message        Message
	State          State
	RoleMultiplier float64
}

// MessageResult is the resolved contribution for one message.
type MessageResult struct {
	Effect
	DuplicateImmune bool
}

func (r *Resolver) ResolveMessage(in MessageInput) MessageResult {
	rule := For(in.Class)
	e := rule.Message(in.Message, in.State, r.rnd)
	e.Multiplier *= roleFactor(in.RoleMultiplier)
	return MessageResult{Effect: e, DuplicateImmune: rule.DuplicateImmune()}
}

// Gain converts a base amount and a resolved result into whole XP. The
// product is floored as a float64, so factors such as 1.5*1.2 that land just
// under a whole number lose a point; stored totals depend on that.
func (res MessageResult) Gain(base int) int64 {
	return int64(math.Floor(float64(base+res.FlatBonus) * res.Multiplier))
}

// VoiceInput describes one occupant credited for voice time.
type VoiceInput struct {
	Class          Class
	RoleMultiplier float64
	Aura           bool // another healer shares the channel
}

// VoiceMultiplier returns the combined factor applied to voice XP.
func (r *Resolver) VoiceMultiplier(in VoiceInput) float64 {
	m := For(in.Class).VoiceMultiplier() * roleFactor(in.RoleMultiplier)
	if in.Aura {
		m *= auraMultiplier
	}
	return m
}

// Cooldown scales a guild cooldown for the class, truncating to whole seconds.
func Cooldown(c Class, cooldown time.Duration) time.Duration {
	secs := int64(float64(cooldown/time.Second) * For(c).CooldownFactor())
	return time.Duration(secs) * time.Second
}

// DailyReward applies the class daily multiplier to base.
func DailyReward(c Class, base int) int64 {
	return int64(float64(base) * For(c).DailyMultiplier())
}

// StoredClaim is the payout for claiming stored daily credits at once.
func StoredClaim(c Class, base, stored int) int64 {
	perCredit := int64(float64(base) * For(c).DailyMultiplier())
	return int64(float64(perCredit) * float64(stored) * storedClaimBonus)
}

// RoleMultiplier returns the largest multiplier among held roles, never
// below 1.
func RoleMultiplier(held []string, multipliers map[string]float64) float64 {
	best := 1.0
	for _, id := range held {
		if m, ok := multipliers[id]; ok && m > best {
			best = m
		}
	}
	return best
}

func roleFactor(m float64) float64 {
	if m <= 0 {
		return 1
	}
	return m
}
