// Package classes holds the closed set of hunter classes and the rules each
// one contributes to XP gains.
package classes

import (
	"strings"
	"time"
)

type Class string

const (
	None     Class = ""
	Tank     Class = "TANK"
	Assassin Class = "ASSASSIN"
	Fighter  Class = "FIGHTER"
	Ranger   Class = "RANGER"
	Healer   Class = "HEALER"
	Mage     Class = "MAGE"
)

// All lists the selectable classes.
var All = []Class{Tank, Assassin, Fighter, Ranger, Healer, Mage}

const (
	ComboWindow          = 5 * time.Minute
	MentionBonusCooldown = 5 * time.Minute
	FocusCooldown        = 7 * 24 * time.Hour
	MaxStoredDailies     = 3

	critChance         = 0.15
	critMultiplier     = 2.0
	comboStep          = 0.05
	comboCap           = 0.20
	streakStep         = 0.05
	streakCap          = 0.25
	mentionBonus       = 25
	mentionMinLength   = 20
	mageLongMessage    = 50
	mageShortMessage   = 20
	storedClaimBonus   = 1.5
	auraMultiplier     = 1.05
	tankCooldownFactor = 0.5
)

// Parse accepts a class name in any case.
func Parse(s string) (Class, bool) {
	c := Class(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range All {
		if c == known {
			return c, true
		}
	}
	return None, false
}

func (c Class) String() string {
	if c == None {
		return "NONE"
	}
	return string(c)
}

// Message is a chat message that reached the XP stage.
type Message struct {
	Length    int // in characters
	Mentions  int
	ChannelID string
	At        time.Time
}

// State is the class-specific progress a rule reads.
type State struct {
	DailyStreak        int
	Combo              int
	LastMessageAt      time.Time
	FocusChannelID     string
	LastMentionBonusAt time.Time
}

// Effect is one rule's contribution to a message.
type Effect struct {
	Multiplier   float64
	FlatBonus    int
	Crit         bool
	ComboChanged bool
	Combo        int  // combo count including this message
	MentionBonus bool // the mention bonus was granted at Message.At
}

// Rand is the randomness a rule may consume.
type Rand interface {
	Float64() float64
}

// Rule is the behaviour of one class.
type Rule interface {
	Class() Class
	Message(m Message, s State, rnd Rand) Effect
	VoiceMultiplier() float64
	CooldownFactor() float64
	DuplicateImmune() bool
	DailyMultiplier() float64
	StoresDailies() bool
}

var rules = map[Class]Rule{
	None:     classless{},
	Tank:     tank{},
	Assassin: assassin{},
	Fighter:  fighter{},
	Ranger:   ranger{},
	Healer:   healer{},
	Mage:     mage{},
}

// For returns the rule for c, falling back to the classless rule.
func For(c Class) Rule {
	if r, ok := rules[c]; ok {
		return r
	}
	return rules[None]
}

// base carries the neutral answers every rule starts from.
type base struct{}

func (base) Message(Message, State, Rand) Effect { return Effect{Multiplier: 1} }
func (base) VoiceMultiplier() float64 { return 1 }
func (base) CooldownFactor() float64 { return 1 }
func (base) DuplicateImmune() bool { return false }
func (base) DailyMultiplier() float64 { return 1 }
func (base) StoresDailies() bool { return false }

type classless struct{ base }

func (classless) Class() Class { return None }

type tank struct{ base }

func (tank) Class() Class { return Tank }
func (tank) Message(Message, State, Rand) Effect { return Effect{Multiplier: 0.9} }
func (tank) VoiceMultiplier() float64 { return 1.8 }
func (tank) CooldownFactor() float64 { return tankCooldownFactor }

type assassin struct{ base }

func (assassin) Class() Class { return Assassin }
func (assassin) VoiceMultiplier() float64 { return 0.8 }

// Message rolls the crit, then applies the combo built so far. A gap longer
// than ComboWindow since the previous message restarts the combo.
func (assassin) Message(m Message, s State, rnd Rand) Effect {
	e := Effect{Multiplier: 1.5}
	if rnd != nil && rnd.Float64() < critChance {
		e.Multiplier *= critMultiplier
		e.Crit = true
	}
	combo := s.Combo
	if !s.LastMessageAt.IsZero() && m.At.Sub(s.LastMessageAt) > ComboWindow {
		combo = 0
	}
	e.Multiplier *= 1 + min(float64(combo)*comboStep, comboCap)
	e.ComboChanged = true
	e.Combo = combo + 1
	return e
}

type fighter struct{ base }

func (fighter) Class() Class { return Fighter }
func (fighter) VoiceMultiplier() float64 { return 1.2 }
func (fighter) DuplicateImmune() bool { return true }
func (fighter) DailyMultiplier() float64 { return 1.2 }

func (fighter) Message(_ Message, s State, _ Rand) Effect {
	return Effect{Multiplier: 1.2 * (1 + min(float64(s.DailyStreak)*streakStep, streakCap))}
}

type ranger struct{ base }

func (ranger) Class() Class { return Ranger }

func (ranger) Message(m Message, s State, _ Rand) Effect {
	if s.FocusChannelID != "" && m.ChannelID == s.FocusChannelID {
		return Effect{Multiplier: 2.0}
	}
	return Effect{Multiplier: 0.8}
}

type healer struct{ base }

func (healer) Class() Class { return Healer }
func (healer) VoiceMultiplier() float64 { return 0.9 }
func (healer) DailyMultiplier() float64 { return 1.5 }

func (healer) Message(m Message, s State, _ Rand) Effect {
	e := Effect{Multiplier: 0.9}
	if m.Mentions > 0 && m.Length >= mentionMinLength &&
		(s.LastMentionBonusAt.IsZero() || m.At.Sub(s.LastMentionBonusAt) >= MentionBonusCooldown) {
		e.FlatBonus = mentionBonus
		e.MentionBonus = true
	}
	return e
}

type mage struct{ base }

func (mage) Class() Class { return Mage }
func (mage) DailyMultiplier() float64 { return 1.5 }
func (mage) StoresDailies() bool { return true }

func (mage) Message(m Message, _ State, _ Rand) Effect {
	switch {
	case m.Length >= mageLongMessage:
		return Effect{Multiplier: 1.4}
	case m.Length < mageShortMessage:
		return Effect{Multiplier: 0.7}
	}
	return Effect{Multiplier: 1}
}
