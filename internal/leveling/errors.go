package leveling

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrClassLocked        = errors.New("class selection is locked until the unlock level")
	ErrClassAlreadyChosen = errors.New("class already chosen")
	ErrInvalidClass       = errors.New("unknown class")
	ErrNotRanger          = errors.New("only rangers can set a focus channel")
	ErrDailyDisabled      = errors.New("daily rewards are disabled in this guild")
	ErrStoredDailiesFull  = errors.New("stored daily credits are full")
	ErrNoStoredDailies    = errors.New("no stored daily credits")
	ErrNotMage            = errors.New("only mages store daily credits")
	ErrNoSeasonData       = errors.New("no member earned season xp")
	ErrSeasonEnded        = errors.New("season already ended")
	ErrUnknownBoard       = errors.New("unknown leaderboard")
)

// ValidationError names the settings field that was rejected and the
// constraint it violated.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Constraint)
}

// CooldownError is returned when an action is attempted before its
// cooldown has passed.
type CooldownError struct {
	Action    string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s available again in %s", e.Action, e.Remaining.Round(time.Second))
}
