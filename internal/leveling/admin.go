package leveling

import (
	"context"

	"github.com/code-wolf-byte/hunterxp/internal/database"
)

// AdminResult is the state after an admin XP change.
type AdminResult struct {
	OldTotal   int64
	NewTotal   int64
	Transition *Transition
}

// SetXP overrides a member's lifetime XP. Season XP and the ledger are left
// alone. The transition bypasses deduplication.
func (e *Engine) SetXP(ctx context.Context, guildID, userID string, xp int64) (AdminResult, error) {
	xp = max(xp, 0)
	return e.adminChange(ctx, "set xp", guildID, userID, func(p *database.UserProgress) (database.Delta, int64) {
		return database.Delta{Set: map[string]any{"xp": xp}}, xp
	})
}

// AddXP adds amount, which may be negative, to both totals and records it
// in the ledger.
func (e *Engine) AddXP(ctx context.Context, guildID, userID string, amount int64) (AdminResult, error) {
	res, err := e.adminChange(ctx, "add xp", guildID, userID, func(p *database.UserProgress) (database.Delta, int64) {
		return database.Delta{XP: amount, Source: SourceAdmin, At: e.now()}, max(p.TotalXP+amount, 0)
	})
	if err == nil {
		e.syncXP(userID, amount, SourceAdmin)
	}
	return res, err
}

func (e *Engine) adminChange(ctx context.Context, op, guildID, userID string, fn func(p *database.UserProgress) (database.Delta, int64)) (AdminResult, error) {
	s, err := e.Settings(ctx, guildID)
	if err != nil {
		return AdminResult{}, err
	}
	var res AdminResult
	err = e.store.UpdateProgress(ctx, op, guildID, userID, func(p *database.UserProgress) (database.Delta, error) {
		d, total := fn(p)
		res = AdminResult{OldTotal: p.TotalXP, NewTotal: total}
		return d, nil
	})
	if err != nil {
		return AdminResult{}, err
	}
	e.log.Info().Str("guild_id", guildID).Str("user_id", userID).Str("op", op).
		Int64("old_xp", res.OldTotal).Int64("new_xp", res.NewTotal).Msg("admin xp change")
	res.Transition = e.detect(transitionInput{
		guildID:  guildID,
		userID:   userID,
		settings: s,
		oldTotal: res.OldTotal,
		newTotal: res.NewTotal,
		forced:   true,
	})
	return res, nil
}
