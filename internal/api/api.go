// Package api serves the admin HTTP surface: guild settings, member XP
// overrides and read-only views of leaderboards and seasons.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/database"
	"github.com/code-wolf-byte/hunterxp/internal/leveling"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// maxBody caps request bodies.
const maxBody = 64 << 10

type API struct {
	engine     *leveling.Engine
	adminToken string
	log        *zerolog.Logger
}

func New(engine *leveling.Engine, adminToken string, log *zerolog.Logger) *API {
	l := log.With().Str("component", "api").Logger()
	return &API{engine: engine, adminToken: adminToken, log: &l}
}

// Routes builds the router. Everything but /healthz requires the admin
// bearer token; with no token configured those routes answer 503.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(*a.log))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/guilds/{guildID}", func(r chi.Router) {
		r.Use(a.requireToken)

		r.Get("/config", a.handleGetConfig)
		r.Patch("/config", a.handlePatchConfig)
		r.Put("/config/blacklist/{channelID}", a.channelOp(a.engine.BlacklistChannel))
		r.Delete("/config/blacklist/{channelID}", a.channelOp(a.engine.UnblacklistChannel))
		r.Put("/config/whitelist/{channelID}", a.channelOp(a.engine.WhitelistChannel))
		r.Delete("/config/whitelist/{channelID}", a.channelOp(a.engine.UnwhitelistChannel))
		r.Delete("/config/whitelist", a.handleClearWhitelist)
		r.Put("/config/multipliers/{roleID}", a.handleSetMultiplier)
		r.Delete("/config/multipliers/{roleID}", a.handleRemoveMultiplier)

		r.Get("/leaderboard", a.handleLeaderboard)
		r.Get("/stats", a.handleStats)
		r.Get("/seasons", a.handleSeasons)
		r.Post("/seasons/end", a.handleEndSeason)

		r.Get("/users/{userID}", a.handleGetUser)
		r.Put("/users/{userID}/xp", a.handlePutXP)
	})
	return r
}

func (a *API) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken == "" {
			jsonError(w, "admin api disabled", http.StatusServiceUnavailable)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
			jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s, err := a.engine.Settings(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, s)
}

func (a *API) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var p leveling.Patch
	if !decode(w, r, &p) {
		return
	}
	s, err := a.engine.UpdateSettings(r.Context(), chi.URLParam(r, "guildID"), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, s)
}

// channelOp adapts one of the engine's channel list operations.
func (a *API) channelOp(fn func(ctx context.Context, guildID, channelID string) (leveling.Settings, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fn(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "channelID"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		jsonResp(w, http.StatusOK, s)
	}
}

func (a *API) handleClearWhitelist(w http.ResponseWriter, r *http.Request) {
	s, err := a.engine.ClearWhitelist(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, s)
}

type multiplierRequest struct {
	Multiplier float64 `json:"multiplier"`
}

func (a *API) handleSetMultiplier(w http.ResponseWriter, r *http.Request) {
	var req multiplierRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := a.engine.SetRoleMultiplier(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "roleID"), req.Multiplier)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, s)
}

func (a *API) handleRemoveMultiplier(w http.ResponseWriter, r *http.Request) {
	s, err := a.engine.RemoveRoleMultiplier(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "roleID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, s)
}

type boardEntry struct {
	Position int    `json:"position"`
	UserID   string `json:"user_id"`
	Value    int64  `json:"value"`
	Level    int    `json:"level"`
	Rank     string `json:"rank"`
}

func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board := database.Board(r.URL.Query().Get("board"))
	if board == "" {
		board = database.BoardTotal
	}
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			jsonError(w, "page must be a positive integer", http.StatusBadRequest)
			return
		}
		page = n
	}
	rows, err := a.engine.Leaderboard(r.Context(), chi.URLParam(r, "guildID"), board, page)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]boardEntry, len(rows))
	for i, e := range rows {
		out[i] = boardEntry{Position: e.Position, UserID: e.UserID, Value: e.Value, Level: e.Level, Rank: e.Rank.String()}
	}
	jsonResp(w, http.StatusOK, map[string]any{
		"board":   board,
		"page":    page,
		"entries": out,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.engine.ServerStats(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]int64{
		"members":       st.Members,
		"total_xp":      st.TotalXP,
		"messages":      st.Messages,
		"voice_seconds": st.VoiceSeconds,
	})
}

type season struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Winners []winner  `json:"winners"`
	EndedAt time.Time `json:"ended_at"`
}

type winner struct {
	UserID   string `json:"user_id"`
	SeasonXP int64  `json:"season_xp,omitempty"`
}

func seasonJSON(s leveling.SeasonResult) season {
	out := season{ID: s.SeasonID, Name: s.Name, EndedAt: s.EndedAt, Winners: make([]winner, len(s.Winners))}
	for i, w := range s.Winners {
		out.Winners[i] = winner{UserID: w.UserID, SeasonXP: w.SeasonXP}
	}
	return out
}

func (a *API) handleSeasons(w http.ResponseWriter, r *http.Request) {
	results, err := a.engine.HallOfFame(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]season, len(results))
	for i, s := range results {
		out[i] = seasonJSON(s)
	}
	jsonResp(w, http.StatusOK, out)
}

func (a *API) handleEndSeason(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.EndSeason(r.Context(), chi.URLParam(r, "guildID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, seasonJSON(res))
}

type profile struct {
	UserID         string     `json:"user_id"`
	TotalXP        int64      `json:"total_xp"`
	SeasonXP       int64      `json:"season_xp"`
	WeeklyXP       int64      `json:"weekly_xp"`
	Level          int        `json:"level"`
	Rank           string     `json:"rank"`
	IntoLevel      int64      `json:"into_level"`
	ForNext        int64      `json:"for_next"`
	Position       int        `json:"position"`
	Class          string     `json:"class"`
	Messages       int64      `json:"messages"`
	VoiceSeconds   int64      `json:"voice_seconds"`
	DailyStreak    int        `json:"daily_streak"`
	StoredDailies  int        `json:"stored_dailies"`
	FocusChannelID string     `json:"focus_channel_id,omitempty"`
	LastDailyAt    *time.Time `json:"last_daily_at,omitempty"`
}

func profileJSON(p leveling.Profile) profile {
	out := profile{
		UserID:         p.UserID,
		TotalXP:        p.TotalXP,
		SeasonXP:       p.SeasonXP,
		WeeklyXP:       p.WeeklyXP,
		Level:          p.Level,
		Rank:           p.Rank.String(),
		IntoLevel:      p.IntoLevel,
		ForNext:        p.ForNext,
		Position:       p.Position,
		Class:          p.Class.String(),
		Messages:       p.Messages,
		VoiceSeconds:   p.VoiceSeconds,
		DailyStreak:    p.DailyStreak,
		StoredDailies:  p.StoredDailies,
		FocusChannelID: p.FocusChannelID,
	}
	if !p.LastDailyAt.IsZero() {
		t := p.LastDailyAt
		out.LastDailyAt = &t
	}
	return out
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p, err := a.engine.Profile(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "userID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, profileJSON(p))
}

// xpRequest sets XP outright or adds to it; exactly one must be given.
type xpRequest struct {
	XP  *int64 `json:"xp"`
	Add *int64 `json:"add"`
}

func (a *API) handlePutXP(w http.ResponseWriter, r *http.Request) {
	var req xpRequest
	if !decode(w, r, &req) {
		return
	}
	guildID, userID := chi.URLParam(r, "guildID"), chi.URLParam(r, "userID")

	var (
		res leveling.AdminResult
		err error
	)
	switch {
	case req.XP != nil && req.Add == nil:
		res, err = a.engine.SetXP(r.Context(), guildID, userID, *req.XP)
	case req.Add != nil && req.XP == nil:
		res, err = a.engine.AddXP(r.Context(), guildID, userID, *req.Add)
	default:
		jsonError(w, `exactly one of "xp" or "add" is required`, http.StatusBadRequest)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	body := map[string]any{"old_total": res.OldTotal, "new_total": res.NewTotal}
	if t := res.Transition; t != nil {
		body["old_level"] = t.OldLevel
		body["new_level"] = t.NewLevel
		body["rank"] = t.NewRank.String()
	}
	jsonResp(w, http.StatusOK, body)
}

// fail maps engine errors onto status codes.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *leveling.ValidationError
	switch {
	case errors.As(err, &verr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":      verr.Error(),
			"field":      verr.Field,
			"constraint": verr.Constraint,
		})
	case errors.Is(err, leveling.ErrUnknownBoard):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, leveling.ErrSeasonEnded):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, leveling.ErrNoSeasonData):
		jsonError(w, err.Error(), http.StatusNotFound)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func jsonResp(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	jsonResp(w, status, map[string]string{"error": msg})
}
