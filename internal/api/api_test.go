package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/code-wolf-byte/hunterxp/internal/database"
	"github.com/code-wolf-byte/hunterxp/internal/formula"
	"github.com/code-wolf-byte/hunterxp/internal/leveling"
	"github.com/code-wolf-byte/hunterxp/internal/progression"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

const token = "s3cret"

func newServer(t *testing.T, adminToken string) *httptest.Server {
	t.Helper()
	l := zerolog.Nop()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"), &l)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close(db) })
	w := database.NewWriter(db, database.WriterOptions{}, &l)
	t.Cleanup(func() { w.Close() })

	formulas := formula.NewCache()
	e := leveling.New(leveling.Deps{
		Store:      database.NewStore(db, w),
		Calculator: progression.New(formulas, &l),
		Formulas:   formulas,
	}, leveling.DefaultOptions(), &l)
	t.Cleanup(e.Close)

	srv := httptest.NewServer(New(e, adminToken, &l).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	m, _ := out.(map[string]any)
	if m == nil {
		m = map[string]any{"list": out}
	}
	return resp.StatusCode, m
}

func TestHealthz(t *testing.T) {
	srv := newServer(t, "")
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	srv := newServer(t, token)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"scheme", "Basic " + token, http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/guilds/g/config", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestDisabledWithoutToken(t *testing.T) {
	srv := newServer(t, "")
	status, _ := do(t, srv, http.MethodGet, "/guilds/g/config", "")
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
}

func TestConfig(t *testing.T) {
	srv := newServer(t, token)

	status, body := do(t, srv, http.MethodGet, "/guilds/g/config", "")
	if status != http.StatusOK || body["xp_min"] != float64(15) || body["xp_cooldown"] != float64(60) {
		t.Fatalf("defaults: %d %v", status, body)
	}

	status, body = do(t, srv, http.MethodPatch, "/guilds/g/config", `{"xp_max": 40, "levelup_channel": "c9"}`)
	if status != http.StatusOK || body["xp_max"] != float64(40) || body["levelup_channel"] != "c9" {
		t.Fatalf("patch: %d %v", status, body)
	}

	status, body = do(t, srv, http.MethodPatch, "/guilds/g/config", `{"xp_min": 0}`)
	if status != http.StatusUnprocessableEntity || body["field"] != "xp_min" {
		t.Fatalf("invalid patch: %d %v", status, body)
	}

	status, body = do(t, srv, http.MethodPatch, "/guilds/g/config", `{"xp_formula": "level +"}`)
	if status != http.StatusUnprocessableEntity || body["field"] != "xp_formula" {
		t.Fatalf("broken formula: %d %v", status, body)
	}

	status, _ = do(t, srv, http.MethodPatch, "/guilds/g/config", `{"bogus": 1}`)
	if status != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", status)
	}

	status, body = do(t, srv, http.MethodGet, "/guilds/g/config", "")
	if status != http.StatusOK || body["xp_min"] != float64(15) || body["xp_max"] != float64(40) {
		t.Fatalf("rejected patches must not persist: %v", body)
	}
}

func TestChannelLists(t *testing.T) {
	srv := newServer(t, token)

	do(t, srv, http.MethodPut, "/guilds/g/config/blacklist/c1", "")
	_, body := do(t, srv, http.MethodPut, "/guilds/g/config/blacklist/c2", "")
	if diff := cmp.Diff([]any{"c1", "c2"}, body["blacklisted_channels"]); diff != "" {
		t.Errorf("blacklist (-want +got):\n%s", diff)
	}
	_, body = do(t, srv, http.MethodDelete, "/guilds/g/config/blacklist/c1", "")
	if diff := cmp.Diff([]any{"c2"}, body["blacklisted_channels"]); diff != "" {
		t.Errorf("blacklist after removal (-want +got):\n%s", diff)
	}

	do(t, srv, http.MethodPut, "/guilds/g/config/whitelist/c3", "")
	_, body = do(t, srv, http.MethodDelete, "/guilds/g/config/whitelist", "")
	if diff := cmp.Diff([]any{}, body["whitelisted_channels"]); diff != "" {
		t.Errorf("cleared whitelist (-want +got):\n%s", diff)
	}
}

func TestRoleMultipliers(t *testing.T) {
	srv := newServer(t, token)

	status, body := do(t, srv, http.MethodPut, "/guilds/g/config/multipliers/r1", `{"multiplier": 2.5}`)
	if status != http.StatusOK {
		t.Fatalf("set: %d %v", status, body)
	}
	if diff := cmp.Diff(map[string]any{"r1": 2.5}, body["role_multipliers"]); diff != "" {
		t.Errorf("multipliers (-want +got):\n%s", diff)
	}

	status, body = do(t, srv, http.MethodPut, "/guilds/g/config/multipliers/r2", `{"multiplier": 50}`)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("out of range multiplier: %d %v", status, body)
	}

	_, body = do(t, srv, http.MethodDelete, "/guilds/g/config/multipliers/r1", "")
	if diff := cmp.Diff(map[string]any{}, body["role_multipliers"]); diff != "" {
		t.Errorf("after removal (-want +got):\n%s", diff)
	}
}

func TestUserXP(t *testing.T) {
	srv := newServer(t, token)

	status, body := do(t, srv, http.MethodPut, "/guilds/g/users/u1/xp", `{"xp": 5500}`)
	if status != http.StatusOK || body["new_total"] != float64(5500) || body["new_level"] != float64(10) {
		t.Fatalf("set xp: %d %v", status, body)
	}

	status, body = do(t, srv, http.MethodPut, "/guilds/g/users/u1/xp", `{"add": -500}`)
	if status != http.StatusOK || body["old_total"] != float64(5500) || body["new_total"] != float64(5000) {
		t.Fatalf("add xp: %d %v", status, body)
	}

	status, _ = do(t, srv, http.MethodPut, "/guilds/g/users/u1/xp", `{"xp": 1, "add": 1}`)
	if status != http.StatusBadRequest {
		t.Errorf("both fields: %d, want 400", status)
	}

	status, body = do(t, srv, http.MethodGet, "/guilds/g/users/u1", "")
	if status != http.StatusOK {
		t.Fatalf("profile: %d", status)
	}
	want := map[string]any{"total_xp": float64(5000), "level": float64(9), "rank": "E-RANK", "class": "NONE", "position": float64(1)}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("profile[%s] = %v, want %v", k, body[k], v)
		}
	}
}

func TestLeaderboard(t *testing.T) {
	srv := newServer(t, token)
	do(t, srv, http.MethodPut, "/guilds/g/users/a/xp", `{"xp": 300}`)
	do(t, srv, http.MethodPut, "/guilds/g/users/b/xp", `{"xp": 900}`)

	status, body := do(t, srv, http.MethodGet, "/guilds/g/leaderboard", "")
	if status != http.StatusOK || body["board"] != "total" {
		t.Fatalf("leaderboard: %d %v", status, body)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %v", entries)
	}
	first := entries[0].(map[string]any)
	if first["user_id"] != "b" || first["position"] != float64(1) || first["value"] != float64(900) {
		t.Errorf("first entry = %v", first)
	}

	if status, _ := do(t, srv, http.MethodGet, "/guilds/g/leaderboard?board=monthly", ""); status != http.StatusBadRequest {
		t.Errorf("unknown board: %d, want 400", status)
	}
	if status, _ := do(t, srv, http.MethodGet, "/guilds/g/leaderboard?page=0", ""); status != http.StatusBadRequest {
		t.Errorf("page 0: %d, want 400", status)
	}

	status, body = do(t, srv, http.MethodGet, "/guilds/g/stats", "")
	if status != http.StatusOK || body["members"] != float64(2) || body["total_xp"] != float64(1200) {
		t.Errorf("stats: %d %v", status, body)
	}
}

func TestSeasons(t *testing.T) {
	srv := newServer(t, token)

	status, body := do(t, srv, http.MethodGet, "/guilds/g/seasons", "")
	if status != http.StatusOK {
		t.Fatalf("seasons: %d", status)
	}
	if list, _ := body["list"].([]any); len(list) != 0 {
		t.Errorf("fresh guild has seasons: %v", list)
	}

	if status, _ := do(t, srv, http.MethodPost, "/guilds/g/seasons/end", ""); status != http.StatusNotFound {
		t.Errorf("end season without data: %d, want 404", status)
	}
}
