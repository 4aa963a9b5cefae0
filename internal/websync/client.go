// Package websync mirrors XP grants and class choices to the companion web
// app through its bot-sync edge function.
package websync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/code-wolf-byte/hunterxp/internal/classes"
	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"
)

// MaxXPPerCall is the largest grant the edge function accepts at once.
const MaxXPPerCall = 1000

const endpointPath = "/functions/v1/bot-sync"

// drainLimit caps how much of an unread response body is discarded so the
// connection can be reused.
const drainLimit = 64 << 10

var ErrNotConfigured = errors.New("web sync is not configured")

type Options struct {
	BaseURL    string
	ServiceKey string
	BotSecret  string
	Timeout    time.Duration
}

// Enabled reports whether every credential needed to call the web app is set.
func (o Options) Enabled() bool {
	return o.BaseURL != "" && o.ServiceKey != "" && o.BotSecret != ""
}

type Client struct {
	endpoint   string
	serviceKey string
	botSecret  string
	httpClient *http.Client
	log        *zerolog.Logger
}

func New(opts Options, log *zerolog.Logger) (*Client, error) {
	if !opts.Enabled() {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid web sync url %q: %w", opts.BaseURL, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	l := log.With().Str("component", "websync").Logger()
	return &Client{
		endpoint:   base.JoinPath(endpointPath).String(),
		serviceKey: opts.ServiceKey,
		botSecret:  opts.BotSecret,
		httpClient: &http.Client{Timeout: opts.Timeout},
		log:        &l,
	}, nil
}

type request struct {
	DiscordID string `json:"discord_id"`
	Action    string `json:"action"`
	Data      any    `json:"data,omitempty"`
}

type xpData struct {
	XP     int64  `json:"xp"`
	Source string `json:"source"`
}

type classData struct {
	Class string `json:"class"`
}

// StatusError is a non-200 answer from the edge function.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("web sync returned %d: %s", e.Status, e.Message)
}

// SyncXPDelta forwards a positive grant, capped at MaxXPPerCall.
func (c *Client) SyncXPDelta(ctx context.Context, userID string, amount int64, source string) error {
	if amount <= 0 {
		return nil
	}
	return c.post(ctx, request{
		DiscordID: userID,
		Action:    "add_xp",
		Data:      xpData{XP: min(amount, MaxXPPerCall), Source: source},
	})
}

func (c *Client) SyncClassSelection(ctx context.Context, userID string, class classes.Class) error {
	return c.post(ctx, request{
		DiscordID: userID,
		Action:    "set_class",
		Data:      classData{Class: string(class)},
	})
}

func (c *Client) post(ctx context.Context, body request) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("unable to encode %s request: %w", body.Action, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("unable to build %s request: %w", body.Action, err)
	}
	requestID := uuid.NewV4().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("X-Bot-Secret", c.botSecret)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach web sync: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	c.log.Debug().
		Str("action", body.Action).
		Str("user_id", body.DiscordID).
		Str("request_id", requestID).
		Msg("synced to web")
	return nil
}

// errorMessage pulls the "error" field out of a failure body, falling back
// to the raw text.
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return "unreadable response"
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	if len(raw) == 0 {
		return http.StatusText(http.StatusInternalServerError)
	}
	return string(raw)
}
