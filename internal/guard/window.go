// Package guard holds the anti-abuse checks an activity event passes before
// it may earn XP.
package guard

import (
	"sync"
	"time"
)

// Key identifies a member within a guild.
type Key struct {
	GuildID string
	UserID  string
}

// Window is a per-member sliding window burst detector. Every observed
// message is recorded, including the ones it suppresses, so a member who
// keeps flooding stays suppressed until they slow down.
type Window struct {
	mu        sync.Mutex
	seen      map[Key][]time.Time
	threshold int
	span      time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWindow suppresses XP once more than threshold messages fall within
// span. A background sweep drops idle members until Close is called.
func NewWindow(threshold int, span time.Duration) *Window {
	w := &Window{
		seen:      make(map[Key][]time.Time),
		threshold: threshold,
		span:      span,
		stopCh:    make(chan struct{}),
	}
	go w.sweep(5 * time.Minute)
	return w
}

func (w *Window) Close() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Allow records a message at now and reports whether it may earn XP.
func (w *Window) Allow(k Key, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	recent := prune(w.seen[k], now.Add(-w.span))
	recent = append(recent, now)
	w.seen[k] = recent
	return len(recent) <= w.threshold
}

// prune keeps timestamps no older than cutoff, reusing the backing array.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (w *Window) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case now := <-ticker.C:
			w.mu.Lock()
			cutoff := now.Add(-w.span)
			for k, times := range w.seen {
				if recent := prune(times, cutoff); len(recent) == 0 {
					delete(w.seen, k)
				} else {
					w.seen[k] = recent
				}
			}
			w.mu.Unlock()
		}
	}
}

// Len reports how many members are currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
