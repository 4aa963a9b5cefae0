package guard

import (
	"strings"
	"sync"
	"time"
)

type lastMessage struct {
	text string
	at   time.Time
}

// Duplicates remembers each member's previous message text.
type Duplicates struct {
	mu   sync.Mutex
	last map[Key]lastMessage
}

func NewDuplicates() *Duplicates {
	return &Duplicates{last: make(map[Key]lastMessage)}
}

// Repeat records text, sent at at, as the member's latest message and
// reports whether it matches the one before it. Surrounding whitespace is
// ignored and empty text never counts as a repeat.
func (d *Duplicates) Repeat(k Key, text string, at time.Time) bool {
	text = strings.TrimSpace(text)
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.last[k]
	d.last[k] = lastMessage{text: text, at: at}
	return ok && text != "" && prev.text == text
}

// Forget drops messages sent before before.
func (d *Duplicates) Forget(before time.Time) {
	d.mu.Lock()
	for k, m := range d.last {
		if m.at.Before(before) {
			delete(d.last, k)
		}
	}
	d.mu.Unlock()
}

// Penalize divides a gain by three, never going below one.
func Penalize(gain int64) int64 {
	return max(1, gain/3)
}
