package web

import (
	"sync"
	"time"

	"github.com/kelindar/event"

	"pmicvib/internal/vibrator"
)

// HistoryEntry is one register apply as seen by the worker.
type HistoryEntry struct {
	At       time.Time `json:"at"`
	On       bool      `json:"on"`
	LevelMV  int       `json:"level_mv"`
	Forced   bool      `json:"forced,omitempty"`
	Register *byte     `json:"register,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// History records the newest apply events published by a vibrator.Device.
type History struct {
	mu      sync.Mutex
	max     int
	entries []HistoryEntry
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = 100
	}
	return &History{max: max}
}

// Attach subscribes to apply events on disp. The returned function
// unsubscribes.
func (h *History) Attach(disp *event.Dispatcher) func() {
	cancelOK := event.Subscribe(disp, func(ev vibrator.AppliedEvent) {
		reg := ev.Register
		h.add(HistoryEntry{At: ev.At, On: ev.On, LevelMV: ev.LevelMV, Forced: ev.Forced, Register: &reg})
	})
	cancelFail := event.Subscribe(disp, func(ev vibrator.ApplyFailedEvent) {
		h.add(HistoryEntry{At: ev.At, On: ev.On, LevelMV: ev.LevelMV, Forced: ev.Forced, Error: ev.Message})
	})
	return func() {
		cancelOK()
		cancelFail()
	}
}

func (h *History) add(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if over := len(h.entries) - h.max; over > 0 {
		h.entries = h.entries[over:]
	}
}

// Recent returns up to n entries, newest last.
func (h *History) Recent(n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.entries) {
		n = len(h.entries)
	}
	return append([]HistoryEntry(nil), h.entries[len(h.entries)-n:]...)
}
