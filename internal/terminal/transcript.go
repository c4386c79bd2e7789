// Package terminal implements the operator terminal engine: the per-beacon
// transcript log, the built-in command table, and the task dispatcher that
// sends commands to beacons and polls for their results.
package terminal

import (
	"sync"
	"time"
)

// EntryType classifies a transcript entry.
type EntryType string

const (
	EntryInput     EntryType = "input"
	EntryOutput    EntryType = "output"
	EntryError     EntryType = "error"
	EntrySystem    EntryType = "system"
	EntryEasterEgg EntryType = "easter-egg"
)

// Entry is one immutable line in a beacon's transcript.
type Entry struct {
	Type        EntryType
	FullCommand string
	Content     string
	Timestamp   string
}

// Transcript is an append-only log of entries keyed by beacon id. Each
// beacon's sequence is independent; ordering within a sequence is strictly
// append order.
type Transcript struct {
	mu   sync.RWMutex
	logs map[string][]Entry
	now  func() time.Time
}

// NewTranscript returns an empty transcript store.
func NewTranscript() *Transcript {
	return &Transcript{
		logs: make(map[string][]Entry),
		now:  time.Now,
	}
}

// Append adds an entry to the given beacon's sequence, creating it on first use.
func (t *Transcript) Append(beaconID string, e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs[beaconID] = append(t.logs[beaconID], e)
}

// Entries returns a copy of the given beacon's sequence.
func (t *Transcript) Entries(beaconID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := t.logs[beaconID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Clear wipes the given beacon's sequence. Other beacons are unaffected.
func (t *Transcript) Clear(beaconID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs[beaconID] = nil
}

// stamp renders the current wall-clock time the way transcript entries carry it.
func (t *Transcript) stamp() string {
	return t.now().Format("15:04:05")
}
