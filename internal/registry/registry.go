// Package registry maintains the live beacon roster: periodic refresh from
// the team server, operator selection, and derived views over the current
// snapshot.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nebu1ea/Grimoire/internal/api"
)

// Beacon is one remote agent as reported by the team server.
type Beacon struct {
	ID          string `json:"id"`
	User        string `json:"user"`
	OS          string `json:"os"`
	IPAddress   string `json:"ip_address"`
	LastCheckin int64  `json:"last_checkin"`
	Status      string `json:"status"`
}

// StatusActive is the normalized status of a beacon currently checking in.
const StatusActive = "active"

// FormattedBeacon is a Beacon with a human-readable check-in time, computed
// on read for roster display.
type FormattedBeacon struct {
	Beacon
	DisplayCheckin string
}

// Registry holds the beacon roster and the operator's current selection.
type Registry struct {
	client *api.Client
	log    zerolog.Logger

	mu         sync.RWMutex
	beacons    []Beacon
	selectedID string

	refreshing atomic.Bool
	pollMu     sync.Mutex
	pollCancel context.CancelFunc
}

// New returns an empty Registry backed by the given client.
func New(client *api.Client, log zerolog.Logger) *Registry {
	return &Registry{client: client, log: log}
}

// Refresh fetches the full roster and replaces the stored set wholesale.
// If a refresh is already in flight the call is a no-op. Statuses are
// normalized to lowercase on ingest.
func (r *Registry) Refresh(ctx context.Context) error {
	if !r.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer r.refreshing.Store(false)

	var beacons []Beacon
	if err := r.client.Get(ctx, "/operator/beacons", &beacons); err != nil {
		r.log.Warn().Err(err).Msg("Failed to fetch beacons")
		return fmt.Errorf("fetching beacons: %w", err)
	}

	for i := range beacons {
		beacons[i].Status = strings.ToLower(beacons[i].Status)
	}

	r.mu.Lock()
	r.beacons = beacons
	r.mu.Unlock()

	r.log.Debug().Int("count", len(beacons)).Msg("Beacon roster refreshed")
	return nil
}

// StartPolling refreshes immediately, then keeps refreshing on the given
// period until StopPolling. Starting while already polling replaces the
// previous schedule, so there is never more than one timer.
func (r *Registry) StartPolling(interval time.Duration) {
	r.pollMu.Lock()
	if r.pollCancel != nil {
		r.pollCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.pollCancel = cancel
	r.pollMu.Unlock()

	r.Refresh(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Refresh(ctx)
			}
		}
	}()
}

// StopPolling cancels the refresh schedule. Safe to call when not polling.
func (r *Registry) StopPolling() {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	if r.pollCancel != nil {
		r.pollCancel()
		r.pollCancel = nil
	}
}

// Select records the operator's chosen beacon id. The id is not validated;
// Selected resolves it lazily against the current roster.
func (r *Registry) Select(id string) {
	r.mu.Lock()
	r.selectedID = id
	r.mu.Unlock()
}

// Selected returns the currently selected beacon, or false when no selection
// is made or the selected id has dropped out of the roster.
func (r *Registry) Selected() (Beacon, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.beacons {
		if b.ID == r.selectedID {
			return b, true
		}
	}
	return Beacon{}, false
}

// Beacons returns a copy of the current roster.
func (r *Registry) Beacons() []Beacon {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Beacon, len(r.beacons))
	copy(out, r.beacons)
	return out
}

// ActiveCount returns the number of beacons with active status.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, b := range r.beacons {
		if b.Status == StatusActive {
			count++
		}
	}
	return count
}

// Formatted returns the roster with display-ready check-in times.
func (r *Registry) Formatted() []FormattedBeacon {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FormattedBeacon, len(r.beacons))
	for i, b := range r.beacons {
		out[i] = FormattedBeacon{
			Beacon:         b,
			DisplayCheckin: time.Unix(b.LastCheckin, 0).Local().Format("2006-01-02 15:04:05"),
		}
	}
	return out
}
