package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nebu1ea/Grimoire/internal/api"
)

func rosterServer(t *testing.T, beacons []Beacon) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	requests := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		json.NewEncoder(w).Encode(beacons)
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func testRegistry(serverURL string) *Registry {
	return New(api.New(serverURL, 5*time.Second, zerolog.Nop()), zerolog.Nop())
}

func sampleRoster() []Beacon {
	return []Beacon{
		{ID: "b1", User: "SYSTEM", OS: "Windows 10", IPAddress: "10.0.0.5", LastCheckin: 1766620800, Status: "ACTIVE"},
		{ID: "b2", User: "alice", OS: "Ubuntu 22.04", IPAddress: "10.0.0.9", LastCheckin: 1766617200, Status: "Stale"},
		{ID: "b3", User: "bob", OS: "macOS 14", IPAddress: "10.0.0.12", LastCheckin: 1766610000, Status: "dead"},
	}
}

func TestRefresh_ReplacesWholesaleAndNormalizes(t *testing.T) {
	srv, _ := rosterServer(t, sampleRoster())
	r := testRegistry(srv.URL)

	// Pre-existing roster must be replaced, not merged.
	r.beacons = []Beacon{{ID: "gone", Status: "active"}}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	beacons := r.Beacons()
	if len(beacons) != 3 {
		t.Fatalf("expected 3 beacons, got %d", len(beacons))
	}
	if beacons[0].Status != "active" || beacons[1].Status != "stale" || beacons[2].Status != "dead" {
		t.Errorf("statuses not normalized: %+v", beacons)
	}
	for _, b := range beacons {
		if b.ID == "gone" {
			t.Error("stale roster entry survived refresh")
		}
	}
}

func TestRefresh_InFlightGuard(t *testing.T) {
	release := make(chan struct{})
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		json.NewEncoder(w).Encode([]Beacon{})
	}))
	defer srv.Close()

	r := testRegistry(srv.URL)

	done := make(chan struct{})
	go func() {
		r.Refresh(context.Background())
		close(done)
	}()

	// Wait until the first refresh is blocked inside the handler.
	for i := 0; requests.Load() == 0 && i < 100; i++ {
		time.Sleep(time.Millisecond)
	}

	// Overlapping refresh is a no-op, not a queued second fetch.
	if err := r.Refresh(context.Background()); err != nil {
		t.Errorf("guarded refresh should return nil, got %v", err)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("expected 1 request while guarded, got %d", n)
	}

	close(release)
	<-done
}

func TestSelect_LazyResolution(t *testing.T) {
	srv, _ := rosterServer(t, sampleRoster())
	r := testRegistry(srv.URL)
	r.Refresh(context.Background())

	// Selecting an unknown id is allowed; it just resolves to nothing.
	r.Select("no-such-beacon")
	if _, ok := r.Selected(); ok {
		t.Error("expected no selected beacon for unknown id")
	}

	r.Select("b2")
	selected, ok := r.Selected()
	if !ok || selected.ID != "b2" {
		t.Errorf("Selected: got (%+v, %v), want b2", selected, ok)
	}
}

func TestSelect_SurvivesRosterDropout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Beacon{{ID: "b9", Status: "active"}})
	}))
	defer srv.Close()

	r := testRegistry(srv.URL)
	r.beacons = sampleRoster()
	r.Select("b1")

	r.Refresh(context.Background())

	// b1 dropped out; the selection stays but resolves to none.
	if _, ok := r.Selected(); ok {
		t.Error("expected selection to resolve to none after dropout")
	}
}

func TestActiveCount(t *testing.T) {
	srv, _ := rosterServer(t, sampleRoster())
	r := testRegistry(srv.URL)
	r.Refresh(context.Background())

	if got := r.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount: got %d, want 1", got)
	}
}

func TestFormatted(t *testing.T) {
	srv, _ := rosterServer(t, sampleRoster())
	r := testRegistry(srv.URL)
	r.Refresh(context.Background())

	formatted := r.Formatted()
	if len(formatted) != 3 {
		t.Fatalf("expected 3 formatted beacons, got %d", len(formatted))
	}
	want := time.Unix(1766620800, 0).Local().Format("2006-01-02 15:04:05")
	if formatted[0].DisplayCheckin != want {
		t.Errorf("DisplayCheckin: got %s, want %s", formatted[0].DisplayCheckin, want)
	}
	if formatted[0].ID != "b1" {
		t.Errorf("formatted beacon keeps its fields: got %+v", formatted[0])
	}
}

func TestPolling_RefreshesOnInterval(t *testing.T) {
	srv, requests := rosterServer(t, sampleRoster())
	r := testRegistry(srv.URL)

	r.StartPolling(10 * time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	r.StopPolling()

	n := requests.Load()
	if n < 2 {
		t.Fatalf("expected immediate refresh plus periodic ones, got %d requests", n)
	}

	// No further refreshes after stop.
	time.Sleep(50 * time.Millisecond)
	if after := requests.Load(); after > n+1 {
		t.Errorf("polling continued after stop: %d -> %d", n, after)
	}
}

func TestPolling_RestartReplacesSchedule(t *testing.T) {
	srv, requests := rosterServer(t, sampleRoster())
	r := testRegistry(srv.URL)

	// Restarting must cancel the old timer rather than stacking a second one.
	r.StartPolling(10 * time.Millisecond)
	r.StartPolling(time.Hour)
	base := requests.Load()

	time.Sleep(100 * time.Millisecond)
	r.StopPolling()

	if n := requests.Load(); n > base {
		t.Errorf("old schedule kept firing after restart: %d -> %d", base, n)
	}
}

func TestStopPolling_SafeWhenNotPolling(t *testing.T) {
	srv, _ := rosterServer(t, nil)
	r := testRegistry(srv.URL)
	r.StopPolling()
	r.StopPolling()
}
