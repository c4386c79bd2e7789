package terminal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Nebu1ea/Grimoire/internal/api"
)

// Dispatcher turns operator command lines into remote tasks and polls for
// their results. All outcomes land in the transcript; callers observe only
// the transcript and the sending flag.
type Dispatcher struct {
	client     *api.Client
	transcript *Transcript
	log        zerolog.Logger

	// history supplies the local input history for the history builtin.
	history func() []string

	// sleep is the inter-attempt pause, injectable so tests run without
	// real timers.
	sleep        func(time.Duration)
	pollInterval time.Duration
	maxAttempts  int

	sending atomic.Bool

	// Dispatches against the same beacon are serialized so their transcript
	// entries never interleave.
	beaconMu sync.Mutex
	beacons  map[string]*sync.Mutex
}

// NewDispatcher builds a Dispatcher writing to the given transcript.
// pollInterval and maxAttempts bound the result poll loop; zero values get
// the standard 2s/30 budget.
func NewDispatcher(client *api.Client, transcript *Transcript, history func() []string, pollInterval time.Duration, maxAttempts int, log zerolog.Logger) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	return &Dispatcher{
		client:       client,
		transcript:   transcript,
		log:          log,
		history:      history,
		sleep:        time.Sleep,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		beacons:      make(map[string]*sync.Mutex),
	}
}

// IsSending reports whether a dispatch or history fetch is in flight.
func (d *Dispatcher) IsSending() bool {
	return d.sending.Load()
}

// Tokenize splits a raw command line on runs of whitespace. The first token
// is the command verb; the remaining tokens, rejoined with single spaces,
// form the argument string.
func Tokenize(rawLine string) (command, args string) {
	parts := strings.Fields(rawLine)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

type taskCreateRequest struct {
	BeaconID  string `json:"beacon_id"`
	Command   string `json:"command"`
	Arguments string `json:"arguments"`
}

type taskCreateResponse struct {
	TaskID string `json:"task_id"`
}

type taskOutputResponse struct {
	Result string `json:"result"`
}

// Dispatch runs one operator command line against a beacon: echo the input,
// resolve built-ins locally, otherwise create a remote task and poll for its
// result. It never returns an error; every outcome is a transcript entry.
func (d *Dispatcher) Dispatch(ctx context.Context, beaconID, rawLine string) {
	lock := d.beaconLock(beaconID)
	lock.Lock()
	defer lock.Unlock()

	d.sending.Store(true)
	defer d.sending.Store(false)

	command, args := Tokenize(rawLine)
	log := d.log.With().
		Str("dispatch_id", uuid.NewString()).
		Str("beacon_id", beaconID).
		Str("command", command).
		Logger()

	// Echo the intent before anything that can fail.
	d.transcript.Append(beaconID, Entry{
		Type:        EntryInput,
		FullCommand: rawLine,
		Content:     "> " + rawLine,
		Timestamp:   d.transcript.stamp(),
	})

	if fn, ok := builtins[command]; ok {
		fn(d, beaconID, rawLine, args)
		return
	}

	if command == "task_history" {
		d.fetchHistory(ctx, beaconID, log)
		return
	}

	if wideArgVerbs[command] {
		args = encodeWideArgs(args)
	}

	var created taskCreateResponse
	err := d.client.Post(ctx, "/operator/task/create", taskCreateRequest{
		BeaconID:  beaconID,
		Command:   command,
		Arguments: args,
	}, &created)
	if err != nil {
		log.Warn().Err(err).Msg("Task creation failed")
		d.appendFailure(beaconID, rawLine, err)
		return
	}

	log.Debug().Str("task_id", created.TaskID).Msg("Task created")
	d.transcript.Append(beaconID, Entry{
		Type:        EntrySystem,
		FullCommand: rawLine,
		Content:     fmt.Sprintf("[*] Task created: %s. Waiting for beacon to check-in...", created.TaskID),
		Timestamp:   d.transcript.stamp(),
	})

	d.pollOutput(ctx, beaconID, rawLine, created.TaskID, log)
}

// pollOutput fetches the task result until it appears or the attempt budget
// runs out. A transport error at any attempt is the same failure as task
// creation failing.
func (d *Dispatcher) pollOutput(ctx context.Context, beaconID, rawLine, taskID string, log zerolog.Logger) {
	var output string
	for attempt := 0; output == "" && attempt < d.maxAttempts; attempt++ {
		var resp taskOutputResponse
		if err := d.client.Get(ctx, "/operator/task/output/"+taskID, &resp); err != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("Output poll failed")
			d.appendFailure(beaconID, rawLine, err)
			return
		}

		if resp.Result != "" {
			output = resp.Result
		} else {
			d.sleep(d.pollInterval)
		}
	}

	if output == "" {
		log.Warn().Str("task_id", taskID).Msg("Task timed out")
		d.transcript.Append(beaconID, Entry{
			Type:        EntryError,
			FullCommand: rawLine,
			Content:     fmt.Sprintf("[!] Task %s timed out or returned no output.", taskID),
			Timestamp:   d.transcript.stamp(),
		})
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(output)
	if err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("Result decode failed")
		d.appendFailure(beaconID, rawLine, err)
		return
	}

	d.transcript.Append(beaconID, Entry{
		Type:        EntryOutput,
		FullCommand: rawLine,
		Content:     string(decoded),
		Timestamp:   d.transcript.stamp(),
	})
}

// appendFailure records a task-lifecycle failure, preferring the server's
// own message when one came back.
func (d *Dispatcher) appendFailure(beaconID, rawLine string, err error) {
	msg := "Communication failed"
	var se *api.StatusError
	if errors.As(err, &se) && se.Msg != "" {
		msg = se.Msg
	}
	d.transcript.Append(beaconID, Entry{
		Type:        EntryError,
		FullCommand: rawLine,
		Content:     "[!] Error: " + msg,
		Timestamp:   d.transcript.stamp(),
	})
}

type historyRecord struct {
	Command   string `json:"command"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// FetchHistory renders a beacon's past tasks into the transcript, one output
// entry per task with the record's own timestamp.
func (d *Dispatcher) FetchHistory(ctx context.Context, beaconID string) {
	d.fetchHistory(ctx, beaconID, d.log.With().Str("beacon_id", beaconID).Logger())
}

func (d *Dispatcher) fetchHistory(ctx context.Context, beaconID string, log zerolog.Logger) {
	d.sending.Store(true)
	defer d.sending.Store(false)

	var tasks map[string]historyRecord
	if err := d.client.Get(ctx, "/operator/task/history/"+beaconID, &tasks); err != nil {
		log.Warn().Err(err).Msg("History fetch failed")
		d.transcript.Append(beaconID, Entry{
			Type:        EntryError,
			FullCommand: "task_history",
			Content:     "Failed to fetch history.",
			Timestamp:   "",
		})
		return
	}

	d.transcript.Append(beaconID, Entry{
		Type:        EntrySystem,
		FullCommand: "task_history",
		Content:     fmt.Sprintf("[*] Syncing historical tasks for %s...", beaconID),
		Timestamp:   d.transcript.stamp(),
	})

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		task := tasks[id]
		result := task.Result
		if result == "" {
			result = "No output"
		}
		d.transcript.Append(beaconID, Entry{
			Type:        EntryOutput,
			FullCommand: "task_history",
			Content:     fmt.Sprintf("[TASK %s] %s: %s", id, task.Command, result),
			Timestamp:   task.Timestamp,
		})
	}
}

func (d *Dispatcher) beaconLock(beaconID string) *sync.Mutex {
	d.beaconMu.Lock()
	defer d.beaconMu.Unlock()
	lock, ok := d.beacons[beaconID]
	if !ok {
		lock = &sync.Mutex{}
		d.beacons[beaconID] = lock
	}
	return lock
}
