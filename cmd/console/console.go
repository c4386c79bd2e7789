// Package console implements the interactive operator terminal: login,
// beacon lobby, and the per-beacon command loop.
package console

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Nebu1ea/Grimoire/internal/api"
	"github.com/Nebu1ea/Grimoire/internal/keyring"
	"github.com/Nebu1ea/Grimoire/internal/registry"
	"github.com/Nebu1ea/Grimoire/internal/session"
	"github.com/Nebu1ea/Grimoire/internal/terminal"
	"github.com/Nebu1ea/Grimoire/pkg/config"
	"github.com/Nebu1ea/Grimoire/pkg/logger"
)

// Run starts the interactive operator console.
func Run(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var log zerolog.Logger
	if cfg.Console.LogFile != "" {
		log, err = logger.InitFile(cfg.Console.LogLevel, cfg.Console.LogFile)
		if err != nil {
			return err
		}
	} else {
		// Keep the interactive terminal clean; structured output only
		// matters when something goes wrong.
		log = logger.Init("warn")
	}

	timeout, err := cfg.Server.ParseRequestTimeout()
	if err != nil {
		return fmt.Errorf("parsing request timeout: %w", err)
	}
	refresh, err := cfg.Console.ParseRefreshInterval()
	if err != nil {
		return fmt.Errorf("parsing refresh interval: %w", err)
	}
	pollInterval, err := cfg.Console.ParsePollInterval()
	if err != nil {
		return fmt.Errorf("parsing poll interval: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Console.KeyringPath), 0700); err != nil {
		return fmt.Errorf("creating keyring directory: %w", err)
	}
	ring, err := keyring.New(cfg.Console.KeyringPath, log)
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	defer ring.Close()

	client := api.New(cfg.Server.URL, timeout, log)
	sess := session.New(client, ring, log)
	client.SetTokenSource(sess)
	client.OnAuthExpired(func() {
		sess.ExpireAuth()
		fmt.Println("\n[!] Session expired — please log in again.")
	})

	reg := registry.New(client, log)
	transcript := terminal.NewTranscript()
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("Grimoire operator console — %s\n", cfg.Server.URL)

	for {
		if !sess.IsAuthenticated() {
			if err := loginLoop(ctx, reader, sess); err != nil {
				return err
			}
		}

		reg.StartPolling(refresh)
		beaconID, quit := lobby(ctx, reader, reg)
		if quit {
			reg.StopPolling()
			return nil
		}
		if !sess.IsAuthenticated() {
			reg.StopPolling()
			continue
		}

		runTerminal(ctx, reader, client, sess, transcript, beaconID, pollInterval, cfg.Console.PollAttempts, log)
		reg.StopPolling()
	}
}

// loginLoop prompts for credentials until a login succeeds or stdin closes.
func loginLoop(ctx context.Context, reader *bufio.Reader, sess *session.Session) error {
	for !sess.IsAuthenticated() {
		fmt.Print("\nUsername: ")
		username, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading username: %w", err)
		}
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}

		fmt.Print("Password: ")
		passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		sess.Login(ctx, username, string(passwordBytes))

		// Zero password from memory
		for i := range passwordBytes {
			passwordBytes[i] = 0
		}

		if !sess.IsAuthenticated() {
			fmt.Printf("✗ %s\n", sess.LoginError())
			continue
		}
		fmt.Printf("✓ Authenticated as %s\n", sess.Username())
	}
	return nil
}

// lobby shows the auto-refreshing roster and prompts for a beacon selection.
// Returns the selected beacon id, or quit=true when the operator exits.
func lobby(ctx context.Context, reader *bufio.Reader, reg *registry.Registry) (string, bool) {
	for {
		beacons := reg.Formatted()
		fmt.Printf("\n  Beacon Lobby (%d active / %d total)\n\n", reg.ActiveCount(), len(beacons))
		displayBeaconTable(beacons)

		fmt.Print("\nEnter beacon index (r = refresh, q = quit): ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", true
		}
		line = strings.TrimSpace(line)

		switch line {
		case "q", "quit", "exit":
			return "", true
		case "r", "":
			reg.Refresh(ctx)
			continue
		}

		index, err := strconv.Atoi(line)
		if err != nil || index < 1 || index > len(beacons) {
			fmt.Printf("Invalid beacon index: %s\n", line)
			continue
		}

		selected := beacons[index-1]
		reg.Select(selected.ID)
		fmt.Printf("\nSelected: %s (%s@%s)\n", selected.ID, selected.User, selected.IPAddress)
		return selected.ID, false
	}
}

// runTerminal is the per-beacon command loop. Commands block until resolved;
// transcript entries are rendered as they are appended.
func runTerminal(ctx context.Context, reader *bufio.Reader, client *api.Client, sess *session.Session, transcript *terminal.Transcript, beaconID string, pollInterval time.Duration, attempts int, log zerolog.Logger) {
	var history []string
	disp := terminal.NewDispatcher(client, transcript, func() []string {
		return history
	}, pollInterval, attempts, log)

	fmt.Println(`Type "help" for commands, "back" for the lobby, "exit" to quit.`)

	// Replay what this beacon's transcript already holds.
	rendered := 0
	for _, e := range transcript.Entries(beaconID) {
		printEntry(e)
		rendered++
	}

	for {
		fmt.Printf("\ngrimoire(%s)> ", beaconID)
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "back":
			return
		case "exit", "quit":
			os.Exit(0)
		}

		history = append(history, line)
		disp.Dispatch(ctx, beaconID, line)

		if !sess.IsAuthenticated() {
			return
		}

		entries := transcript.Entries(beaconID)
		if len(entries) < rendered {
			// The transcript shrank: the clear builtin ran.
			fmt.Print("\033[2J\033[H")
			rendered = 0
		}
		for _, e := range entries[rendered:] {
			printEntry(e)
		}
		rendered = len(entries)
	}
}

func printEntry(e terminal.Entry) {
	// Input entries duplicate what the operator just typed; skip them.
	if e.Type == terminal.EntryInput {
		return
	}
	fmt.Println(e.Content)
}

func displayBeaconTable(beacons []registry.FormattedBeacon) {
	fmt.Printf("  %-4s %-14s %-16s %-20s %-16s %-20s %-8s\n",
		"#", "ID", "User", "OS", "IP Address", "Last Check-in", "Status")
	fmt.Printf("  %s %s %s %s %s %s %s\n",
		strings.Repeat("─", 4),
		strings.Repeat("─", 14),
		strings.Repeat("─", 16),
		strings.Repeat("─", 20),
		strings.Repeat("─", 16),
		strings.Repeat("─", 20),
		strings.Repeat("─", 8))

	for i, b := range beacons {
		fmt.Printf("  %-4d %-14s %-16s %-20s %-16s %-20s %-8s\n",
			i+1,
			truncate(b.ID, 14),
			truncate(b.User, 16),
			truncate(b.OS, 20),
			b.IPAddress,
			b.DisplayCheckin,
			b.Status,
		)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
