// Package beacons implements the one-shot roster listing command.
package beacons

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Nebu1ea/Grimoire/internal/api"
	"github.com/Nebu1ea/Grimoire/internal/keyring"
	"github.com/Nebu1ea/Grimoire/internal/registry"
	"github.com/Nebu1ea/Grimoire/internal/session"
	"github.com/Nebu1ea/Grimoire/pkg/config"
	"github.com/Nebu1ea/Grimoire/pkg/logger"
)

// Run fetches the beacon roster once and prints it as a table.
func Run(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Console.LogLevel)

	timeout, err := cfg.Server.ParseRequestTimeout()
	if err != nil {
		return fmt.Errorf("parsing request timeout: %w", err)
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
	client.OnAuthExpired(sess.ExpireAuth)

	if !sess.IsAuthenticated() {
		return fmt.Errorf("not logged in — run 'grimoire login' first")
	}

	reg := registry.New(client, log)
	if err := reg.Refresh(context.Background()); err != nil {
		return err
	}

	beacons := reg.Formatted()
	if len(beacons) == 0 {
		fmt.Println("No beacons registered.")
		return nil
	}

	fmt.Printf("\n  Beacons (%d active / %d total)\n\n", reg.ActiveCount(), len(beacons))
	fmt.Printf("  %-14s %-16s %-20s %-16s %-20s %-8s\n",
		"ID", "User", "OS", "IP Address", "Last Check-in", "Status")
	fmt.Printf("  %s %s %s %s %s %s\n",
		strings.Repeat("─", 14),
		strings.Repeat("─", 16),
		strings.Repeat("─", 20),
		strings.Repeat("─", 16),
		strings.Repeat("─", 20),
		strings.Repeat("─", 8))

	for _, b := range beacons {
		fmt.Printf("  %-14s %-16s %-20s %-16s %-20s %-8s\n",
			b.ID, b.User, b.OS, b.IPAddress, b.DisplayCheckin, b.Status)
	}
	return nil
}
