// Package auth implements the login, logout and passwd commands.
package auth

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/Nebu1ea/Grimoire/internal/api"
	"github.com/Nebu1ea/Grimoire/internal/keyring"
	"github.com/Nebu1ea/Grimoire/internal/session"
	"github.com/Nebu1ea/Grimoire/pkg/config"
	"github.com/Nebu1ea/Grimoire/pkg/logger"
)

// Login prompts for credentials and persists the session token on success.
func Login(configPath string) error {
	sess, ring, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer ring.Close()

	if sess.IsAuthenticated() {
		fmt.Printf("Already logged in as %s. Run 'grimoire logout' to switch operators.\n", sess.Username())
		return nil
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading username: %w", err)
	}
	username = strings.TrimSpace(username)

	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	sess.Login(context.Background(), username, password)
	if !sess.IsAuthenticated() {
		return fmt.Errorf("%s", sess.LoginError())
	}

	fmt.Printf("✓ Authenticated as %s\n", username)
	return nil
}

// Logout clears the persisted session token.
func Logout(configPath string) error {
	sess, ring, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer ring.Close()

	sess.Logout()
	fmt.Println("✓ Logged out.")
	return nil
}

// Passwd changes the operator password on the team server.
func Passwd(configPath string) error {
	sess, ring, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer ring.Close()

	if !sess.IsAuthenticated() {
		return fmt.Errorf("not logged in — run 'grimoire login' first")
	}

	current, err := readPassword("Current password: ")
	if err != nil {
		return err
	}
	next, err := readPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := readPassword("Confirm new password: ")
	if err != nil {
		return err
	}
	if next != confirm {
		return fmt.Errorf("new passwords do not match")
	}

	if err := sess.ChangePassword(context.Background(), current, next); err != nil {
		return fmt.Errorf("changing password: %w", err)
	}

	fmt.Println("✓ Password changed.")
	return nil
}

func bootstrap(configPath string) (*session.Session, *keyring.Store, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Console.LogLevel)

	timeout, err := cfg.Server.ParseRequestTimeout()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing request timeout: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Console.KeyringPath), 0700); err != nil {
		return nil, nil, fmt.Errorf("creating keyring directory: %w", err)
	}
	ring, err := keyring.New(cfg.Console.KeyringPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening keyring: %w", err)
	}

	client := api.New(cfg.Server.URL, timeout, log)
	sess := session.New(client, ring, log)
	client.SetTokenSource(sess)
	client.OnAuthExpired(sess.ExpireAuth)

	return sess, ring, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := string(passwordBytes)

	// Zero password from memory
	for i := range passwordBytes {
		passwordBytes[i] = 0
	}
	return password, nil
}
