// grimoire — operator console for the Grimoire beacon platform
//
// Usage:
//
//	grimoire console — interactive operator terminal
//	grimoire beacons — list the current beacon roster
//	grimoire login   — authenticate and persist the session token
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Nebu1ea/Grimoire/cmd/auth"
	"github.com/Nebu1ea/Grimoire/cmd/beacons"
	"github.com/Nebu1ea/Grimoire/cmd/console"
)

const (
	defaultSystemPath = "/etc/grimoire/config.toml"
	defaultLocalPath  = "grimoire.toml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Optional .env next to the binary; the real environment still wins.
	_ = godotenv.Load()

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified; commands fall back to
	// built-in defaults when no file exists anywhere.
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else if _, err := os.Stat(defaultSystemPath); err == nil {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "console":
		err = console.Run(configPath)
	case "beacons":
		err = beacons.Run(configPath)
	case "login":
		err = auth.Login(configPath)
	case "logout":
		err = auth.Logout(configPath)
	case "passwd":
		err = auth.Passwd(configPath)
	case "edit":
		if configPath == "" {
			configPath = defaultLocalPath
		}
		err = console.EditConfig(configPath)
	case "version":
		fmt.Printf("grimoire v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`grimoire v%s — Operator Console for the Grimoire Beacon Platform

Usage:
  grimoire <command> [--config <path>]

Commands:
  console  Launch the interactive operator terminal
  beacons  List the current beacon roster (one-shot)
  login    Authenticate and persist the session token
  logout   Clear the persisted session token
  passwd   Change the operator password
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./%s, then %s)

Examples:
  grimoire login                        # Authenticate against the team server
  grimoire console                      # Open the beacon lobby and terminal
  grimoire beacons                      # Quick roster check

`, version, defaultLocalPath, defaultSystemPath)
}
