package terminal

import "strings"

// SupportedCommands is the full verb list the console advertises, local and
// remote alike.
var SupportedCommands = []string{
	"clear", "shell", "history", "whoami", "powershell", "task_history", "help", "christmas",
}

// builtinFunc handles a command resolved locally, with no network call.
type builtinFunc func(d *Dispatcher, beaconID, rawLine, args string)

// builtins is the closed set of locally-resolved commands. Adding a local
// command means adding an entry here, nothing else.
var builtins = map[string]builtinFunc{
	"clear":     runClear,
	"help":      runHelp,
	"history":   runHistory,
	"christmas": runChristmas,
}

func runClear(d *Dispatcher, beaconID, _, _ string) {
	d.transcript.Clear(beaconID)
}

const helpText = `[ GRIMOIRE PROTOCOL - COMMAND MENU ]
---------------------------------------------------------
LOCAL COMMANDS:
  help            Display this help menu
  clear           Clear the terminal screen
  history         Show command input history

BEACON COMMANDS:
  whoami          Get current user context
  shell [cmd]     Execute a shell command
  powershell [cmd]     Execute a powershell command
  task_history    Fetch remote task execution logs
---------------------------------------------------------
  Tip: Use UP/DOWN arrows to navigate command history.
  Easter Egg Command       ??? Go and find them~~???
`

func runHelp(d *Dispatcher, beaconID, _, _ string) {
	d.transcript.Append(beaconID, Entry{
		Type:        EntrySystem,
		FullCommand: "help",
		Content:     helpText,
		Timestamp:   d.transcript.stamp(),
	})
}

func runHistory(d *Dispatcher, beaconID, _, _ string) {
	var history []string
	if d.history != nil {
		history = d.history()
	}
	d.transcript.Append(beaconID, Entry{
		Type:        EntrySystem,
		FullCommand: "history",
		Content:     "--- LOCAL COMMAND HISTORY ---\n" + strings.Join(history, "\n"),
		Timestamp:   d.transcript.stamp(),
	})
}

const christmasTree = `         *
        / \
       /   \
      / [!] \
     /   o   \
    /  o   [!] \
   / [!]  o  o  \
  /   o  [!]  o  \
 /  o  o   o  [!] \
/__________________\
        [___]
  MERRY CHRISTMAS!!`

func runChristmas(d *Dispatcher, beaconID, _, _ string) {
	d.transcript.Append(beaconID, Entry{
		Type:        EntryEasterEgg,
		FullCommand: "christmas",
		Content:     christmasTree,
		Timestamp:   d.transcript.stamp(),
	})
}
