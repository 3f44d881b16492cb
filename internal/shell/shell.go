// Package shell provides an interactive diagnostic console for poking
// the storage coordinator at runtime: switching modes, draining
// batches, flushing and inspecting counters.
package shell

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"

	"github.com/xtxerr/stash/internal/errors"
	"github.com/xtxerr/stash/internal/storage"
)

// Shell is the interactive console. Command outcomes that arrive as
// coordinator events show up in the daemon log, not in the console.
type Shell struct {
	coord *storage.Coordinator

	// session id of the shell-driven batch drain, zero when none
	sessionID uint32
}

// New creates a shell over the coordinator.
func New(coord *storage.Coordinator) *Shell {
	return &Shell{coord: coord}
}

// Run starts the interactive prompt and blocks until the user exits.
func (s *Shell) Run() {
	fmt.Println("stash diagnostic shell, type 'help' for commands")

	p := prompt.New(
		s.execute,
		s.complete,
		prompt.OptionPrefix("stash> "),
		prompt.OptionTitle("stash"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && (in == "exit" || in == "quit")
		}),
	)
	p.Run()
}

var commands = []prompt.Suggest{
	{Text: "mode", Description: "Switch operating mode: mode passthrough|buffer"},
	{Text: "batch", Description: "Request one batch round and print its items"},
	{Text: "close", Description: "Close the shell's batch session"},
	{Text: "flush", Description: "Drain every stored record as data events"},
	{Text: "clear", Description: "Wipe all stored data"},
	{Text: "stats", Description: "Print counters and store latency percentiles"},
	{Text: "help", Description: "Show available commands"},
	{Text: "exit", Description: "Leave the shell"},
}

func (s *Shell) complete(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()

	if strings.HasPrefix(text, "mode ") {
		return prompt.FilterHasPrefix([]prompt.Suggest{
			{Text: "passthrough", Description: "Republish records without persisting"},
			{Text: "buffer", Description: "Persist records for later draining"},
		}, d.GetWordBeforeCursor(), true)
	}

	if strings.Contains(text, " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

func (s *Shell) execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "mode":
		s.cmdMode(fields[1:])
	case "batch":
		s.cmdBatch()
	case "close":
		s.cmdClose()
	case "flush":
		s.cmdFlush()
	case "clear":
		s.cmdClear()
	case "stats":
		s.cmdStats()
	case "help":
		s.cmdHelp()
	case "exit", "quit":
		// Run's exit checker ends the prompt loop after this returns
		fmt.Println("bye")
	default:
		fmt.Printf("unknown command %q, type 'help'\n", fields[0])
	}
}

func (s *Shell) cmdMode(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: mode passthrough|buffer")
		return
	}

	mode, err := storage.ParseMode(args[0])
	if err != nil {
		fmt.Println("usage: mode passthrough|buffer")
		return
	}

	if err := s.coord.RequestMode(mode); err != nil {
		fmt.Printf("request failed: %v\n", err)
		return
	}
	fmt.Printf("mode %s requested, result in the daemon log\n", mode)
}

func (s *Shell) cmdBatch() {
	if s.sessionID == 0 {
		s.sessionID = rand.Uint32()
		if s.sessionID == 0 {
			s.sessionID = 1
		}
	}

	if err := s.coord.RequestBatch(s.sessionID); err != nil {
		fmt.Printf("request failed: %v\n", err)
		return
	}

	// the reply event goes to the daemon's subscriber; items are read
	// here until the pipe runs dry
	items := 0
	for {
		item, err := s.coord.BatchRead(200 * time.Millisecond)
		if errors.IsNoData(err) {
			break
		}
		if err != nil {
			fmt.Printf("read failed: %v\n", err)
			break
		}
		fmt.Printf("  %-14s %d bytes  % x\n", item.Type, len(item.Payload), item.Payload)
		items++
	}

	fmt.Printf("session %d: %d items this round\n", s.sessionID, items)
}

func (s *Shell) cmdClose() {
	if s.sessionID == 0 {
		fmt.Println("no shell batch session open")
		return
	}

	if err := s.coord.CloseBatch(s.sessionID); err != nil {
		fmt.Printf("close failed: %v\n", err)
		return
	}
	fmt.Printf("session %d closed\n", s.sessionID)
	s.sessionID = 0
}

func (s *Shell) cmdFlush() {
	if err := s.coord.Flush(); err != nil {
		fmt.Printf("flush failed: %v\n", err)
		return
	}
	fmt.Println("flush complete, records emitted as data events")
}

func (s *Shell) cmdClear() {
	if err := s.coord.Clear(); err != nil {
		fmt.Printf("clear failed: %v\n", err)
		return
	}
	fmt.Println("storage cleared")
}

func (s *Shell) cmdStats() {
	snap, counts := s.coord.Stats()

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("type            buffered    stored  retrieved  dropped")
	for _, name := range names {
		fmt.Printf("%-14s %9d %9d %10d %8d\n",
			name, counts[name], snap.Stored[name], snap.Retrieved[name], snap.Dropped[name])
	}

	if snap.LatencyP50 > 0 {
		fmt.Printf("store latency: p50=%.0fus p95=%.0fus p99=%.0fus max=%.0fus\n",
			snap.LatencyP50, snap.LatencyP95, snap.LatencyP99, snap.LatencyMax)
	}
}

func (s *Shell) cmdHelp() {
	for _, cmd := range commands {
		fmt.Printf("  %-8s %s\n", cmd.Text, cmd.Description)
	}
}
