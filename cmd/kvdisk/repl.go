package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// historyFile returns the path to the REPL history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".kvdisk_history")
}

// repl is the interactive command loop.
type repl struct {
	app   *app
	liner *liner.State
}

func cmdRepl(a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: repl takes no arguments", errUsage)
	}

	r := &repl{app: a}

	return r.run()
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.complete)

	if path := historyFile(); path != "" {
		if f, err := os.Open(path); err == nil {
			_, _ = r.liner.ReadHistory(f)
			_ = f.Close()
		}
	}

	defer r.saveHistory()

	path, err := r.app.cache.CacheFile()
	if err != nil {
		return err
	}

	fmt.Fprintf(r.app.out, "kvdisk - %s\n", path)
	fmt.Fprintln(r.app.out, "Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("kvdisk> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.app.out)
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if r.exec(line) {
			return nil
		}
	}
}

// exec runs one REPL line and reports whether the loop should stop.
// Command errors are printed, not returned.
func (r *repl) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	name, args := strings.ToLower(parts[0]), parts[1:]

	switch name {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		r.printHelp()
		return false
	case "repl":
		fmt.Fprintln(r.app.errOut, "error: already in the repl")
		return false
	case "destroy":
		if !r.confirm("Remove the cache file? (yes/no): ") {
			fmt.Fprintln(r.app.out, "cancelled")
			return false
		}
	}

	cmd, ok := lookupCommand(name)
	if !ok {
		fmt.Fprintf(r.app.errOut, "error: %v: %s (type 'help' for commands)\n", errUnknownCommand, name)
		return false
	}

	if err := cmd.Exec(r.app, args); err != nil {
		fmt.Fprintln(r.app.errOut, "error:", err)
	}

	return false
}

func (r *repl) confirm(prompt string) bool {
	if r.liner == nil {
		return true
	}

	answer, err := r.liner.Prompt(prompt)
	if err != nil {
		return false
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "yes" || answer == "y"
}

func (r *repl) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		r.app.logger.WithError(err).Debug("saving repl history")
		return
	}

	_, _ = r.liner.WriteHistory(f)
	_ = f.Close()
}

// complete offers command names for the first word.
func (r *repl) complete(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, name := range r.names() {
		if strings.HasPrefix(name, lower) {
			completions = append(completions, name)
		}
	}

	return completions
}

func (r *repl) names() []string {
	var names []string

	for _, cmd := range commands() {
		if cmd.Name() != "repl" {
			names = append(names, cmd.Name())
		}
	}

	return append(names, "help", "exit", "quit")
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.app.out, "Commands:")

	for _, cmd := range commands() {
		if cmd.Name() != "repl" {
			fmt.Fprintln(r.app.out, cmd.HelpLine())
		}
	}

	fmt.Fprintf(r.app.out, "  %-40s %s\n", "help", "Show this help")
	fmt.Fprintf(r.app.out, "  %-40s %s\n", "exit / quit / q", "Exit")
}
