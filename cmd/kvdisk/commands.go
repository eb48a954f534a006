package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/calvinalkan/kvdisk/internal/config"
	"github.com/calvinalkan/kvdisk/pkg/fs"
	"github.com/calvinalkan/kvdisk/pkg/kvdisk"
)

// command is one CLI command, shared by one-shot mode and the REPL.
type command struct {
	// Usage is shown after "kvdisk"; its first word is the command name.
	Usage string
	Short string
	Exec  func(a *app, args []string) error
}

// Name returns the command name (first word of Usage).
func (c command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line for the usage listing.
func (c command) HelpLine() string {
	return fmt.Sprintf("  %-40s %s", c.Usage, c.Short)
}

func commands() []command {
	return []command{
		{Usage: "get <key>...", Short: "Print live values", Exec: cmdGet},
		{Usage: "set <key> <value> [<key> <value>...]", Short: "Store values in one batch", Exec: cmdSet},
		{Usage: "del <key>...", Short: "Delete keys", Exec: cmdDel},
		{Usage: "dump", Short: "List every entry, expired ones included", Exec: cmdDump},
		{Usage: "info", Short: "Show file, entry and lock status", Exec: cmdInfo},
		{Usage: "destroy", Short: "Remove the cache file", Exec: cmdDestroy},
		{Usage: "config", Short: "Print the resolved config", Exec: cmdConfig},
		{Usage: "repl", Short: "Interactive shell", Exec: cmdRepl},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands() {
		if cmd.Name() == name {
			return cmd, true
		}
	}

	return command{}, false
}

func cmdGet(a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: at least one key is required", errUsage)
	}

	values, err := a.cache.Get(args...)
	if err != nil {
		return err
	}

	for _, key := range args {
		v, ok := values[key]
		if !ok {
			fmt.Fprintf(a.errOut, "miss: %s\n", key)
			continue
		}

		fmt.Fprintf(a.out, "%s\t%s\n", key, v)
	}

	return nil
}

func cmdSet(a *app, args []string) error {
	if len(args) == 0 || len(args)%2 != 0 {
		return fmt.Errorf("%w: expected key/value pairs", errUsage)
	}

	batch := make([]kvdisk.KeyValue, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		batch = append(batch, kvdisk.KeyValue{Key: args[i], Value: []byte(args[i+1])})
	}

	if err := a.cache.Set(a.cfg.DefaultTTL, batch...); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "stored %d key(s)%s\n", len(batch), ttlSuffix(a))

	return nil
}

func ttlSuffix(a *app) string {
	if a.cfg.DefaultTTL == 0 {
		return ""
	}

	return ", expires " + humanize.Time(a.now().Add(a.cfg.DefaultTTL))
}

func cmdDel(a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: at least one key is required", errUsage)
	}

	if err := a.cache.Delete(args...); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "deleted %d key(s)\n", len(args))

	return nil
}

func cmdDump(a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: dump takes no arguments", errUsage)
	}

	entries, err := a.cache.Entries()
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Fprintln(a.out, "(empty)")
		return nil
	}

	now := a.now()
	width := valueWidth(a)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tEXPIRES\tVALUE")

	keys := entries.Keys()
	slices.Sort(keys)

	for _, key := range keys {
		e := entries[key]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			strconv.Quote(key),
			humanize.Bytes(uint64(len(e.Value))),
			formatExpiry(e, now),
			truncate(strconv.Quote(string(e.Value)), width),
		)
	}

	return tw.Flush()
}

func formatExpiry(e kvdisk.Entry, now time.Time) string {
	switch {
	case e.Expiry.IsZero():
		return "never"
	case e.Expired(now):
		return "expired " + humanize.RelTime(e.Expiry, now, "ago", "from now")
	default:
		return humanize.RelTime(e.Expiry, now, "ago", "from now")
	}
}

// valueWidth bounds the value column when writing to a terminal.
// Returns 0 (unbounded) otherwise.
func valueWidth(a *app) int {
	f, ok := a.out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}

	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w < 80 {
		return 40
	}

	return w / 2
}

// truncate shortens s to at most width runes, cutting on a rune boundary.
func truncate(s string, width int) string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}

	return string([]rune(s)[:width-3]) + "..."
}

func cmdInfo(a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: info takes no arguments", errUsage)
	}

	path, err := a.cache.CacheFile()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "file:     %s\n", path)

	info, err := a.fs.Stat(path)

	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(a.out, "size:     (missing)")
	case err != nil:
		return fmt.Errorf("stat cache file: %w", err)
	default:
		fmt.Fprintf(a.out, "size:     %s\n", humanize.Bytes(uint64(info.Size())))
		fmt.Fprintf(a.out, "modified: %s\n", humanize.RelTime(info.ModTime(), a.now(), "ago", "from now"))
	}

	state, err := lockState(a.fs, kvdisk.LockPath(path))
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "lock:     %s (%s)\n", kvdisk.LockPath(path), state)

	entries, err := a.cache.Entries()
	if err != nil {
		return err
	}

	now := a.now()
	live := 0

	for _, e := range entries {
		if !e.Expired(now) {
			live++
		}
	}

	fmt.Fprintf(a.out, "entries:  %s (%s live)\n", humanize.Comma(int64(len(entries))), humanize.Comma(int64(live)))

	return nil
}

// lockState probes the lock without waiting.
func lockState(fsys fs.FS, path string) (string, error) {
	lock, err := fs.NewLocker(fsys).TryLock(path)
	if errors.Is(err, fs.ErrWouldBlock) {
		return "held", nil
	}

	if err != nil {
		return "", fmt.Errorf("probing lock: %w", err)
	}

	if err := lock.Close(); err != nil {
		return "", fmt.Errorf("probing lock: %w", err)
	}

	return "free", nil
}

func cmdDestroy(a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: destroy takes no arguments", errUsage)
	}

	if err := a.cache.Destroy(); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "cache file removed")

	return nil
}

func cmdConfig(a *app, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: config takes no arguments", errUsage)
	}

	out, err := config.Format(a.cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, out)

	if a.sources.Global != "" {
		fmt.Fprintln(a.errOut, "global config:", a.sources.Global)
	}

	if a.sources.Project != "" {
		fmt.Fprintln(a.errOut, "project config:", a.sources.Project)
	}

	return nil
}
