// kvdisk is a debug CLI for kvdisk cache files.
//
// Usage:
//
//	kvdisk [flags] <command> [args]
//
// Flags:
//
//	-f, --file      Cache file (overrides cache_file from config)
//	-c, --config    Config file (default: .kvdisk.json if present)
//	-C, --dir       Working directory
//	    --ttl       Default TTL for set, e.g. 10m (0 = never expires)
//	-v, --verbose   Debug logging, including every cache call
//
// Commands:
//
//	get <key>...                    Print live values
//	set <key> <value> [<key> <value>...]
//	                                Store values in one batch
//	del <key>...                    Delete keys
//	dump                            List every entry, expired ones included
//	info                            Show file, entry and lock status
//	destroy                         Remove the cache file
//	config                          Print the resolved config
//	repl                            Interactive shell
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kvdisk/internal/config"
	kvlog "github.com/calvinalkan/kvdisk/internal/log"
	"github.com/calvinalkan/kvdisk/pkg/fs"
	"github.com/calvinalkan/kvdisk/pkg/kvdisk"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errUsage          = errors.New("invalid arguments")
)

func main() {
	os.Exit(Run(os.Stdin, os.Stdout, os.Stderr, os.Args, os.Environ()))
}

// app is the state shared by all commands of one invocation.
type app struct {
	out     io.Writer
	errOut  io.Writer
	cfg     config.Config
	sources config.Sources
	fs      fs.FS
	cache   *kvdisk.Cache
	logger  log.Interface
	now     func() time.Time
}

type globalFlags struct {
	file       string
	configPath string
	workDir    string
	ttl        time.Duration
	verbose    bool

	hasFile bool
	hasTTL  bool
	rest    []string
}

func parseGlobalFlags(args []string) (globalFlags, *flag.FlagSet, error) {
	var g globalFlags

	flags := flag.NewFlagSet("kvdisk", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.SetOutput(io.Discard)

	flags.StringVarP(&g.file, "file", "f", "", "cache file")
	flags.StringVarP(&g.configPath, "config", "c", "", "config file")
	flags.StringVarP(&g.workDir, "dir", "C", "", "working directory")
	flags.DurationVar(&g.ttl, "ttl", 0, "default TTL for set (0 = never expires)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	if err := flags.Parse(args); err != nil {
		return globalFlags{}, flags, err
	}

	g.hasFile = flags.Changed("file")
	g.hasTTL = flags.Changed("ttl")
	g.rest = flags.Args()

	return g, flags, nil
}

// Run is the main entry point. Returns the exit code.
func Run(_ io.Reader, out, errOut io.Writer, args []string, env []string) int {
	g, flags, err := parseGlobalFlags(args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, flags)
			return 0
		}

		fmt.Fprintln(errOut, "error:", err)
		printUsage(errOut, flags)

		return 1
	}

	if len(g.rest) == 0 {
		printUsage(out, flags)
		return 0
	}

	a, err := newApp(out, errOut, g, env)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	name, cmdArgs := g.rest[0], g.rest[1:]
	if name == "help" {
		printUsage(out, flags)
		return 0
	}

	cmd, ok := lookupCommand(name)
	if !ok {
		fmt.Fprintf(errOut, "error: %v: %s\n", errUnknownCommand, name)
		printUsage(errOut, flags)

		return 1
	}

	if err := cmd.Exec(a, cmdArgs); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		if errors.Is(err, errUsage) {
			fmt.Fprintln(errOut, "usage: kvdisk", cmd.Usage)
		}

		return 1
	}

	return 0
}

func newApp(out, errOut io.Writer, g globalFlags, env []string) (*app, error) {
	workDir := g.workDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("cannot get working directory: %w", err)
		}

		workDir = wd
	}

	var overrides config.Overrides
	if g.hasFile {
		overrides.CacheFile = &g.file
	}

	if g.hasTTL {
		overrides.DefaultTTL = &g.ttl
	}

	cfg, sources, err := config.Load(workDir, g.configPath, overrides, env)
	if err != nil {
		return nil, err
	}

	logger, err := kvlog.New(errOut, cfg.LogLevel, g.verbose, env)
	if err != nil {
		return nil, err
	}

	path := cfg.CacheFile
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	opts := kvdisk.Options{
		Path:   path,
		FS:     fs.NewReal(),
		Logger: logger,
	}

	if g.verbose {
		opts.Profiler = kvdisk.NewLogProfiler(logger)
	}

	return &app{
		out:     out,
		errOut:  errOut,
		cfg:     cfg,
		sources: sources,
		fs:      opts.FS,
		cache:   kvdisk.New(opts),
		logger:  logger,
		now:     time.Now,
	}, nil
}

func printUsage(w io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: kvdisk [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")

	for _, cmd := range commands() {
		fmt.Fprintln(w, cmd.HelpLine())
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")

	var buf strings.Builder

	flags.SetOutput(&buf)
	flags.PrintDefaults()
	flags.SetOutput(io.Discard)

	fmt.Fprint(w, buf.String())
}
