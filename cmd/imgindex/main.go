// Package main is the imgindex CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/imgindex/internal/builder"
	"github.com/hyperjump/imgindex/internal/cli"
	"github.com/hyperjump/imgindex/internal/config"
	"github.com/hyperjump/imgindex/internal/discovery"
	"github.com/hyperjump/imgindex/internal/index"
	"github.com/hyperjump/imgindex/internal/storage"
	"github.com/hyperjump/imgindex/internal/watcher"
	"github.com/hyperjump/imgindex/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "config.yaml"

// exitInterrupted is the conventional status for a run stopped by SIGINT.
const exitInterrupted = 130

// loadConfig loads config from path. A missing file at the default path means defaults;
// an explicitly given path must exist.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	command := "build"
	if len(args) > 0 && (!strings.HasPrefix(args[0], "-") || isInfoFlag(args[0])) {
		command, args = args[0], args[1:]
	}
	switch command {
	case "build":
		return runBuild(args, out)
	case "watch":
		return runWatch(args, out)
	case "report":
		return runReport(args, out)
	case "init":
		return runInit(args, out)
	case "version", "--version", "-v":
		fmt.Fprintf(out, "imgindex version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(out, "Unknown command: %s\n", command)
		printUsage(out)
		return 1
	}
}

func isInfoFlag(arg string) bool {
	switch arg {
	case "--version", "-v", "--help", "-h":
		return true
	}
	return false
}

type commonFlags struct {
	configPath *string
	debug      *bool
	plain      *bool
}

func newFlagSet(name string, out io.Writer) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs, commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		debug:      fs.Bool("debug", false, "enable debug logging (per-image skips, chunk completion)"),
		plain:      fs.Bool("plain", false, "print one progress line per batch instead of a progress bar"),
	}
}

// env holds what every build-type command needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	report *storage.SQLiteReport
}

func (e *env) close() {
	if e.report != nil {
		_ = e.report.Close()
	}
	_ = e.logger.Sync()
}

func setup(flags commonFlags, out io.Writer) (*env, bool) {
	cfg, resolved, err := loadConfig(*flags.configPath)
	if err != nil {
		fmt.Fprintf(out, "Failed to load config: %v\n", err)
		return nil, false
	}
	debugMode := cfg.Debug || *flags.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(out, "Failed to create logger: %v\n", err)
		return nil, false
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.Bool("debug", debugMode),
	)
	e := &env{cfg: cfg, logger: logger}
	report, err := storage.NewSQLiteReport(cfg.Output.ReportPath)
	if err != nil {
		logger.Warn("run report disabled", zap.String("path", cfg.Output.ReportPath), zap.Error(err))
	} else {
		e.report = report
	}
	return e, true
}

func (e *env) newBuilder(out io.Writer, plain bool) (*builder.Builder, error) {
	opts := []builder.BuilderOption{
		builder.WithLogger(e.logger),
		builder.WithConsole(cli.NewConsole(out, plain)),
	}
	if e.report != nil {
		opts = append(opts, builder.WithReport(e.report))
	}
	return builder.NewBuilder(e.cfg, opts...)
}

// signalContext is cancelled by the first SIGINT or SIGTERM. A second signal gets the default
// behaviour and terminates the process.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

func runBuild(args []string, out io.Writer) int {
	fs, flags := newFlagSet("build", out)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, ok := setup(flags, out)
	if !ok {
		return 1
	}
	defer e.close()

	b, err := e.newBuilder(out, *flags.plain)
	if err != nil {
		fmt.Fprintf(out, "Failed to initialize builder: %v\n", err)
		return 1
	}
	ctx, stop := signalContext()
	defer stop()

	summary, err := b.Run(ctx)
	return reportOutcome(out, e.cfg, summary, err)
}

// reportOutcome prints the result of a build and returns the exit code.
func reportOutcome(out io.Writer, cfg *config.Config, summary *builder.Summary, err error) int {
	switch {
	case err == nil:
		printSummary(out, cfg, summary)
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(out, "\nInterrupted by user. The index was not written.")
		return exitInterrupted
	case errors.Is(err, discovery.ErrNoSourceFound):
		fmt.Fprintf(out, "Error: none of the source folders exist (%s).\n", strings.Join(cfg.Source.Folders, ", "))
		fmt.Fprintln(out, "Download the full gallery first, or make sure the demo folder is present.")
		return 1
	case errors.Is(err, builder.ErrNoImages):
		fmt.Fprintf(out, "Error: %v.\n", err)
		return 1
	case errors.Is(err, index.ErrEmptyResult):
		fmt.Fprintln(out, "Failed: no features were produced, every image was skipped.")
		if summary != nil {
			fmt.Fprintf(out, "Skipped %d / %d images (%s)\n", summary.Skipped(), summary.Total, cli.FormatSkipCounts(skipCounts(summary)))
		}
		return 1
	default:
		fmt.Fprintf(out, "Build failed: %v\n", err)
		return 1
	}
}

func printSummary(out io.Writer, cfg *config.Config, s *builder.Summary) {
	fmt.Fprintln(out, "------------------------------")
	fmt.Fprintln(out, "Index built successfully.")
	fmt.Fprintf(out, "Source folder:  %s (%s mode)\n", s.Folder, s.Mode)
	fmt.Fprintf(out, "Processed:      %d / %d images\n", s.Indexed, s.Total)
	fmt.Fprintf(out, "Feature matrix: (%d, %d)\n", s.Rows, s.Dims)
	if n := s.Skipped(); n > 0 {
		fmt.Fprintf(out, "Skipped:        %d (%s)\n", n, cli.FormatSkipCounts(skipCounts(s)))
	}
	fmt.Fprintf(out, "Written:        %s, %s\n", cfg.Output.FeaturesPath, cfg.Output.PathsPath)
	fmt.Fprintf(out, "Took:           %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintln(out, "------------------------------")
}

func skipCounts(s *builder.Summary) map[string]int {
	counts := make(map[string]int, len(s.Skips))
	for reason, n := range s.Skips {
		counts[string(reason)] = n
	}
	return counts
}

func runWatch(args []string, out io.Writer) int {
	fs, flags := newFlagSet("watch", out)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, ok := setup(flags, out)
	if !ok {
		return 1
	}
	defer e.close()

	b, err := e.newBuilder(out, true)
	if err != nil {
		fmt.Fprintf(out, "Failed to initialize builder: %v\n", err)
		return 1
	}
	ctx, stop := signalContext()
	defer stop()

	rebuild := func() {
		summary, err := b.Run(ctx)
		if errors.Is(err, builder.ErrBuildInProgress) {
			e.logger.Info("rebuild skipped, another build holds the lock")
			return
		}
		if ctx.Err() == nil {
			reportOutcome(out, e.cfg, summary, err)
		}
	}
	rebuild()
	if ctx.Err() != nil {
		fmt.Fprintln(out, "\nInterrupted by user. The index was not written.")
		return exitInterrupted
	}

	var wopts []watcher.WatcherOption
	wopts = append(wopts, watcher.WithDebounce(e.cfg.Watch.Debounce()))
	if e.cfg.Debug || *flags.debug {
		wopts = append(wopts, watcher.WithLogger(e.logger))
	}
	w := watcher.NewWatcher(e.cfg.Source.Folders, e.cfg.Source.Extensions, rebuild, wopts...)
	if err := w.Start(ctx); err != nil {
		fmt.Fprintf(out, "Failed to start watcher: %v\n", err)
		return 1
	}
	defer w.Stop()
	fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)...\n", strings.Join(w.Directories(), ", "))
	<-ctx.Done()
	fmt.Fprintln(out, "\nStopped watching.")
	return 0
}

func runReport(args []string, out io.Writer) int {
	fs, flags := newFlagSet("report", out)
	listSkipped := fs.Bool("skipped", false, "list every skipped image with its reason")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, _, err := loadConfig(*flags.configPath)
	if err != nil {
		fmt.Fprintf(out, "Failed to load config: %v\n", err)
		return 1
	}
	if _, err := os.Stat(cfg.Output.ReportPath); err != nil {
		fmt.Fprintln(out, "No builds recorded yet.")
		return 1
	}
	report, err := storage.NewSQLiteReport(cfg.Output.ReportPath)
	if err != nil {
		fmt.Fprintf(out, "Failed to open report: %v\n", err)
		return 1
	}
	defer report.Close()

	ctx := context.Background()
	last, err := report.LastRun(ctx)
	if errors.Is(err, storage.ErrNoRuns) {
		fmt.Fprintln(out, "No builds recorded yet.")
		return 1
	}
	if err != nil {
		fmt.Fprintf(out, "Failed to read report: %v\n", err)
		return 1
	}
	skips, err := report.SkipCounts(ctx, last.ID)
	if err != nil {
		fmt.Fprintf(out, "Failed to read report: %v\n", err)
		return 1
	}
	cli.WriteRun(out, last, skips)
	if *listSkipped {
		outcomes, err := report.Outcomes(ctx, last.ID)
		if err != nil {
			fmt.Fprintf(out, "Failed to read image outcomes: %v\n", err)
			return 1
		}
		cli.WriteSkipped(out, outcomes)
	}
	printIndexStatus(out, cfg)
	return 0
}

// printIndexStatus describes the index files currently on disk.
func printIndexStatus(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "# index on disk")
	features, err := index.ReadFeatures(cfg.Output.FeaturesPath)
	if err != nil {
		fmt.Fprintf(out, "features:     unavailable (%v)\n", err)
		return
	}
	paths, err := index.ReadPaths(cfg.Output.PathsPath)
	if err != nil {
		fmt.Fprintf(out, "paths:        unavailable (%v)\n", err)
		return
	}
	dims := 0
	if len(features) > 0 {
		dims = len(features[0])
	}
	fmt.Fprintf(out, "features:     %s (%d, %d)\n", cfg.Output.FeaturesPath, len(features), dims)
	fmt.Fprintf(out, "paths:        %s (%d)\n", cfg.Output.PathsPath, len(paths))
	if len(features) != len(paths) {
		fmt.Fprintln(out, "warning:      row count differs from path count")
	}
	if n, err := index.Size(cfg.Output.FeaturesPath, cfg.Output.PathsPath); err == nil {
		fmt.Fprintf(out, "disk_bytes:   %d\n", n)
	}
}

// runInit writes the default configuration so it can be edited.
func runInit(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(out)
	path := fs.String("config", defaultConfigPath, "config file to create")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		fmt.Fprintf(out, "%s already exists (use --force to overwrite)\n", *path)
		return 1
	}
	if err := config.Save(*path, config.Default()); err != nil {
		fmt.Fprintf(out, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Wrote default config to %s\n", *path)
	return 0
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `imgindex - Build an image feature index for similarity search

Usage:
  imgindex [flags]                Same as "imgindex build"
  imgindex build [flags]          Build the index from the source folder
  imgindex watch [flags]          Build, then rebuild whenever the source folder changes
  imgindex report [flags]         Show the last build and the index on disk
  imgindex init [--force]         Write the default config.yaml
  imgindex version                Show version
  imgindex help                   Show this help

Flags:
  --config string    Config file path (default: config.yaml; defaults are used when it is missing)
  --debug            Enable debug logging (per-image skips, chunk completion)
  --plain            Print one progress line per batch instead of a progress bar
  --skipped          (report) List every skipped image with its reason

Source folders are tried in order (default: gallery, then demo_data). The index is written to
index_features.npy and index_paths.npy unless configured otherwise.

Examples:
  imgindex
  imgindex build --config ./config.yaml --debug
  imgindex watch
  imgindex report`)
}
