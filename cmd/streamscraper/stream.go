package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"streamscraper/internal/worker"
	"streamscraper/pkg/archive"
	"streamscraper/pkg/auth"
	"streamscraper/pkg/backoff"
	"streamscraper/pkg/checkpoint"
	"streamscraper/pkg/clock"
	"streamscraper/pkg/config"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/models"
	"streamscraper/pkg/notify"
	"streamscraper/pkg/partition"
	"streamscraper/pkg/rules"
	"streamscraper/pkg/session"
	"streamscraper/pkg/ui"
	"streamscraper/pkg/ui/tui"
	"streamscraper/pkg/upstream"
)

var (
	// Stream command flags
	rulesFile   string
	interactive bool
	duration    time.Duration
	useTUI      bool
	outputDir   string
	noRegister  bool
	compress    bool
	profile     string
	mode        string
	baseURL     string
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Collect the filtered stream into daily files",
	Long: `Connect to the filtered stream and append every matching record to a
file named after the current day. At midnight the file rolls over and a
daily summary is sent.

Rate limits trigger a cooldown and a warning notification; dropped
connections are retried silently. Press Ctrl+C to stop.

The bearer token is read from:
  - Stored credentials (use 'streamscraper auth login' to store)
  - Environment variables (STREAMSCRAPER_BEARER_TOKEN or BEARER_TOKEN)`,
	Example: `  # Stream with rules from a file
  streamscraper stream --rules rules.txt

  # Enter rules interactively and stop after six hours
  streamscraper stream --interactive --duration 6h

  # Write to a data directory with the live monitor
  streamscraper stream -r rules.yaml -o ./data --tui

  # Keep the rules already registered upstream
  streamscraper stream -r rules.txt --no-register`,
	Args: cobra.NoArgs,
	Run:  runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	addStreamFlags(streamCmd)
	// Streaming is the default when no subcommand is given
	addStreamFlags(rootCmd)
	rootCmd.Run = runStream
}

func addStreamFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&rulesFile, "rules", "r", "", "rules file (one pattern per line, or YAML)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "enter rules at the prompt")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (e.g. 6h); default runs until interrupted")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "show the live terminal monitor")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for the daily files (default: current directory)")
	cmd.Flags().BoolVar(&noRegister, "no-register", false, "do not replace the rules registered upstream")
	cmd.Flags().BoolVar(&compress, "compress", false, "compress each finished day with zstd")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "use a specific stored credential profile")
	cmd.Flags().StringVar(&mode, "mode", "", "rule mode: v2 (server-side rules) or v1 (rules in the query)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "upstream base URL")
}

func streamFlags() map[string]interface{} {
	return map[string]interface{}{
		"rules":       rulesFile,
		"output":      outputDir,
		"duration":    duration,
		"no-register": noRegister,
		"compress":    compress,
		"profile":     profile,
		"mode":        mode,
		"base-url":    baseURL,
	}
}

func runStream(cmd *cobra.Command, args []string) {
	cfg := loadConfig(streamFlags())
	initLogger(cfg, !useTUI && (verbose || logLevel != ""))
	log := logger.GetLogger()
	log.WithField("version", version).Info("streamscraper starting")

	if err := resolveCredentials(cfg); err != nil {
		log.WithError(err).Error("No bearer token")
		ui.PrintError("No bearer token found", err.Error())
		fmt.Println("\nTo store a token securely, run:")
		fmt.Println("  streamscraper auth login")
		fmt.Println("\nOr set an environment variable:")
		fmt.Println("  export STREAMSCRAPER_BEARER_TOKEN=your_token")
		os.Exit(1)
	}

	set, err := loadRuleSet(cfg)
	if err != nil {
		ui.PrintError("Invalid rules", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Session.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Session.Duration)
		defer cancel()
	}

	stats, err := runSession(ctx, cfg, set, log)
	if err != nil {
		log.WithError(err).Error("Stream terminated")
		ui.PrintError("Stream terminated", err.Error())
		os.Exit(1)
	}

	log.WithField("records", stats.TotalRecords).Info("Stream stopped")
	ui.PrintSuccess(stopMessage(cfg, stats))
}

// runSession wires the collaborators of one streaming run and blocks until
// it ends
func runSession(ctx context.Context, cfg *config.Config, set rules.Set, log logger.Logger) (models.Stats, error) {
	clk := clock.Real()

	client, err := newUpstreamClient(cfg, clk, log)
	if err != nil {
		return models.Stats{}, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return models.Stats{}, fmt.Errorf("invalid time zone: %w", err)
	}
	partitionOpts := partition.Options{
		Dir:        cfg.Output.Directory,
		Prefix:     cfg.Output.FilePrefix,
		Extension:  cfg.Output.Extension,
		DateFormat: cfg.Output.DateFormat,
		Location:   loc,
	}
	writer, err := partition.NewWriter(partitionOpts)
	if err != nil {
		return models.Stats{}, fmt.Errorf("failed to open output directory: %w", err)
	}

	policy, err := backoff.PolicyFromConfig(cfg.Backoff)
	if err != nil {
		return models.Stats{}, err
	}
	decoder, err := session.DecoderFor(cfg.Session.Decode)
	if err != nil {
		return models.Stats{}, err
	}

	pool := worker.NewPool(worker.Options{Workers: 2, QueueSize: 32, Logger: log})
	pool.Start()
	defer pool.Stop(30 * time.Second)

	observers := []session.Observer{}
	if recorder := newStatusRecorder(cfg, set, writer, log); recorder != nil {
		observers = append(observers, recorder)
	}
	if cfg.Output.Compress {
		archiver := archive.New(archive.Options{
			Level:         cfg.Output.CompressLevel,
			KeepOriginals: cfg.Output.KeepOriginals,
			Logger:        log,
		})
		if swept, err := archiver.Sweep(partitionOpts, writer.KeyFor(clk.Now())); err != nil {
			log.WithError(err).Warn("Failed to compress earlier partitions")
		} else if len(swept) > 0 {
			ui.PrintInfo("Compressed earlier partitions", fmt.Sprintf("%d", len(swept)))
		}
		observers = append(observers, session.NewArchiveOnRollover(archiver, pool, writer.PathFor, log))
	}

	var monitor *tui.TUI
	if useTUI {
		monitor = tui.New(set.Patterns())
		observers = append(observers, monitor)
	} else if !ui.Quiet() {
		observers = append(observers, ui.NewProgressDisplay(ui.Output, verbose))
	}

	s, err := session.New(session.Options{
		Source:        client,
		Writer:        writer,
		Backoff:       backoff.NewController(policy),
		Notifier:      notify.FromConfig(cfg, pool, clk, log),
		Decoder:       decoder,
		RegisterRules: cfg.Session.RegisterRules,
		LogFile:       logger.ActiveFile(),
		Clock:         clk,
		Logger:        log,
		Observers:     observers,
	})
	if err != nil {
		return models.Stats{}, err
	}

	if monitor == nil {
		printStreamInfo(cfg, set, writer)
		return s.Run(ctx, set)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		stats models.Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := s.Run(ctx, set)
		done <- result{stats, err}
	}()

	if err := monitor.Run(); err != nil {
		log.WithError(err).Error("Monitor failed")
	}
	// The monitor exits when the session stops or the operator quits
	cancel()
	res := <-done
	if dropped := monitor.Dropped(); dropped > 0 {
		log.WithField("dropped_events", dropped).Debug("Monitor skipped record events")
	}
	return res.stats, res.err
}

// resolveCredentials fills the bearer token (and SMTP secrets) from the
// credential store when the environment did not provide them
func resolveCredentials(cfg *config.Config) error {
	name := cfg.Upstream.Profile
	if name == auth.DefaultProfile {
		name = ""
	}

	manager, err := auth.NewManager()
	if err != nil {
		if cfg.Upstream.BearerToken != "" {
			return nil
		}
		return err
	}

	creds, err := manager.Resolve(name)
	switch {
	case err == nil:
		creds.Apply(cfg)
		logger.WithField("profile", creds.Profile).Info("Using stored credentials")
	case cfg.Upstream.BearerToken != "" && name == "":
		// token from the environment
		return nil
	default:
		return err
	}

	if cfg.Upstream.BearerToken == "" {
		return fmt.Errorf("profile %q has no bearer token", creds.Profile)
	}
	return nil
}

func newUpstreamClient(cfg *config.Config, clk clock.Clock, log logger.Logger) (*upstream.Client, error) {
	opts := upstream.OptionsFromConfig(cfg.Upstream)
	opts.Clock = clk
	opts.Logger = log
	return upstream.NewClient(opts)
}

// loadRuleSet reads rules from the prompt or a file and checks them against
// the provider limits
func loadRuleSet(cfg *config.Config) (rules.Set, error) {
	var (
		set rules.Set
		err error
	)
	switch {
	case interactive:
		set, err = rules.Prompt(os.Stdin, os.Stdout, cfg.Rules.DefaultTag)
	case cfg.Rules.File != "":
		set, err = rules.LoadFile(cfg.Rules.File, cfg.Rules.DefaultTag)
	case ui.IsInteractive():
		set, err = rules.Prompt(os.Stdin, os.Stdout, cfg.Rules.DefaultTag)
	default:
		return rules.Set{}, fmt.Errorf("no rules given: pass --rules <file> or --interactive")
	}
	if err != nil {
		return rules.Set{}, err
	}

	limits := rules.Limits{MaxRules: cfg.Rules.MaxRules, MaxPatternLength: cfg.Rules.MaxPatternLength}
	if err := set.Validate(limits); err != nil {
		return rules.Set{}, err
	}
	return set, nil
}

func newStatusRecorder(cfg *config.Config, set rules.Set, writer *partition.Writer, log logger.Logger) *session.StatusRecorder {
	path, err := statusPath(cfg)
	if err != nil {
		log.WithError(err).Warn("Status file disabled")
		return nil
	}
	manager, err := checkpoint.NewManager(path, log)
	if err != nil {
		log.WithError(err).Warn("Status file disabled")
		return nil
	}
	return session.NewStatusRecorder(manager, session.StatusRecorderOptions{
		Base: checkpoint.Status{
			Mode:    cfg.Upstream.Mode,
			LogFile: logger.ActiveFile(),
			Rules:   set.Rules(),
		},
		PathFor: writer.PathFor,
		Logger:  log,
	})
}

// statusPath resolves the status file; relative names live in the output
// directory
func statusPath(cfg *config.Config) (string, error) {
	if cfg.Session.StatusFile == "" {
		return checkpoint.DefaultPath()
	}
	if filepath.IsAbs(cfg.Session.StatusFile) {
		return cfg.Session.StatusFile, nil
	}
	return filepath.Join(cfg.Output.Directory, cfg.Session.StatusFile), nil
}

func printStreamInfo(cfg *config.Config, set rules.Set, writer *partition.Writer) {
	ui.PrintInfo("Mode", cfg.Upstream.Mode)
	ui.PrintInfo("Output", writer.PathFor(writer.KeyFor(time.Now())))
	if cfg.Session.Duration > 0 {
		ui.PrintInfo("Duration", cfg.Session.Duration.String())
	}
	if file := logger.ActiveFile(); file != "" {
		ui.PrintInfo("Log file", file)
	}
	ui.PrintHighlight(fmt.Sprintf("Streaming with %d rules", set.Len()))
	if !ui.Quiet() {
		fmt.Fprint(ui.Output, set.String())
	}
}

func stopMessage(cfg *config.Config, stats models.Stats) string {
	reason := "Stream stopped by operator"
	if cfg.Session.Duration > 0 && time.Since(stats.StartedAt) >= cfg.Session.Duration {
		reason = "Stream stopped after " + cfg.Session.Duration.String()
	}
	return fmt.Sprintf("%s: %d records, %d reconnects", reason, stats.TotalRecords, stats.Reconnects)
}
