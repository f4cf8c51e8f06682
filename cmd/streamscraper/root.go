package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"streamscraper/pkg/config"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
	noColor    bool
	quiet      bool
	verbose    bool

	// startTime names the log file and the status snapshot
	startTime = time.Now()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "streamscraper",
	Short: "Collect a filtered real-time stream into daily files",
	Long: `streamscraper keeps a long-lived connection to a filtered real-time stream
and appends every matching record to a file per calendar day.

Features:
  - Daily partition files with a summary notification at each rollover
  - Cooldown and reconnect on rate limits and dropped connections
  - Rate limit warnings by email, desktop notification or log
  - Server-side rule management
  - Secure token storage using the system keychain
  - Live terminal monitor`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.SetColor(false)
		}
		if quiet || logLevel == "error" {
			ui.SetQuietMode(true)
		}

		if cmd.Name() != "version" && cmd.Name() != "help" && !useTUI {
			ui.PrintLogo()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.streamscraper.yaml or ~/.config/streamscraper/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file; {start} is replaced by the start time")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every session event on its own line")

	rootCmd.SetVersionTemplate(`streamscraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges the global flags with command flags and loads the
// configuration, exiting on failure
func loadConfig(flags map[string]interface{}) *config.Config {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if logFile != "" {
		flags["log-file"] = logFile
	}
	if verbose && logLevel == "" {
		flags["log-level"] = "debug"
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}
	return cfg
}

// initLogger sets up the global logger. With console false the logger only
// writes to the configured file.
func initLogger(cfg *config.Config, console bool) {
	logCfg := cfg.Logging
	logCfg.File = logger.ResolveFileName(logCfg.File, startTime)

	var err error
	if console {
		err = logger.InitializeWithOutput(&logCfg, os.Stderr)
	} else {
		err = logger.InitializeWithOutput(&logCfg, nil)
	}
	if err != nil {
		ui.PrintError("Failed to initialize logger", err.Error())
		os.Exit(1)
	}
}
