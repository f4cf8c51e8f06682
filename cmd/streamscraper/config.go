package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"streamscraper/pkg/config"
	"streamscraper/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage streamscraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (STREAMSCRAPER_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is written to ~/.config/streamscraper/config.yaml unless a
different path is given with the --config flag.`,
	Run: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the configuration after merging every source.

Secrets are never printed; the bearer token and SMTP password only show
whether they are set.`,
	Run: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value ranges and known names
  - Output directory and log file accessibility
  - Rules file presence
  - Mail settings when the smtp transport is enabled`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# streamscraper configuration file
#
# Environment variables prefixed with STREAMSCRAPER_ override these values,
# for example STREAMSCRAPER_OUTPUT_DIR. Secrets are never read from
# this file: use 'streamscraper auth login' or STREAMSCRAPER_BEARER_TOKEN.

upstream:
  base_url: "https://api.twitter.com"
  # v2 keeps rules on the server, v1 sends them with each connection
  mode: "v2"
  stream_path: "/2/tweets/search/stream"
  rules_path: "/2/tweets/search/stream/rules"
  # Stored credential profile
  profile: "default"
  connect_timeout: 30s
  # Reconnect when no bytes (not even keep-alives) arrive for this long
  stall_timeout: 90s
  rules_requests_per_minute: 60
  rules_burst: 5
  retry_attempts: 3

rules:
  # One pattern per line, or YAML entries with pattern and tag
  file: ""
  default_tag: ""
  max_rules: 25
  max_pattern_length: 512

output:
  directory: "."
  file_prefix: "streaming_data--"
  extension: ".json"
  date_format: "2006-01-02"
  # IANA zone name, "Local" or "UTC"
  time_zone: "Local"
  # Compress each finished day with zstd
  compress: false
  keep_originals: false
  compress_level: 3

backoff:
  # constant, linear or exponential
  rate_limit_strategy: "constant"
  rate_limit_delay: 5m
  transient_strategy: "constant"
  transient_delay: 30s
  safety_buffer: 15s
  max_delay: 30m
  jitter_factor: 0
  # Wait until the reset time the upstream reports, when later
  honor_reset_hint: true

session:
  # Stop after this long; 0 runs until interrupted
  duration: 0s
  # json skips malformed lines, raw keeps every line
  decode: "json"
  register_rules: true
  status_file: ".stream-status.json"

notifications:
  enabled: true
  # log, smtp, desktop
  transports: ["log"]
  daily_summary: true
  rate_limit_warning: true
  max_per_hour: 12
  async: false

smtp:
  host: "smtp.gmail.com"
  port: 465
  # tls, starttls or none
  security: "tls"
  username: ""
  from: ""
  to: []
  timeout: 30s

logging:
  level: "info"
  # {start} is replaced by the start time, e.g. "logs/{start}_stream.log"
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		ui.PrintError("Failed to create configuration directory", err.Error())
		os.Exit(1)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store your bearer token with 'streamscraper auth login'")
	fmt.Println("2. Run 'streamscraper config validate' to check the configuration")
	fmt.Println("3. Start collecting with 'streamscraper stream --rules rules.txt'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))
	fmt.Printf("\nBearer token: %s\n", setOrMissing(cfg.Upstream.BearerToken))
	fmt.Printf("SMTP password: %s\n", setOrMissing(cfg.SMTP.Password))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (STREAMSCRAPER_*)")
	fmt.Println("3. .env files")
	if path := configSource(); path != "" {
		fmt.Printf("4. Configuration file: %s\n", path)
	} else {
		fmt.Println("4. Configuration file: (none found)")
	}
	fmt.Println("5. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	path := configSource()
	if path == "" {
		ui.PrintError("No configuration file found", "Specify a file with --config flag")
		os.Exit(1)
	}

	ui.PrintInfo("Validating configuration", path)

	cfg, err := config.Load(path, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed", err.Error())
		os.Exit(1)
	}

	warnings := []string{}
	errs := []string{}

	if cfg.Upstream.BearerToken == "" {
		warnings = append(warnings, "Bearer token not in the environment (stored credentials are checked at stream time)")
	}
	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		errs = append(errs, fmt.Sprintf("Cannot create output directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			errs = append(errs, fmt.Sprintf("Cannot create log directory: %v", err))
		}
	}
	if cfg.Rules.File != "" {
		if _, err := os.Stat(cfg.Rules.File); err != nil {
			errs = append(errs, fmt.Sprintf("Rules file not readable: %v", err))
		}
	} else {
		warnings = append(warnings, "No rules file configured (pass --rules or --interactive)")
	}
	if cfg.Notifications.Enabled && cfg.UsesTransport("smtp") {
		if cfg.SMTP.From == "" || len(cfg.SMTP.To) == 0 {
			errs = append(errs, "smtp transport needs smtp.from and smtp.to")
		}
		if cfg.SMTP.Password == "" {
			warnings = append(warnings, "SMTP password not in the environment")
		}
	}

	if len(errs) > 0 {
		ui.PrintError("Configuration has errors:", "")
		for _, e := range errs {
			fmt.Printf("  - %s\n", e)
		}
		os.Exit(1)
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:", "")
		for _, warn := range warnings {
			fmt.Printf("  - %s\n", warn)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Upstream: %s (%s)\n", cfg.Upstream.BaseURL, cfg.Upstream.Mode)
	fmt.Printf("  Output: %s/%s<date>%s\n", cfg.Output.Directory, cfg.Output.FilePrefix, cfg.Output.Extension)
	fmt.Printf("  Rate limit cooldown: %s + %s\n", cfg.Backoff.RateLimitDelay, cfg.Backoff.SafetyBuffer)
	fmt.Printf("  Reconnect delay: %s\n", cfg.Backoff.TransientDelay)
	fmt.Printf("  Notifications: %v\n", cfg.Notifications.Transports)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
}

func configSource() string {
	if configFile != "" {
		return configFile
	}
	return config.FindConfigFile()
}

func setOrMissing(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "(set)"
}
