package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv
const EnvPrefix = "STREAMSCRAPER_"

// Config holds all configuration options for the stream collector
type Config struct {
	// Upstream streaming source
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// Filter rules supplied to the upstream
	Rules RulesConfig `yaml:"rules" json:"rules"`

	// Partitioned output files
	Output OutputConfig `yaml:"output" json:"output"`

	// Cooldown policy for rate-limit and transient errors
	Backoff BackoffConfig `yaml:"backoff" json:"backoff"`

	// Stream session behaviour
	Session SessionConfig `yaml:"session" json:"session"`

	// Operational notifications
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Mail transport used by notifications
	SMTP SMTPConfig `yaml:"smtp" json:"smtp"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// UpstreamConfig describes the streaming API
type UpstreamConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	Mode       string `yaml:"mode" json:"mode"`
	StreamPath string `yaml:"stream_path" json:"stream_path"`
	RulesPath  string `yaml:"rules_path" json:"rules_path"`
	UserAgent  string `yaml:"user_agent" json:"user_agent"`
	// Profile selects the stored credential set
	Profile string `yaml:"profile" json:"profile"`
	// BearerToken is only read from the environment or the credential store
	BearerToken string `yaml:"-" json:"-"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	StallTimeout   time.Duration `yaml:"stall_timeout" json:"stall_timeout"`
	MaxLineBytes   int           `yaml:"max_line_bytes" json:"max_line_bytes"`

	// Pacing and retries for the rule management endpoint
	RulesRequestsPerMinute int `yaml:"rules_requests_per_minute" json:"rules_requests_per_minute"`
	RulesBurst             int `yaml:"rules_burst" json:"rules_burst"`
	RetryAttempts          int `yaml:"retry_attempts" json:"retry_attempts"`
}

// RulesConfig holds rule source and provider limits
type RulesConfig struct {
	File             string `yaml:"file" json:"file"`
	DefaultTag       string `yaml:"default_tag" json:"default_tag"`
	MaxRules         int    `yaml:"max_rules" json:"max_rules"`
	MaxPatternLength int    `yaml:"max_pattern_length" json:"max_pattern_length"`
}

// OutputConfig holds partition file settings
type OutputConfig struct {
	Directory  string `yaml:"directory" json:"directory"`
	FilePrefix string `yaml:"file_prefix" json:"file_prefix"`
	Extension  string `yaml:"extension" json:"extension"`
	DateFormat string `yaml:"date_format" json:"date_format"`
	// TimeZone is an IANA name or "Local"
	TimeZone string `yaml:"time_zone" json:"time_zone"`
	// Compress superseded partitions with zstd after rollover
	Compress      bool `yaml:"compress" json:"compress"`
	KeepOriginals bool `yaml:"keep_originals" json:"keep_originals"`
	CompressLevel int  `yaml:"compress_level" json:"compress_level"`
}

// BackoffConfig holds cooldown policy values
type BackoffConfig struct {
	RateLimitStrategy   string        `yaml:"rate_limit_strategy" json:"rate_limit_strategy"`
	RateLimitDelay      time.Duration `yaml:"rate_limit_delay" json:"rate_limit_delay"`
	RateLimitMultiplier float64       `yaml:"rate_limit_multiplier" json:"rate_limit_multiplier"`
	TransientStrategy   string        `yaml:"transient_strategy" json:"transient_strategy"`
	TransientDelay      time.Duration `yaml:"transient_delay" json:"transient_delay"`
	TransientMultiplier float64       `yaml:"transient_multiplier" json:"transient_multiplier"`
	SafetyBuffer        time.Duration `yaml:"safety_buffer" json:"safety_buffer"`
	MaxDelay            time.Duration `yaml:"max_delay" json:"max_delay"`
	JitterFactor        float64       `yaml:"jitter_factor" json:"jitter_factor"`
	HonorResetHint      bool          `yaml:"honor_reset_hint" json:"honor_reset_hint"`
}

// SessionConfig holds stream session settings
type SessionConfig struct {
	// Duration bounds a run; zero streams until interrupted
	Duration time.Duration `yaml:"duration" json:"duration"`
	// Decode is "json" (skip malformed lines) or "raw"
	Decode        string `yaml:"decode" json:"decode"`
	RegisterRules bool   `yaml:"register_rules" json:"register_rules"`
	StatusFile    string `yaml:"status_file" json:"status_file"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	Transports       []string `yaml:"transports" json:"transports"`
	DailySummary     bool     `yaml:"daily_summary" json:"daily_summary"`
	RateLimitWarning bool     `yaml:"rate_limit_warning" json:"rate_limit_warning"`
	MaxPerHour       int      `yaml:"max_per_hour" json:"max_per_hour"`
	Async            bool     `yaml:"async" json:"async"`
}

// SMTPConfig holds mail submission settings
type SMTPConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	// Security is "tls" (implicit TLS), "starttls" or "none"
	Security string        `yaml:"security" json:"security"`
	Username string        `yaml:"username" json:"username"`
	Password string        `yaml:"-" json:"-"`
	From     string        `yaml:"from" json:"from"`
	To       []string      `yaml:"to" json:"to"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File may contain {start}, replaced by the process start timestamp
	File string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:                "https://api.twitter.com",
			Mode:                   "v2",
			StreamPath:             "/2/tweets/search/stream",
			RulesPath:              "/2/tweets/search/stream/rules",
			UserAgent:              "streamscraper/1.0",
			Profile:                "default",
			ConnectTimeout:         30 * time.Second,
			StallTimeout:           90 * time.Second,
			MaxLineBytes:           1 << 20,
			RulesRequestsPerMinute: 60,
			RulesBurst:             5,
			RetryAttempts:          3,
		},
		Rules: RulesConfig{
			DefaultTag:       "",
			MaxRules:         25,
			MaxPatternLength: 512,
		},
		Output: OutputConfig{
			Directory:     ".",
			FilePrefix:    "streaming_data--",
			Extension:     ".json",
			DateFormat:    "2006-01-02",
			TimeZone:      "Local",
			Compress:      false,
			KeepOriginals: false,
			CompressLevel: 3,
		},
		Backoff: BackoffConfig{
			RateLimitStrategy:   "constant",
			RateLimitDelay:      300 * time.Second,
			RateLimitMultiplier: 2.0,
			TransientStrategy:   "constant",
			TransientDelay:      30 * time.Second,
			TransientMultiplier: 2.0,
			SafetyBuffer:        15 * time.Second,
			MaxDelay:            30 * time.Minute,
			JitterFactor:        0,
			HonorResetHint:      true,
		},
		Session: SessionConfig{
			Decode:        "json",
			RegisterRules: true,
			StatusFile:    ".stream-status.json",
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			Transports:       []string{"log"},
			DailySummary:     true,
			RateLimitWarning: true,
			MaxPerHour:       12,
			Async:            false,
		},
		SMTP: SMTPConfig{
			Host:     "smtp.gmail.com",
			Port:     465,
			Security: "tls",
			Timeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envDuration(name string, target *time.Duration) error {
	if v, ok := lookupEnv(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*target = d
	}
	return nil
}

func envInt(name string, target *int) error {
	if v, ok := lookupEnv(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*target = n
	}
	return nil
}

func envBool(name string, target *bool) {
	if v, ok := lookupEnv(name); ok {
		*target = strings.ToLower(v) == "true" || v == "1"
	}
}

func envString(name string, target *string) {
	if v, ok := lookupEnv(name); ok {
		*target = v
	}
}

func envList(name string, target *[]string) {
	if v, ok := lookupEnv(name); ok {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*target = items
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Secrets
	if token := os.Getenv("BEARER_TOKEN"); token != "" {
		c.Upstream.BearerToken = token
	}
	envString("BEARER_TOKEN", &c.Upstream.BearerToken)
	envString("SMTP_PASSWORD", &c.SMTP.Password)

	// Upstream
	envString("BASE_URL", &c.Upstream.BaseURL)
	envString("MODE", &c.Upstream.Mode)
	envString("PROFILE", &c.Upstream.Profile)

	// Rules and output
	envString("RULES_FILE", &c.Rules.File)
	envString("OUTPUT_DIR", &c.Output.Directory)
	envString("TIME_ZONE", &c.Output.TimeZone)
	envBool("COMPRESS", &c.Output.Compress)

	// Session and backoff
	envString("DECODE", &c.Session.Decode)
	envString("STATUS_FILE", &c.Session.StatusFile)

	var errs []error
	if err := envDuration("DURATION", &c.Session.Duration); err != nil {
		errs = append(errs, err)
	}
	if err := envDuration("RATE_LIMIT_DELAY", &c.Backoff.RateLimitDelay); err != nil {
		errs = append(errs, err)
	}
	if err := envDuration("TRANSIENT_DELAY", &c.Backoff.TransientDelay); err != nil {
		errs = append(errs, err)
	}
	if err := envDuration("MAX_DELAY", &c.Backoff.MaxDelay); err != nil {
		errs = append(errs, err)
	}

	// Notifications
	envBool("NOTIFICATIONS_ENABLED", &c.Notifications.Enabled)
	envList("NOTIFY_TRANSPORTS", &c.Notifications.Transports)
	envString("SMTP_HOST", &c.SMTP.Host)
	if err := envInt("SMTP_PORT", &c.SMTP.Port); err != nil {
		errs = append(errs, err)
	}
	envString("SMTP_USERNAME", &c.SMTP.Username)
	envString("SMTP_FROM", &c.SMTP.From)
	envList("SMTP_TO", &c.SMTP.To)

	// Logging
	envString("LOG_LEVEL", &c.Logging.Level)
	envString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// FindConfigFile searches for a config file in the standard locations and
// returns the first one found
func FindConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".streamscraper.yaml",
		".streamscraper.yml",
		filepath.Join(home, ".config", "streamscraper", "config.yaml"),
		filepath.Join(home, ".config", "streamscraper", "config.yml"),
		filepath.Join(home, ".streamscraper.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// DefaultConfigPath is where `config init` writes when no path is given
func DefaultConfigPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "streamscraper", "config.yaml")
}

// Location resolves Output.TimeZone
func (c *Config) Location() (*time.Location, error) {
	switch c.Output.TimeZone {
	case "", "Local", "local":
		return time.Local, nil
	case "UTC", "utc":
		return time.UTC, nil
	}
	return time.LoadLocation(c.Output.TimeZone)
}

// Validate checks if the configuration is valid. Credentials are checked
// by the commands that need them.
func (c *Config) Validate() error {
	var errs []error

	// Upstream
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream base URL is required"))
	}
	switch c.Upstream.Mode {
	case "v1", "v2":
	default:
		errs = append(errs, fmt.Errorf("invalid upstream mode %q (want v1 or v2)", c.Upstream.Mode))
	}
	if c.Upstream.StallTimeout < 0 {
		errs = append(errs, errors.New("stall timeout cannot be negative"))
	}
	if c.Upstream.MaxLineBytes <= 0 {
		errs = append(errs, errors.New("max line bytes must be positive"))
	}
	if c.Upstream.RulesRequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rules requests per minute must be positive"))
	}
	if c.Upstream.RulesBurst <= 0 {
		errs = append(errs, errors.New("rules burst must be positive"))
	}
	if c.Upstream.RetryAttempts < 0 {
		errs = append(errs, errors.New("retry attempts cannot be negative"))
	}

	// Rules
	if c.Rules.MaxRules <= 0 {
		errs = append(errs, errors.New("max rules must be positive"))
	}
	if c.Rules.MaxPatternLength <= 0 {
		errs = append(errs, errors.New("max pattern length must be positive"))
	}

	// Output
	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.DateFormat == "" {
		errs = append(errs, errors.New("date format is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid time zone: %w", err))
	}
	if c.Output.CompressLevel < 1 || c.Output.CompressLevel > 4 {
		errs = append(errs, errors.New("compress level must be between 1 and 4"))
	}

	// Backoff
	validStrategies := map[string]bool{"constant": true, "linear": true, "exponential": true}
	if !validStrategies[c.Backoff.RateLimitStrategy] {
		errs = append(errs, fmt.Errorf("invalid rate limit strategy %q", c.Backoff.RateLimitStrategy))
	}
	if !validStrategies[c.Backoff.TransientStrategy] {
		errs = append(errs, fmt.Errorf("invalid transient strategy %q", c.Backoff.TransientStrategy))
	}
	if c.Backoff.RateLimitDelay <= 0 {
		errs = append(errs, errors.New("rate limit delay must be positive"))
	}
	if c.Backoff.TransientDelay <= 0 {
		errs = append(errs, errors.New("transient delay must be positive"))
	}
	if c.Backoff.SafetyBuffer < 0 {
		errs = append(errs, errors.New("safety buffer cannot be negative"))
	}
	if c.Backoff.MaxDelay < c.Backoff.RateLimitDelay {
		errs = append(errs, errors.New("max delay must not be shorter than the rate limit delay"))
	}
	if c.Backoff.JitterFactor < 0 || c.Backoff.JitterFactor > 1 {
		errs = append(errs, errors.New("jitter factor must be between 0 and 1"))
	}

	// Session
	if c.Session.Duration < 0 {
		errs = append(errs, errors.New("session duration cannot be negative"))
	}
	if c.Session.Decode != "json" && c.Session.Decode != "raw" {
		errs = append(errs, fmt.Errorf("invalid decode mode %q (want json or raw)", c.Session.Decode))
	}

	// Notifications
	validTransports := map[string]bool{"smtp": true, "desktop": true, "log": true}
	for _, t := range c.Notifications.Transports {
		if !validTransports[strings.ToLower(t)] {
			errs = append(errs, fmt.Errorf("invalid notification transport %q", t))
		}
	}
	if c.Notifications.MaxPerHour < 0 {
		errs = append(errs, errors.New("notifications per hour cannot be negative"))
	}
	if c.Notifications.Enabled && c.UsesTransport("smtp") {
		if c.SMTP.Host == "" || c.SMTP.Port <= 0 {
			errs = append(errs, errors.New("smtp host and port are required for the smtp transport"))
		}
		if c.SMTP.From == "" || len(c.SMTP.To) == 0 {
			errs = append(errs, errors.New("smtp from and to addresses are required for the smtp transport"))
		}
		switch c.SMTP.Security {
		case "tls", "starttls", "none":
		default:
			errs = append(errs, fmt.Errorf("invalid smtp security %q", c.SMTP.Security))
		}
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// UsesTransport reports whether the named notification transport is configured
func (c *Config) UsesTransport(name string) bool {
	for _, t := range c.Notifications.Transports {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// Save saves the configuration to a file. Secrets are never written.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in flags are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.Directory = v
	}
	if v, ok := flags["rules"].(string); ok && v != "" {
		c.Rules.File = v
	}
	if v, ok := flags["mode"].(string); ok && v != "" {
		c.Upstream.Mode = v
	}
	if v, ok := flags["base-url"].(string); ok && v != "" {
		c.Upstream.BaseURL = v
	}
	if v, ok := flags["duration"].(time.Duration); ok && v > 0 {
		c.Session.Duration = v
	}
	if v, ok := flags["no-register"].(bool); ok && v {
		c.Session.RegisterRules = false
	}
	if v, ok := flags["compress"].(bool); ok && v {
		c.Output.Compress = true
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
	if v, ok := flags["profile"].(string); ok && v != "" {
		c.Upstream.Profile = v
	}
}

// LoadEnvFiles loads .env files without overriding variables already set
func LoadEnvFiles() {
	home := os.Getenv("HOME")
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(home, ".env"))
	_ = godotenv.Load(filepath.Join(home, ".streamscraper.env"))
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	LoadEnvFiles()

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
