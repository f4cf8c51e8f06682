package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"streamscraper/pkg/config"
)

func newBufferLogger(buf *bytes.Buffer) *zerologLogger {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	zlog := zerolog.New(buf).With().Timestamp().Logger()
	return &zerologLogger{
		logger: &zlog,
		fields: make(map[string]interface{}),
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{"info level", &config.LoggingConfig{Level: "info"}, false},
		{"debug level", &config.LoggingConfig{Level: "debug"}, false},
		{"invalid level", &config.LoggingConfig{Level: "invalid"}, true},
		{"file output", &config.LoggingConfig{Level: "info", File: filepath.Join(dir, "logs", "stream.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewWithOutput(tt.cfg, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWithOutput() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("NewWithOutput() returned nil logger")
			}
		})
	}
}

func TestFileOutputWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.log")
	logger, err := NewWithOutput(&config.LoggingConfig{Level: "info", File: path}, nil)
	if err != nil {
		t.Fatalf("NewWithOutput: %v", err)
	}

	logger.WithField("partition", "2021-01-01").Info("Partition rolled over")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"partition":"2021-01-01"`) || !strings.Contains(out, `"app":"streamscraper"`) {
		t.Errorf("unexpected log file contents: %s", out)
	}
}

func TestResolveFileName(t *testing.T) {
	start := time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)
	if got := ResolveFileName("logs/{start}_stream.log", start); got != "logs/2021-02-03_04-05-06_stream.log" {
		t.Errorf("ResolveFileName() = %s", got)
	}
	if got := ResolveFileName("stream.log", start); got != "stream.log" {
		t.Errorf("ResolveFileName() without placeholder = %s", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func TestFieldChaining(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.
		WithField("component", "session").
		WithFields(map[string]interface{}{
			"reconnects": 2,
			"healthy":    true,
		}).
		WithError(errors.New("stream stalled")).
		Warn("reconnecting")

	out := buf.String()
	for _, want := range []string{`"component":"session"`, `"reconnects":2`, `"healthy":true`, "stream stalled", "reconnecting"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output: %s", want, out)
		}
	}
}

func TestWithNilError(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)
	if logger.WithError(nil) != Logger(logger) {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf)

	logger.InfoWithFields("all types", map[string]interface{}{
		"int64":    int64(456),
		"float":    3.5,
		"time":     time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		"duration": 5 * time.Second,
		"strings":  []string{"a", "b"},
		"custom":   struct{ Name string }{Name: "x"},
	})

	out := buf.String()
	if !strings.Contains(out, `"int64":456`) || !strings.Contains(out, `"strings":["a","b"]`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestDomainHelpers(t *testing.T) {
	log := NewTestLogger()

	LogRollover(log, "", "2021-01-01", 0, 0)
	LogRollover(log, "2021-01-01", "2021-01-02", 10, 25)
	LogRateLimit(log, 3, 315*time.Second, time.Unix(0, 0))

	if !log.HasMessage("Opened partition") || !log.HasMessage("Partition rolled over") {
		t.Errorf("missing rollover messages:\n%s", log.String())
	}
	warns := log.GetMessagesByLevel("WARN")
	if len(warns) != 1 || warns[0].Fields["rate_limit_count"] != 3 {
		t.Errorf("unexpected rate limit log: %+v", warns)
	}
}

func TestTestLoggerSharesRecord(t *testing.T) {
	log := NewTestLogger()
	child := log.WithField("component", "notify").WithError(errors.New("smtp down"))
	child.Error("send failed")

	msgs := log.GetMessages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Fields["component"] != "notify" || msgs[0].Error == nil {
		t.Errorf("derived logger lost context: %+v", msgs[0])
	}
	if !log.HasError() {
		t.Error("expected HasError")
	}
	log.Clear()
	if len(log.GetMessages()) != 0 {
		t.Error("expected Clear to drop messages")
	}
}

func TestGlobalLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.log")
	if err := InitializeWithOutput(&config.LoggingConfig{Level: "debug", File: path}, nil); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	if ActiveFile() != path {
		t.Errorf("ActiveFile() = %s, want %s", ActiveFile(), path)
	}

	Info("info message")
	WithField("key", "value").Info("with field")
	LogComponentStart(nil, "writer", map[string]interface{}{"dir": "out"})
	LogMetrics(GetLogger(), "stream", map[string]interface{}{"total_records": 3})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "Component started") || !strings.Contains(string(data), `"total_records":3`) {
		t.Errorf("unexpected global log output: %s", data)
	}
}
