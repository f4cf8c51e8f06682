package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"streamscraper/pkg/config"
	"streamscraper/pkg/models"
	"streamscraper/pkg/rules"
)

func TestStatusPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.Directory = "/data/stream"

	path, err := statusPath(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/stream", ".stream-status.json"), path)

	cfg.Session.StatusFile = "/var/run/stream.json"
	path, err = statusPath(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/var/run/stream.json", path)
}

func TestLoadRuleSetFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\ngolang\n\n#gophers lang:en\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.Rules.File = path
	cfg.Rules.DefaultTag = "go"

	set, err := loadRuleSet(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "#gophers lang:en"}, set.Patterns())
}

func TestLoadRuleSetEnforcesLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.Rules.File = path
	cfg.Rules.MaxRules = 2

	_, err := loadRuleSet(cfg)
	assert.ErrorIs(t, err, rules.ErrTooManyRules)
}

func TestStopMessage(t *testing.T) {
	cfg := config.DefaultConfig()
	stats := models.Stats{StartedAt: time.Now().Add(-time.Minute), TotalRecords: 42, Reconnects: 3}
	assert.Equal(t, "Stream stopped by operator: 42 records, 3 reconnects", stopMessage(cfg, stats))

	cfg.Session.Duration = 30 * time.Second
	assert.Equal(t, "Stream stopped after 30s: 42 records, 3 reconnects", stopMessage(cfg, stats))
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.in))
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"stream", "rules", "config", "auth", "status"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	for _, name := range []string{"list", "set", "clear"} {
		cmd, _, err := rootCmd.Find([]string{"rules", name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
