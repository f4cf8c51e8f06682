package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"streamscraper/pkg/logger"
	"streamscraper/pkg/models"
)

// CurrentVersion is the snapshot format version
const CurrentVersion = 1

// Session states recorded in a snapshot
const (
	StateConnecting = "connecting"
	StateStreaming  = "streaming"
	StateCooling    = "cooling"
	StateStopped    = "stopped"
	StateFailed     = "failed"
)

// BackoffSnapshot mirrors the backoff controller at save time
type BackoffSnapshot struct {
	State   string    `json:"state"`
	Attempt int       `json:"attempt"`
	Until   time.Time `json:"until,omitempty"`
	Kind    string    `json:"kind,omitempty"`
}

// Status is the persisted session snapshot
type Status struct {
	Version       int                 `json:"version"`
	PID           int                 `json:"pid"`
	State         string              `json:"state"`
	Mode          string              `json:"mode,omitempty"`
	Partition     string              `json:"partition,omitempty"`
	PartitionPath string              `json:"partition_path,omitempty"`
	LogFile       string              `json:"log_file,omitempty"`
	Rules         []models.FilterRule `json:"rules,omitempty"`
	Stats         models.Stats        `json:"stats"`
	Backoff       *BackoffSnapshot    `json:"backoff,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	StoppedAt     time.Time           `json:"stopped_at,omitempty"`
}

// Running reports whether the snapshot describes a live session
func (s *Status) Running() bool {
	return s.State != StateStopped && s.State != StateFailed
}

// Manager reads and writes one snapshot file
type Manager struct {
	path   string
	logger logger.Logger
}

// NewManager manages the snapshot at path, creating its directory
func NewManager(path string, log logger.Logger) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("status file path is empty")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create status directory: %w", err)
	}
	return &Manager{path: path, logger: log}, nil
}

// DefaultPath returns the snapshot path in the platform data directory
func DefaultPath() (string, error) {
	dataDir, err := DataDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "stream-status.json"), nil
}

// Path returns the snapshot file path
func (m *Manager) Path() string {
	return m.path
}

// Load reads the snapshot; a missing file yields nil, nil
func (m *Manager) Load() (*Status, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open status file: %w", err)
	}
	defer file.Close()

	var status Status
	if err := json.NewDecoder(file).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status file: %w", err)
	}
	if status.Version > CurrentVersion {
		return nil, fmt.Errorf("status file version %d is newer than supported version %d", status.Version, CurrentVersion)
	}
	return &status, nil
}

// Save writes status atomically through a temporary file and rename
func (m *Manager) Save(status *Status, now time.Time) error {
	status.Version = CurrentVersion
	status.UpdatedAt = now

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary status file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode status: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync status file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close status file: %w", err)
	}
	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace status file: %w", err)
	}

	m.logger.DebugWithFields("Status saved", map[string]interface{}{
		"state":         status.State,
		"partition":     status.Partition,
		"total_records": status.Stats.TotalRecords,
	})
	return nil
}

// Delete removes the snapshot file
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete status file: %w", err)
	}
	return nil
}

// Exists reports whether a snapshot file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Backup copies the current snapshot to <path>.previous so the last run
// stays inspectable after a new session overwrites it
func (m *Manager) Backup() error {
	if !m.Exists() {
		return nil
	}

	src, err := os.Open(m.path)
	if err != nil {
		return fmt.Errorf("failed to open status file for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(m.path + ".previous")
	if err != nil {
		return fmt.Errorf("failed to create status backup: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy status to backup: %w", err)
	}
	return nil
}

// DataDirectory returns the platform data directory, creating it if needed
func DataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "streamscraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "streamscraper")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "streamscraper")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "streamscraper")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
