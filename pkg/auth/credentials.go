// Package auth stores the secrets the collector needs: the upstream bearer
// token and the SMTP password. Credentials are kept per profile in the
// system keychain when one is available, otherwise in an encrypted file,
// and can always be supplied through the environment.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"streamscraper/pkg/config"
)

// DefaultProfile is used when no profile is named
const DefaultProfile = "default"

// Credentials are the secrets for one profile
type Credentials struct {
	Profile      string    `json:"profile"`
	BearerToken  string    `json:"bearer_token,omitempty"`
	SMTPUsername string    `json:"smtp_username,omitempty"`
	SMTPPassword string    `json:"smtp_password,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Apply fills secrets missing from cfg. Values already set (from the
// environment) win.
func (c *Credentials) Apply(cfg *config.Config) {
	if c == nil || cfg == nil {
		return
	}
	if cfg.Upstream.BearerToken == "" {
		cfg.Upstream.BearerToken = c.BearerToken
	}
	if cfg.SMTP.Password == "" && c.SMTPPassword != "" {
		cfg.SMTP.Password = c.SMTPPassword
		if cfg.SMTP.Username == "" {
			cfg.SMTP.Username = c.SMTPUsername
		}
	}
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for their profile
	Store(creds *Credentials) error

	// Retrieve gets credentials for a profile
	Retrieve(profile string) (*Credentials, error)

	// List returns all stored profiles
	List() ([]*Credentials, error)

	// Delete removes credentials for a profile
	Delete(profile string) error

	// Exists checks if credentials exist for a profile
	Exists(profile string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager over the keychain (when available), the
// encrypted file store and the environment, in that order
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves credentials using the first store that accepts them
func (m *Manager) Store(creds *Credentials) error {
	if creds == nil {
		return ErrInvalidCredentials
	}
	if creds.Profile == "" {
		creds.Profile = DefaultProfile
	}
	if creds.BearerToken == "" && creds.SMTPPassword == "" {
		return errors.New("a bearer token or an SMTP password is required")
	}

	creds.LastModified = time.Now()

	var errs []error
	for _, store := range m.stores {
		err := store.Store(creds)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to store credentials: %w", errors.Join(errs...))
	}
	return ErrStoreUnavailable
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(profile string) (*Credentials, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	for _, store := range m.stores {
		if creds, err := store.Retrieve(profile); err == nil && creds != nil {
			return creds, nil
		}
	}
	return nil, fmt.Errorf("%w for profile %q", ErrCredentialsNotFound, profile)
}

// Resolve returns the named profile, or when profile is empty the default
// profile, falling back to the only stored profile
func (m *Manager) Resolve(profile string) (*Credentials, error) {
	if profile != "" {
		return m.Retrieve(profile)
	}
	if creds, err := m.Retrieve(DefaultProfile); err == nil {
		return creds, nil
	}

	all, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(all) == 1 {
		return all[0], nil
	}
	if len(all) > 1 {
		return nil, fmt.Errorf("several profiles stored, pick one with --profile")
	}
	return nil, ErrCredentialsNotFound
}

// List returns every stored profile, newest version of each, sorted by name
func (m *Manager) List() ([]*Credentials, error) {
	byProfile := make(map[string]*Credentials)

	for _, store := range m.stores {
		all, err := store.List()
		if err != nil {
			continue
		}
		for _, creds := range all {
			if existing, ok := byProfile[creds.Profile]; !ok || creds.LastModified.After(existing.LastModified) {
				byProfile[creds.Profile] = creds
			}
		}
	}

	result := make([]*Credentials, 0, len(byProfile))
	for _, creds := range byProfile {
		result = append(result, creds)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Profile < result[j].Profile })
	return result, nil
}

// Delete removes a profile from every store holding it
func (m *Manager) Delete(profile string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		err := store.Delete(profile)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrCredentialsNotFound), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for profile %q", ErrCredentialsNotFound, profile)
	}
	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	all, err := m.List()
	if err != nil {
		return err
	}
	for _, creds := range all {
		_ = m.Delete(creds.Profile)
	}
	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "streamscraper")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "streamscraper")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "streamscraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "streamscraper")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// Sanitize returns a copy of creds with secrets masked
func Sanitize(creds *Credentials) *Credentials {
	if creds == nil {
		return nil
	}
	return &Credentials{
		Profile:      creds.Profile,
		BearerToken:  maskString(creds.BearerToken),
		SMTPUsername: creds.SMTPUsername,
		SMTPPassword: maskString(creds.SMTPPassword),
		LastModified: creds.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
