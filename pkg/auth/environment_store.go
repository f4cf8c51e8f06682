package auth

import (
	"os"
	"time"

	"streamscraper/pkg/config"
)

// EnvironmentStore implements CredentialStore over environment variables.
// It is read-only and answers for any profile.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(*Credentials) error {
	return ErrStoreUnavailable
}

// Retrieve reads STREAMSCRAPER_BEARER_TOKEN (or BEARER_TOKEN) and the
// STREAMSCRAPER_SMTP_* secrets
func (e *EnvironmentStore) Retrieve(profile string) (*Credentials, error) {
	token := os.Getenv(config.EnvPrefix + "BEARER_TOKEN")
	if token == "" {
		token = os.Getenv("BEARER_TOKEN")
	}
	password := os.Getenv(config.EnvPrefix + "SMTP_PASSWORD")

	if token == "" && password == "" {
		return nil, ErrCredentialsNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}

	return &Credentials{
		Profile:      profile,
		BearerToken:  token,
		SMTPUsername: os.Getenv(config.EnvPrefix + "SMTP_USERNAME"),
		SMTPPassword: password,
		LastModified: time.Now(),
	}, nil
}

// List returns a single default profile if the variables are set
func (e *EnvironmentStore) List() ([]*Credentials, error) {
	creds, err := e.Retrieve("")
	if err != nil {
		return nil, nil
	}
	return []*Credentials{creds}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(string) bool {
	_, err := e.Retrieve("")
	return err == nil
}
