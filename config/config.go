package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

// Account pairs one feed with one Mastodon account. Name doubles as the
// key for persisted state, so it must be filesystem safe and unique.
type Account struct {
	Name        string `toml:"name"`
	FeedURL     string `toml:"feed_url"`
	InstanceURL string `toml:"instance_url"`
	AccessToken string `toml:"access_token"`
}

// Config represents the top-level configuration
type Config struct {
	Accounts []Account `toml:"accounts"`
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks that every account carries the required fields and that
// names are usable as state-file keys. Malformed configuration is fatal to
// the whole run, never a per-feed condition.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("no accounts configured")
	}

	for i, account := range c.Accounts {
		switch {
		case account.Name == "":
			return fmt.Errorf("account %d: name is required", i)
		case !namePattern.MatchString(account.Name):
			return fmt.Errorf("account %q: name must contain only letters, digits, '.', '_' or '-'", account.Name)
		case account.FeedURL == "":
			return fmt.Errorf("account %q: feed_url is required", account.Name)
		case account.InstanceURL == "":
			return fmt.Errorf("account %q: instance_url is required", account.Name)
		case account.AccessToken == "":
			return fmt.Errorf("account %q: access_token is required", account.Name)
		}
		if !strings.HasPrefix(account.InstanceURL, "http://") && !strings.HasPrefix(account.InstanceURL, "https://") {
			return fmt.Errorf("account %q: instance_url must start with http:// or https://", account.Name)
		}
	}

	duplicates := lo.FindDuplicatesBy(c.Accounts, func(a Account) string {
		return a.Name
	})
	if len(duplicates) > 0 {
		return fmt.Errorf("duplicate account name %q", duplicates[0].Name)
	}

	return nil
}

// Save writes the configuration back to path. The file holds access
// tokens, so it is written owner-readable only.
func Save(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
