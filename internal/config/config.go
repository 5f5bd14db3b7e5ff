// Package config loads the process-wide configuration once at startup.
// Every other package receives a Config value and never reads the environment itself.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/naka-gawa/traffic-archive/internal/domain"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"

	DefaultCredentialSource = "env:GITHUB_TOKEN,GH_TOKEN"
	DefaultDataDir          = "data"
	DefaultOutput           = "docs/index.html"
	DefaultConcurrency      = 4
	DefaultRequestTimeout   = 30 * time.Second
)

// Config is the configuration of one invocation.
type Config struct {
	Owner            string        `yaml:"owner"`
	Repositories     []string      `yaml:"repositories"`
	IncludeForks     bool          `yaml:"include_forks"`
	CredentialSource string        `yaml:"credential_source"`
	DataDir          string        `yaml:"data_dir"`
	Store            string        `yaml:"store"`
	Output           string        `yaml:"output"`
	Concurrency      int           `yaml:"concurrency"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`

	DryRun bool   `yaml:"-"`
	Token  string `yaml:"-"`
}

// Load builds a Config from the optional YAML file at path, a .env file in the
// working directory and the environment. Command-line flags are applied by the caller.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GITHUB_OWNER"); v != "" {
		c.Owner = v
	}
	if v := os.Getenv("TRAFFIC_CREDENTIAL_SOURCE"); v != "" {
		c.CredentialSource = v
	}
	if v := os.Getenv("TRAFFIC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TRAFFIC_STORE"); v != "" {
		c.Store = v
	}
}

func (c *Config) applyDefaults() {
	if c.CredentialSource == "" {
		c.CredentialSource = DefaultCredentialSource
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Store == "" {
		c.Store = StoreFile
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// Validate checks the options needed by every command.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("unknown store %q: want %q or %q", c.Store, StoreFile, StoreSQLite)
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	return nil
}

// ValidateCollect checks the options needed by the collect command.
func (c *Config) ValidateCollect() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Owner == "" {
		return errors.New("tracked account is required: set --owner, GITHUB_OWNER or owner in the config file")
	}
	return nil
}

// ResolveToken reads the API token from the configured credential source and
// stores it on the config. A missing token is an authentication error.
//
// Supported sources are "env:NAME[,NAME...]", where the first non-empty
// variable wins, and "file:PATH".
func (c *Config) ResolveToken() error {
	kind, ref, ok := strings.Cut(c.CredentialSource, ":")
	if !ok || ref == "" {
		return domain.NewError(domain.KindAuthentication, "", fmt.Sprintf("malformed credential source %q", c.CredentialSource), nil)
	}

	var token string
	switch kind {
	case "env":
		for _, name := range strings.Split(ref, ",") {
			if v := os.Getenv(strings.TrimSpace(name)); v != "" {
				token = v
				break
			}
		}
	case "file":
		data, err := os.ReadFile(ref)
		if err != nil {
			return domain.NewError(domain.KindAuthentication, "", "failed to read credential file", err)
		}
		token = strings.TrimSpace(string(data))
	default:
		return domain.NewError(domain.KindAuthentication, "", fmt.Sprintf("unknown credential source kind %q", kind), nil)
	}

	if token == "" {
		return domain.NewError(domain.KindAuthentication, "", fmt.Sprintf("no token found in %s", c.CredentialSource), nil)
	}
	c.Token = token
	return nil
}

// TrackedRepositories returns the explicitly configured repository names,
// de-duplicated. Entries may carry the owner prefix as long as it matches
// the tracked account. An empty result means the account is enumerated.
func (c *Config) TrackedRepositories() ([]string, error) {
	seen := make(map[string]bool, len(c.Repositories))
	names := make([]string, 0, len(c.Repositories))
	for _, r := range c.Repositories {
		owner, name, err := ParseRepository(r)
		if err != nil {
			return nil, err
		}
		if owner != "" && !strings.EqualFold(owner, c.Owner) {
			return nil, fmt.Errorf("repository %q does not belong to tracked account %q", r, c.Owner)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// ParseRepository takes a string in the format owner/name or name and returns
// the owner (possibly empty) and name.
func ParseRepository(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return "", parts[0], nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("repository %q should be in format owner/name or name", repo)
	}
}
