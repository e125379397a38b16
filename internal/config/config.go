// Package config loads the authkeeper configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wolfeidau/authkeeper/internal/lifecycle"
	"github.com/wolfeidau/authkeeper/internal/provider/oauth"
	"github.com/wolfeidau/authkeeper/internal/refresh"
	"github.com/wolfeidau/authkeeper/internal/sessioncache"
	"github.com/wolfeidau/authkeeper/internal/tokenclock"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for a configuration which fails validation.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration written as a string, "5m" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

type OAuthConfig struct {
	ClientID      string   `yaml:"clientId" json:"clientId"`
	ClientSecret  string   `yaml:"clientSecret" json:"clientSecret"`
	TokenURL      string   `yaml:"tokenUrl" json:"tokenUrl"`
	RevocationURL string   `yaml:"revocationUrl" json:"revocationUrl"`
	Scopes        []string `yaml:"scopes" json:"scopes"`
	MaxTries      uint     `yaml:"maxTries" json:"maxTries"`
	RetryInterval Duration `yaml:"retryInterval" json:"retryInterval"`
}

type SessionConfig struct {
	RefreshThreshold Duration `yaml:"refreshThreshold" json:"refreshThreshold"`
	MinRefreshDelay  Duration `yaml:"minRefreshDelay" json:"minRefreshDelay"`
	CacheTTL         Duration `yaml:"cacheTtl" json:"cacheTtl"`
	RefreshTimeout   Duration `yaml:"refreshTimeout" json:"refreshTimeout"`
}

type RoutesConfig struct {
	SignIn    string `yaml:"signIn" json:"signIn"`
	Dashboard string `yaml:"dashboard" json:"dashboard"`
}

// Config is the top level configuration.
type Config struct {
	OAuth    OAuthConfig   `yaml:"oauth" json:"oauth"`
	Session  SessionConfig `yaml:"session" json:"session"`
	Routes   RoutesConfig  `yaml:"routes" json:"routes"`
	StoreDir string        `yaml:"storeDir" json:"storeDir"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		OAuth: OAuthConfig{
			MaxTries:      oauth.DefaultMaxTries,
			RetryInterval: Duration(oauth.DefaultRetryInterval),
		},
		Session: SessionConfig{
			RefreshThreshold: Duration(tokenclock.DefaultThreshold),
			MinRefreshDelay:  Duration(tokenclock.DefaultMinDelay),
			CacheTTL:         Duration(sessioncache.DefaultTTL),
			RefreshTimeout:   Duration(refresh.DefaultTimeout),
		},
		Routes: RoutesConfig{
			SignIn:    lifecycle.DefaultSignInPath,
			Dashboard: lifecycle.DefaultDashboardPath,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		cfg := Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the session timings and routes. The OAuth section is checked
// when a provider is built from it.
func (c *Config) Validate() error {
	var errs []error

	if c.Session.RefreshThreshold <= 0 {
		errs = append(errs, errors.New("session.refreshThreshold must be positive"))
	}
	if c.Session.MinRefreshDelay <= 0 {
		errs = append(errs, errors.New("session.minRefreshDelay must be positive"))
	}
	if c.Session.CacheTTL <= 0 {
		errs = append(errs, errors.New("session.cacheTtl must be positive"))
	}
	if c.Session.RefreshTimeout <= 0 {
		errs = append(errs, errors.New("session.refreshTimeout must be positive"))
	}
	if !strings.HasPrefix(c.Routes.SignIn, "/") {
		errs = append(errs, fmt.Errorf("routes.signIn %q must be an absolute path", c.Routes.SignIn))
	}
	if !strings.HasPrefix(c.Routes.Dashboard, "/") {
		errs = append(errs, fmt.Errorf("routes.dashboard %q must be an absolute path", c.Routes.Dashboard))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ControllerOptions returns the lifecycle options for the session settings.
func (c *Config) ControllerOptions() []lifecycle.Option {
	return []lifecycle.Option{
		lifecycle.WithRefreshThreshold(time.Duration(c.Session.RefreshThreshold)),
		lifecycle.WithMinRefreshDelay(time.Duration(c.Session.MinRefreshDelay)),
		lifecycle.WithCacheTTL(time.Duration(c.Session.CacheTTL)),
		lifecycle.WithRefreshTimeout(time.Duration(c.Session.RefreshTimeout)),
		lifecycle.WithRoutes(c.Routes.SignIn, c.Routes.Dashboard),
	}
}

// OAuthProvider builds the OAuth backend, persisting to StoreDir.
func (c *Config) OAuthProvider() (*oauth.Provider, error) {
	store, err := oauth.NewFileStore(c.StoreDir)
	if err != nil {
		return nil, err
	}

	return oauth.New(oauth.Config{
		ClientID:      c.OAuth.ClientID,
		ClientSecret:  c.OAuth.ClientSecret,
		TokenURL:      c.OAuth.TokenURL,
		RevocationURL: c.OAuth.RevocationURL,
		Scopes:        c.OAuth.Scopes,
	},
		oauth.WithStore(store),
		oauth.WithRetry(c.OAuth.MaxTries, time.Duration(c.OAuth.RetryInterval)),
	)
}
