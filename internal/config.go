package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Store    StoreConfig       `yaml:"store"`
	Registry RegistryConfig    `yaml:"registry"`
	Router   RouterConfig      `yaml:"router"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	if err := c.Router.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the root directory documents are routed into.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RegistryConfig locates the registry files and tunes the lock.
// Empty QueuePath and LockPath are derived from Path.
type RegistryConfig struct {
	Path        string        `yaml:"path"`
	QueuePath   string        `yaml:"queue_path"`
	LockPath    string        `yaml:"lock_path"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	LockRetries int           `yaml:"lock_retries"`
	LockBackoff time.Duration `yaml:"lock_backoff"`
}

// Validate validates the registry configuration.
func (c *RegistryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.LockTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.LockRetries, validation.Required, validation.Min(1)),
		validation.Field(&c.LockBackoff, validation.Required, validation.Min(time.Millisecond)),
	)
}

// RouterConfig holds routing rule and state locations.
//
// RulesPath may be empty, in which case the built-in rules are used and
// nothing is watched. An empty LearnedPath keeps learned patterns in memory.
type RouterConfig struct {
	RulesPath        string `yaml:"rules_path"`
	LearnedPath      string `yaml:"learned_path"`
	ProjectStatePath string `yaml:"project_state_path"`
	HistorySize      int    `yaml:"history_size"`
	Verbose          bool   `yaml:"verbose"`
}

// Validate validates the router configuration.
func (c *RouterConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.HistorySize, validation.Min(0), validation.Max(100000)),
	)
}

// SQLiteConfig holds search index configuration. An empty path disables
// the index.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether the search index is configured.
func (c *SQLiteConfig) Enabled() bool {
	return c.Path != ""
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Path: "./docs",
		},
		Registry: RegistryConfig{
			Path:        "./.scriptorium/registry.json",
			LockTimeout: 30 * time.Second,
			LockRetries: 50,
			LockBackoff: 100 * time.Millisecond,
		},
		Router: RouterConfig{
			LearnedPath:      "./.scriptorium/learned-patterns.yaml",
			ProjectStatePath: "./.scriptorium/project.yaml",
			HistorySize:      100,
		},
		SQLite: SQLiteConfig{
			Path: "./.scriptorium/index.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
