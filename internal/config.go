package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/piko/internal/identity"
	"github.com/starford/piko/internal/syncer"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Auth   AuthConfig        `yaml:"auth"`
	Media  MediaConfig       `yaml:"media"`
	Sync   SyncConfig        `yaml:"sync"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Media.Validate(); err != nil {
		return err
	}
	return c.Sync.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	CORS     CORSConfig `yaml:"cors"`
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

// CORSConfig lists the browser origins allowed to call the API. Empty
// disables CORS handling.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how the acting user is resolved:
//   - "header" (default): trust the X-User-ID header, for local use behind a proxy.
//   - "jwt": HS256 bearer tokens signed with Secret; the subject is the user id.
type AuthConfig struct {
	Mode   string        `yaml:"mode"`
	Secret string        `yaml:"secret"`
	Issuer string        `yaml:"issuer"`
	TTL    time.Duration `yaml:"ttl"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = identity.ModeHeader
	}
	jwtMode := c.Mode == identity.ModeJWT
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(identity.ModeHeader, identity.ModeJWT)),
		validation.Field(&c.Secret, validation.When(jwtMode,
			validation.Required.Error("secret is required in jwt mode"),
			validation.Length(32, 0),
		)),
		validation.Field(&c.TTL, validation.When(jwtMode, validation.Required, validation.Min(time.Minute))),
	)
}

// Authenticator builds the request authenticator for the configured mode.
func (c *AuthConfig) Authenticator() (identity.Authenticator, error) {
	if c.Mode == identity.ModeJWT {
		return identity.NewJWT(c.Secret, c.Issuer, c.TTL)
	}
	return identity.Header{}, nil
}

// MediaConfig holds the attachments directory.
type MediaConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the media configuration.
func (c *MediaConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SyncConfig holds the save and event timing.
type SyncConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	SavedHold      time.Duration `yaml:"saved_hold"`
	EventsThrottle time.Duration `yaml:"events_throttle"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.SavedHold, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.EventsThrottle, validation.Required, validation.Min(10*time.Millisecond)),
	)
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
		SQLite: SQLiteConfig{
			Path: "./piko.db",
		},
		Auth: AuthConfig{
			Mode:   identity.ModeHeader,
			Issuer: "piko",
			TTL:    24 * time.Hour,
		},
		Media: MediaConfig{
			Path: "./attachments",
		},
		Sync: SyncConfig{
			Debounce:       syncer.DefaultQuiet,
			SavedHold:      syncer.DefaultHold,
			EventsThrottle: 2 * time.Second,
		},
	}
}
