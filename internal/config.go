package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Index backends.
const (
	IndexBackendFile   = "file"
	IndexBackendBadger = "badger"
)

const appDir = "mioring"

// Config represents the application configuration.
type Config struct {
	App          ApplicationConfig  `yaml:"app"`
	Dirs         DirsConfig         `yaml:"dirs"`
	Index        IndexConfig        `yaml:"index"`
	Allocator    AllocatorConfig    `yaml:"allocator"`
	SQLite       SQLiteConfig       `yaml:"sqlite"`
	Security     SecurityConfig     `yaml:"security"`
	Auth         AuthConfig         `yaml:"auth"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Inbox        InboxConfig        `yaml:"inbox"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Dirs, &c.Index, &c.Allocator, &c.SQLite, &c.Auth, &c.Capabilities, &c.Inbox,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
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

// DirsConfig locates the ring's directories. Concrete content lives in Data,
// lazy results in Cache, and files dropped into Inbox are registered.
type DirsConfig struct {
	Config string `yaml:"config"`
	Cache  string `yaml:"cache"`
	Data   string `yaml:"data"`
	Inbox  string `yaml:"inbox"`
}

// Validate validates the directory configuration.
func (c *DirsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Config, validation.Required),
		validation.Field(&c.Cache, validation.Required),
		validation.Field(&c.Data, validation.Required),
		validation.Field(&c.Inbox, validation.Required),
	)
}

// IndexConfig selects where the serialized ring is kept.
type IndexConfig struct {
	Backend    string `yaml:"backend"`
	BadgerPath string `yaml:"badger_path"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = IndexBackendFile
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.In(IndexBackendFile, IndexBackendBadger)),
		validation.Field(&c.BadgerPath, validation.When(c.Backend == IndexBackendBadger, validation.Required)),
	)
}

// AllocatorConfig sizes the recycled ordinal pool.
type AllocatorConfig struct {
	PoolSize int `yaml:"pool_size"`
}

// Validate validates the allocator configuration.
func (c *AllocatorConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PoolSize, validation.Min(0), validation.Max(1024)),
	)
}

// SQLiteConfig holds the catalog database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SecurityConfig enables sealing of the index at rest. An empty KeyFile
// stores the index as plain JSON.
type SecurityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
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

// CapabilitiesConfig turns optional operation backends on.
type CapabilitiesConfig struct {
	Image bool      `yaml:"image"`
	OCR   OCRConfig `yaml:"ocr"`
	LLM   LLMConfig `yaml:"llm"`
}

// Validate validates the capability configuration.
func (c *CapabilitiesConfig) Validate() error {
	if err := c.OCR.Validate(); err != nil {
		return err
	}
	return c.LLM.Validate()
}

// OCRConfig configures the tesseract-backed image to text conversion.
type OCRConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TesseractPath string `yaml:"tesseract_path"`
	Lang          string `yaml:"lang"`
}

// Validate validates the OCR configuration.
func (c *OCRConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TesseractPath, validation.When(c.Enabled, validation.Required)),
	)
}

// LLMConfig configures the summarize backend. BaseURL may point at any
// OpenAI-compatible endpoint.
type LLMConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.When(c.Enabled && c.BaseURL == "", validation.Required)),
		validation.Field(&c.Model, validation.When(c.Enabled, validation.Required)),
	)
}

// InboxConfig controls the drop-folder watcher.
type InboxConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
// Directories default to the user's config, cache and data locations.
func NewDefaultConfig() *Config {
	config, cache, data := defaultDirs()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Dirs: DirsConfig{
			Config: config,
			Cache:  cache,
			Data:   data,
			Inbox:  filepath.Join(data, "inbox"),
		},
		Index: IndexConfig{
			Backend:    IndexBackendFile,
			BadgerPath: filepath.Join(data, "index.badger"),
		},
		Allocator: AllocatorConfig{
			PoolSize: 2,
		},
		SQLite: SQLiteConfig{
			Path: filepath.Join(cache, "catalog.db"),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Capabilities: CapabilitiesConfig{
			Image: true,
			OCR: OCRConfig{
				TesseractPath: "tesseract",
				Lang:          "eng",
			},
			LLM: LLMConfig{
				Model: "gpt-4o-mini",
			},
		},
		Inbox: InboxConfig{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
		},
	}
}

func defaultDirs() (config, cache, data string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	config, err = os.UserConfigDir()
	if err != nil {
		config = filepath.Join(home, ".config")
	}
	cache, err = os.UserCacheDir()
	if err != nil {
		cache = filepath.Join(home, ".cache")
	}
	data = os.Getenv("XDG_DATA_HOME")
	if data == "" {
		data = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(config, appDir), filepath.Join(cache, appDir), filepath.Join(data, appDir)
}
