package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectFileName is the optional per-project configuration file
const ProjectFileName = "learnhub.yaml"

// Storage backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrIdentityNotConfigured is returned when the identity backend is missing
var ErrIdentityNotConfigured = errors.New("identity backend not configured: set LEARNHUB_IDENTITY_URL and LEARNHUB_ANON_KEY or add them to " + ProjectFileName)

// Config holds all configuration for the CLI
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Storage  StorageConfig  `yaml:"storage"`
	Callback CallbackConfig `yaml:"callback"`
	Timing   TimingConfig   `yaml:"timing"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Path of the project file the values were read from, if any
	Source string `yaml:"-"`
}

// IdentityConfig points at the identity backend
type IdentityConfig struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	AnonKey string        `yaml:"anon_key"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// StorageConfig selects the local durable store
type StorageConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file sqlite memory"`
	// Path overrides the backend's default location
	Path string `yaml:"path"`
}

// CallbackConfig configures the OAuth loopback server
type CallbackConfig struct {
	Addr      string   `yaml:"addr" validate:"required,hostname_port"`
	Providers []string `yaml:"providers" validate:"dive,required"`
}

// TimingConfig holds the session core's fixed waits
type TimingConfig struct {
	SettleDelay     time.Duration `yaml:"settle_delay" validate:"gte=0"`
	PendingDelay    time.Duration `yaml:"pending_delay" validate:"gte=0"`
	ModeSwitchDelay time.Duration `yaml:"mode_switch_delay" validate:"gte=0"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json console"` // json, console
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
		},
		Callback: CallbackConfig{
			Addr:      "127.0.0.1:54321",
			Providers: []string{"google", "github"},
		},
		Timing: TimingConfig{
			SettleDelay:     1 * time.Second,
			PendingDelay:    2 * time.Second,
			ModeSwitchDelay: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Load builds the configuration for the current directory: defaults, then
// the nearest learnhub.yaml, then environment variables (.env files
// included).
func Load() (*Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFrom(dir)
}

// LoadFrom is Load rooted at dir
func LoadFrom(dir string) (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	_ = godotenv.Load(filepath.Join(dir, ".env.local"))

	cfg := Default()

	if path, ok := FindProjectFile(dir); ok {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
		cfg.Source = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindProjectFile searches for learnhub.yaml in dir and its parents
func FindProjectFile(dir string) (string, bool) {
	for {
		path := filepath.Join(dir, ProjectFileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return "", false
		}
		dir = parent
	}
}

// LoadFile reads a project file over the defaults, without environment overrides
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString("LEARNHUB_IDENTITY_URL", &c.Identity.URL)
	setString("LEARNHUB_ANON_KEY", &c.Identity.AnonKey)
	setString("LEARNHUB_STORAGE_BACKEND", &c.Storage.Backend)
	setString("LEARNHUB_STORAGE_PATH", &c.Storage.Path)
	setString("LEARNHUB_CALLBACK_ADDR", &c.Callback.Addr)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)

	if v := strings.TrimSpace(os.Getenv("LEARNHUB_OAUTH_PROVIDERS")); v != "" {
		var providers []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				providers = append(providers, strings.ToLower(p))
			}
		}
		c.Callback.Providers = providers
	}

	if err := setDuration("LEARNHUB_IDENTITY_TIMEOUT", &c.Identity.Timeout); err != nil {
		return err
	}
	if err := setDuration("LEARNHUB_SETTLE_DELAY", &c.Timing.SettleDelay); err != nil {
		return err
	}
	if err := setDuration("LEARNHUB_PENDING_DELAY", &c.Timing.PendingDelay); err != nil {
		return err
	}
	return setDuration("LEARNHUB_MODE_SWITCH_DELAY", &c.Timing.ModeSwitchDelay)
}

// Validate checks field formats
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireIdentity reports whether the identity backend is configured
func (c *Config) RequireIdentity() error {
	if c.Identity.URL == "" || c.Identity.AnonKey == "" {
		return ErrIdentityNotConfigured
	}
	return nil
}

// Save writes the configuration as a project file
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
