// Package config layers defaults, an optional TOML file, environment
// variables and command line flags into one Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	// DefaultFile is read from the working directory when present
	DefaultFile = "unitconv.toml"

	// EnvPrefix namespaces environment overrides, e.g. UNITCONV_PORT=9090
	EnvPrefix = "UNITCONV_"
)

// Store backends
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds all configuration for the application
type Config struct {
	Port      int    `koanf:"port"`
	Store     string `koanf:"store"`
	DB        string `koanf:"db"`
	Seed      string `koanf:"seed"`
	Watch     bool   `koanf:"watch"`
	MaxSteps  int    `koanf:"max_steps"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// Defaults returns the built-in configuration
func Defaults() map[string]any {
	return map[string]any{
		"port":       8080,
		"store":      StoreSQLite,
		"db":         "unitconv.db",
		"seed":       "",
		"watch":      false,
		"max_steps":  5,
		"log_level":  "info",
		"log_format": "text",
	}
}

// RegisterFlags adds one flag per config key. Flag names use dashes, which
// Load maps back to the underscore keys.
func RegisterFlags(f *pflag.FlagSet) {
	d := Defaults()
	f.Int("port", d["port"].(int), "HTTP port")
	f.String("store", d["store"].(string), "rule store backend (memory|sqlite)")
	f.String("db", d["db"].(string), "SQLite database path")
	f.String("seed", d["seed"].(string), "TOML file with rules imported at startup")
	f.Bool("watch", d["watch"].(bool), "re-import the seed file when it changes")
	f.Int("max-steps", d["max_steps"].(int), "maximum rules chained in one conversion")
	f.String("log-level", d["log_level"].(string), "log level (trace|debug|info|warn|error)")
	f.String("log-format", d["log_format"].(string), "log format (text|json)")
	f.String("config", DefaultFile, "configuration file")
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path := DefaultFile
	explicit := false
	if f != nil {
		if flag := f.Lookup("config"); flag != nil {
			path = flag.Value.String()
			explicit = flag.Changed
		}
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		// Only a file the user asked for must exist
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if f != nil {
		if err := k.Load(posflag.ProviderWithFlag(f, ".", k, func(flag *pflag.Flag) (string, any) {
			return strings.ReplaceAll(flag.Name, "-", "_"), posflag.FlagVal(f, flag)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.DB == "" {
			return fmt.Errorf("store %q needs a db path", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreMemory, StoreSQLite)
	}
	if c.Watch && c.Seed == "" {
		return fmt.Errorf("watch needs a seed file")
	}
	return nil
}

// mapProvider feeds a flat map into koanf
type mapProvider map[string]any

func (p mapProvider) Read() (map[string]any, error) {
	return p, nil
}

func (p mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
