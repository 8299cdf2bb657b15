// Package config backs ~/.flashkit/config.toml, mirroring the teacher's
// get/set-by-dot-path accessor and explicit validKeys allowlist.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config holds every value flashctl persists across invocations.
type Config struct {
	DefaultTimeoutMs  int    `toml:"default_timeout_ms"`
	ChunkTimeoutMs    int    `toml:"chunk_timeout_ms"`
	LoaderSearchPath  string `toml:"loader_search_path"`
	FdlSearchPath     string `toml:"fdl_search_path"`
	ChipDBPath        string `toml:"chip_db_path"`
	DefaultChunkBytes int    `toml:"default_chunk_bytes"`
	NoColor           bool   `toml:"no_color"`
}

// Defaults mirror spec §4/§5 timeouts (30s per frame, 15s per chunk).
func Defaults() Config {
	return Config{
		DefaultTimeoutMs:  30_000,
		ChunkTimeoutMs:    15_000,
		DefaultChunkBytes: 1 << 20,
	}
}

var configDir string

// SetConfigDir overrides the config directory for the remainder of the
// process. Called once from the root command's PersistentPreRunE.
func SetConfigDir(dir string) { configDir = dir }

// FlashkitHome returns the effective config directory: an explicit override,
// else $FLASHKIT_HOME, else ~/.flashkit.
func FlashkitHome() string {
	if configDir != "" {
		return configDir
	}
	if v := os.Getenv("FLASHKIT_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flashkit"
	}
	return filepath.Join(home, ".flashkit")
}

// ConfigPath returns the config.toml path under FlashkitHome.
func ConfigPath() string {
	return filepath.Join(FlashkitHome(), "config.toml")
}

// EnsureDir creates FlashkitHome if it does not already exist.
func EnsureDir() error {
	return os.MkdirAll(FlashkitHome(), 0o755)
}

// Load reads config.toml, returning Defaults() if it does not exist.
func Load() (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to config.toml, creating FlashkitHome as needed.
func Save(cfg Config) error {
	if err := EnsureDir(); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o644)
}

// validKeys maps dot-path key names to the Config field they address,
// keeping Get/Set from reflecting over arbitrary strings.
var validKeys = map[string]string{
	"default_timeout_ms":  "DefaultTimeoutMs",
	"chunk_timeout_ms":     "ChunkTimeoutMs",
	"loader_search_path":  "LoaderSearchPath",
	"fdl_search_path":     "FdlSearchPath",
	"chip_db_path":        "ChipDBPath",
	"default_chunk_bytes": "DefaultChunkBytes",
	"no_color":            "NoColor",
}

// Get returns the string form of a config value by its dot-path key.
func Get(key string) (string, error) {
	field, ok := validKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key %q", key)
	}
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return getField(cfg, field), nil
}

// Set persists a single config value addressed by its dot-path key.
func Set(key, value string) error {
	field, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	cfg, err := Load()
	if err != nil {
		return err
	}
	if err := setField(&cfg, field, value); err != nil {
		return err
	}
	return Save(cfg)
}

// Keys returns the sorted list of valid dot-path keys, for `flashctl config`
// help text and validation.
func Keys() []string {
	keys := make([]string, 0, len(validKeys))
	for k := range validKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func getField(cfg Config, name string) string {
	v := reflect.ValueOf(cfg).FieldByName(name)
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	default:
		return v.String()
	}
}

func setField(cfg *Config, name, value string) error {
	v := reflect.ValueOf(cfg).Elem().FieldByName(name)
	switch v.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("expected bool for %s: %w", name, err)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("expected integer for %s: %w", name, err)
		}
		v.SetInt(n)
	default:
		v.SetString(value)
	}
	return nil
}
