// Package config loads ctxhook's configuration: a viper singleton seeded
// from defaults, an optional TOML file, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/context-raii/ctxhook/internal/debug"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at application startup, before any Get* function.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("toml")

	if path, ok := locateConfigFile(); ok {
		v.SetConfigFile(path)
	}

	// RAII_STORE_DIR, RAII_ABANDONED_THRESHOLD, etc. take precedence over
	// the config file.
	v.SetEnvPrefix("RAII")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store-dir", defaultStoreDir())
	v.SetDefault("abandoned-threshold", 50)
	v.SetDefault("chars-per-token", 4)
	v.SetDefault("guidance.inline-evictable-cap", 20)
	v.SetDefault("guidance.inline-preserved-cap", 10)
	v.SetDefault("log.max-size-mb", 5)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
		debug.Logf("config", "loaded %s", v.ConfigFileUsed())
	}
	return nil
}

// locateConfigFile walks up from the working directory looking for a
// project-local .raii/config.toml, falling back to the user config
// directory (~/.config/ctxhook/config.toml): project file beats user file.
func locateConfigFile() (string, bool) {
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".raii", "config.toml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configDir, "ctxhook", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// defaultStoreDir is RAII_STORE_DIR's fallback: a per-user dotfile
// directory.
func defaultStoreDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ctxhook")
	}
	return ".ctxhook"
}

// StoreDir returns the resolved store directory.
func StoreDir() string { return GetString("store-dir") }

// AbandonedThreshold returns the configured abandoned-task chunk-count
// threshold. The eviction engine does not read it; it uses its own
// AbandonedTaskThreshold constant (50).
func AbandonedThreshold() int { return GetInt("abandoned-threshold") }

// CharsPerToken returns the configured chars-per-token value. The tagger's
// token estimate does not read it; it uses its own constant (4).
func CharsPerToken() int { return GetInt("chars-per-token") }

// InlineEvictableCap and InlinePreservedCap return the configured guidance
// caps. The compaction advisor does not read them; its guidance text uses
// its own constants (20 and 10).
func InlineEvictableCap() int { return GetInt("guidance.inline-evictable-cap") }
func InlinePreservedCap() int { return GetInt("guidance.inline-preserved-cap") }

// LogRotation returns the configured rotation parameters for the debug log.
// debug.Init does not read them; it sets the same values (5, 3, 28) itself.
func LogRotation() (maxSizeMB, maxBackups, maxAgeDays int) {
	return GetInt("log.max-size-mb"), GetInt("log.max-backups"), GetInt("log.max-age-days")
}

func GetString(key string) string        { return v.GetString(key) }
func GetBool(key string) bool            { return v.GetBool(key) }
func GetInt(key string) int              { return v.GetInt(key) }
func GetDuration(key string) time.Duration { return v.GetDuration(key) }
func Set(key string, value any)          { v.Set(key, value) }
func AllSettings() map[string]any        { return v.AllSettings() }

// ExportYAML renders the fully resolved configuration (defaults, file, and
// environment overrides all merged) as YAML, for `ctxhook config export`.
// This is a read-only view for operators comparing hosts; the TOML file
// remains the sole writable config format.
func ExportYAML() ([]byte, error) {
	return yaml.Marshal(v.AllSettings())
}

// WriteDefaultFile writes a starter .raii/config.toml at path, used by
// `ctxhook init`.
func WriteDefaultFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	defaults := map[string]any{
		"store-dir":           defaultStoreDir(),
		"abandoned-threshold": 50,
		"chars-per-token":     4,
	}
	if err := toml.NewEncoder(f).Encode(defaults); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
