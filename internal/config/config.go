// Package config loads harlite's runtime configuration: defaults, then an
// optional TOML file via github.com/BurntSushi/toml, then environment
// overrides bound through github.com/spf13/viper (spec §8). Precedence is
// flag > env > file > default; flag overrides are applied by the CLI layer
// after Initialize populates the viper singleton.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

var v *viper.Viper

// fileConfig mirrors the on-disk TOML shape. Each field carries a toml tag
// naming its TOML key; nested tables get their own struct.
type fileConfig struct {
	MaxBodySize      string `toml:"max_body_size"`
	MaxIndexableSize string `toml:"max_indexable_size"`

	Blob struct {
		ExternalRoot string `toml:"external_root"`
		ShardDepth   int    `toml:"shard_depth"`
	} `toml:"blob"`

	Decompress struct {
		MaxBytes string `toml:"max_bytes"`
	} `toml:"decompress"`

	Watch struct {
		DebounceMs uint64 `toml:"debounce_ms"`
		StableMs   uint64 `toml:"stable_ms"`
		Recursive  bool   `toml:"recursive"`
	} `toml:"watch"`

	CDP struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		Duration string `toml:"duration"`
	} `toml:"cdp"`
}

// ConfigSource identifies where a resolved value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
	SourceFlag       ConfigSource = "flag"
)

// Initialize sets up the viper singleton: defaults, an optional TOML file
// (project ./harlite.toml, then ~/.config/harlite/config.toml), then
// HARLITE_-prefixed environment variables. Call once at CLI startup.
func Initialize() error {
	v = viper.New()

	v.SetDefault("max_body_size", "")
	v.SetDefault("max_indexable_size", 1024*1024)
	v.SetDefault("blob.external_root", "")
	v.SetDefault("blob.shard_depth", 2)
	v.SetDefault("decompress.max_bytes", 50*1024*1024)
	v.SetDefault("watch.debounce_ms", 300)
	v.SetDefault("watch.stable_ms", 500)
	v.SetDefault("watch.recursive", true)
	v.SetDefault("cdp.host", "localhost")
	v.SetDefault("cdp.port", 9222)
	v.SetDefault("cdp.duration", "")

	v.SetEnvPrefix("HARLITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configPath, found := locateConfigFile()
	if found {
		var fc fileConfig
		if _, err := toml.DecodeFile(configPath, &fc); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
		applyFileConfig(&fc)
		v.Set("__config_file_used", configPath)
	}

	return nil
}

func applyFileConfig(fc *fileConfig) {
	if fc.MaxBodySize != "" {
		v.SetDefault("max_body_size", fc.MaxBodySize)
	}
	if fc.MaxIndexableSize != "" {
		v.SetDefault("max_indexable_size", fc.MaxIndexableSize)
	}
	if fc.Blob.ExternalRoot != "" {
		v.SetDefault("blob.external_root", fc.Blob.ExternalRoot)
	}
	if fc.Blob.ShardDepth != 0 {
		v.SetDefault("blob.shard_depth", fc.Blob.ShardDepth)
	}
	if fc.Decompress.MaxBytes != "" {
		v.SetDefault("decompress.max_bytes", fc.Decompress.MaxBytes)
	}
	if fc.Watch.DebounceMs != 0 {
		v.SetDefault("watch.debounce_ms", fc.Watch.DebounceMs)
	}
	if fc.Watch.StableMs != 0 {
		v.SetDefault("watch.stable_ms", fc.Watch.StableMs)
	}
	v.SetDefault("watch.recursive", fc.Watch.Recursive)
	if fc.CDP.Host != "" {
		v.SetDefault("cdp.host", fc.CDP.Host)
	}
	if fc.CDP.Port != 0 {
		v.SetDefault("cdp.port", fc.CDP.Port)
	}
	if fc.CDP.Duration != "" {
		v.SetDefault("cdp.duration", fc.CDP.Duration)
	}
}

// locateConfigFile walks up from the working directory looking for
// ./harlite.toml, falling back to the user config directory.
func locateConfigFile() (string, bool) {
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, "harlite.toml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configDir, "harlite", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	return "", false
}

// GetValueSource reports whether key currently resolves from an env var,
// the config file, or a default (flags are tracked by the CLI layer, which
// knows which pflags were explicitly set).
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}

	envKey := "HARLITE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}
	if v.GetString("__config_file_used") != "" && v.IsSet(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// ConfigFileUsed returns the path of the config file that was loaded, or
// "" if none was found.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.GetString("__config_file_used")
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetInt64(key string) int64 {
	if v == nil {
		return 0
	}
	return v.GetInt64(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// MaxBodySize parses the configured max_body_size (bytes, "" = unlimited)
// into the *int64 shape importer.InsertEntryOptions expects.
func MaxBodySize() *int64 {
	raw := GetString("max_body_size")
	if raw == "" {
		return nil
	}
	n := GetInt64("max_body_size")
	if n <= 0 {
		return nil
	}
	return &n
}

// DecompressMaxBytes is the decompression output cap (spec §4.3 step 6).
func DecompressMaxBytes() int64 {
	return GetInt64("decompress.max_bytes")
}

// MaxIndexableSize is the FTS body-indexing cap (spec §9 Open Question).
func MaxIndexableSize() int64 {
	return GetInt64("max_indexable_size")
}

// ExternalBlobRoot and ShardDepth configure external blob storage (spec §2).
func ExternalBlobRoot() string { return GetString("blob.external_root") }
func ShardDepth() int          { return GetInt("blob.shard_depth") }

// WatchDebounce and WatchStable are the watcher's debounce/stable windows
// (spec §4.11), in milliseconds.
func WatchDebounce() uint64 { return uint64(GetInt("watch.debounce_ms")) }
func WatchStable() uint64   { return uint64(GetInt("watch.stable_ms")) }
func WatchRecursive() bool  { return GetBool("watch.recursive") }

// CDPHost and CDPPort are the default DevTools connection target (spec §4.6).
func CDPHost() string { return GetString("cdp.host") }
func CDPPort() int    { return GetInt("cdp.port") }
