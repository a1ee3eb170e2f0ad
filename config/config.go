// ABOUTME: Collector configuration with JSON and YAML loaders
// ABOUTME: Covers scan delay, shutdown passes, graph limits, cache geometry and logging

package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultScanDelay is the number of generations a candidate ages before
	// it is scanned
	DefaultScanDelay = 1
	// DefaultShutdownCollections bounds the passes run by Shutdown
	DefaultShutdownCollections = 5
	// DefaultCacheSets is the number of candidate cache sets
	DefaultCacheSets = 64
	// DefaultCacheWays is the candidate cache associativity
	DefaultCacheWays = 4
)

// ErrUnknownFormat is returned by Load for unrecognised file extensions
var ErrUnknownFormat = errors.New("unknown configuration format")

// Config holds the collector settings
type Config struct {
	ScanDelay           uint32 `yaml:"scan_delay"`
	ShutdownCollections int    `yaml:"shutdown_collections"`
	MaxGraphNodes       int    `yaml:"max_graph_nodes"`
	CacheSets           int    `yaml:"cache_sets"`
	CacheWays           int    `yaml:"cache_ways"`
	Debug               bool   `yaml:"debug"`
	LogLevel            string `yaml:"log_level"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		ScanDelay:           DefaultScanDelay,
		ShutdownCollections: DefaultShutdownCollections,
		CacheSets:           DefaultCacheSets,
		CacheWays:           DefaultCacheWays,
		LogLevel:            logrus.InfoLevel.String(),
	}
}

// Validate checks that every field is in range
func (c Config) Validate() error {
	if c.ShutdownCollections < 1 {
		return fmt.Errorf("shutdown_collections must be at least 1, got %d", c.ShutdownCollections)
	}
	if c.MaxGraphNodes < 0 {
		return fmt.Errorf("max_graph_nodes must not be negative, got %d", c.MaxGraphNodes)
	}
	if c.CacheSets < 0 || c.CacheWays < 0 {
		return fmt.Errorf("cache geometry must not be negative, got %dx%d", c.CacheSets, c.CacheWays)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured logrus level
func (c Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

// Parse reads a JSON configuration. Missing keys keep their defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return cfg, nil
	}

	if !gjson.ValidBytes(data) {
		return cfg, fmt.Errorf("invalid json: %q", data)
	}

	jsonData := gjson.ParseBytes(data)

	if v := jsonData.Get("scan_delay"); v.Exists() {
		if v.Type != gjson.Number || v.Int() < 0 {
			return cfg, fmt.Errorf("scan_delay must be a non-negative number, got %s", v.Raw)
		}
		if v.Uint() > math.MaxUint32 {
			return cfg, fmt.Errorf("scan_delay must not exceed %d, got %s", uint32(math.MaxUint32), v.Raw)
		}
		cfg.ScanDelay = uint32(v.Uint())
	}
	if v := jsonData.Get("shutdown_collections"); v.Exists() {
		cfg.ShutdownCollections = int(v.Int())
	}
	if v := jsonData.Get("max_graph_nodes"); v.Exists() {
		cfg.MaxGraphNodes = int(v.Int())
	}
	if v := jsonData.Get("cache_sets"); v.Exists() {
		cfg.CacheSets = int(v.Int())
	}
	if v := jsonData.Get("cache_ways"); v.Exists() {
		cfg.CacheWays = int(v.Int())
	}
	if v := jsonData.Get("debug"); v.Exists() {
		cfg.Debug = v.Bool()
	}
	if v := jsonData.Get("log_level"); v.Exists() {
		cfg.LogLevel = v.String()
	}

	return cfg, cfg.Validate()
}

// ParseYAML reads a YAML configuration. Missing keys keep their defaults.
func ParseYAML(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid yaml: %w", err)
	}
	return cfg, cfg.Validate()
}

// Load reads a configuration file, choosing the parser by extension
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return Parse(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	}
	return Default(), fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}
