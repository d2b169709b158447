package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from layered files with environment
// overrides. Later layers win over earlier ones; the environment wins
// over all files. Files may be YAML or JSON, decided by extension.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with no layers and validation disabled.
func NewLoader() *Loader {
	return &Loader{envPrefix: "POND"}
}

// AddLayer adds a configuration file layer.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation makes Load fail on invalid configurations.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file on top of the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, all layers and environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads one file into a raw map. YAML and JSON both end up as the
// same map shape so the merge logic does not care about the source
// format.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	l.parseDurations(raw)
	return raw, nil
}

// mergeFromMap merges a raw map over the base config, only overriding
// fields present in the map.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}
	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking
// precedence.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings to nanoseconds so they survive
// the JSON round-trip into time.Duration fields.
func (l *Loader) parseDurations(raw map[string]any) {
	if es, ok := raw["event_store"].(map[string]any); ok {
		if nats, ok := es["nats"].(map[string]any); ok {
			parseDurationKey(nats, "reconnect_wait")
		}
	}
	if snaps, ok := raw["snapshots"].(map[string]any); ok {
		parseDurationKey(snaps, "time_interval")
	}
}

func parseDurationKey(m map[string]any, key string) {
	if s, ok := m[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			m[key] = d.Nanoseconds()
		}
	}
}

// applyEnvOverrides applies POND_* environment variables on top of the
// merged configuration.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if v := l.env("SOURCE_ID"); v != "" {
		cfg.Pond.SourceID = v
	}
	if v := l.env("LOG_LEVEL"); v != "" {
		cfg.Pond.LogLevel = v
	}
	if v := l.env("EVENT_BACKEND"); v != "" {
		cfg.EventStore.Backend = v
	}
	if v := l.env("NATS_URLS"); v != "" {
		cfg.EventStore.NATS.URLs = strings.Split(v, ",")
	}
	if v := l.env("POSTGRES_DSN"); v != "" {
		cfg.EventStore.Postgres.DSN = v
	}
	if v := l.env("SNAPSHOT_BACKEND"); v != "" {
		cfg.Snapshots.Backend = v
	}
	if v := l.env("SNAPSHOT_PATH"); v != "" {
		cfg.Snapshots.Path = v
	}
}

func (l *Loader) env(suffix string) string {
	return os.Getenv(l.envPrefix + "_" + suffix)
}
