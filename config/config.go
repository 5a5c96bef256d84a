package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/powerpig99/smart-socks-sub000/errors"
)

// maxConfigDepth bounds nesting when merging raw JSON documents.
const maxConfigDepth = 16

// Config is the full daemon configuration.
type Config struct {
	Version    string          `json:"version"`
	NATS       NATSConfig      `json:"nats"`
	Metrics    MetricsConfig   `json:"metrics"`
	Components []ComponentSpec `json:"components"`
}

// NATSConfig configures the message bus connection.
type NATSConfig struct {
	URL             string `json:"url"`
	Name            string `json:"name,omitempty"`
	ReconnectWaitMs int    `json:"reconnect_wait_ms,omitempty"`
}

// ReconnectWait returns the reconnect delay as a duration.
func (n NATSConfig) ReconnectWait() time.Duration {
	if n.ReconnectWaitMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(n.ReconnectWaitMs) * time.Millisecond
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Port int    `json:"port,omitempty"` // 0 disables the metrics server
	Path string `json:"path,omitempty"`
}

// ComponentSpec names one component instance and carries its raw
// configuration; the component's factory parses the block itself.
type ComponentSpec struct {
	Name    string          `json:"name"`
	Factory string          `json:"factory"`
	Enabled *bool           `json:"enabled,omitempty"` // nil means enabled
	Config  json.RawMessage `json:"config,omitempty"`
}

// IsEnabled reports whether the component should be constructed.
func (c ComponentSpec) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks structural invariants of the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "version check")
	}
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats url check")
	}
	if len(c.Components) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("no components configured"),
			"Config", "Validate", "component check")
	}

	seen := make(map[string]bool, len(c.Components))
	for i, spec := range c.Components {
		if spec.Name == "" {
			return errors.WrapInvalid(
				fmt.Errorf("component %d has no name", i),
				"Config", "Validate", "component name check")
		}
		if spec.Factory == "" {
			return errors.WrapInvalid(
				fmt.Errorf("component %q has no factory", spec.Name),
				"Config", "Validate", "component factory check")
		}
		if seen[spec.Name] {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate component name %q", spec.Name),
				"Config", "Validate", "component uniqueness check")
		}
		seen[spec.Name] = true
	}
	return nil
}

// Loader assembles configuration from layered JSON files plus environment
// overrides. Later layers win over earlier ones.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a loader for the given file paths, applied in order.
func NewLoader(paths ...string) *Loader {
	return &Loader{layers: paths, envPrefix: "SOCKS"}
}

// Load reads all layers, merges them, applies environment overrides and
// validates the result.
func (l *Loader) Load() (*Config, error) {
	merged := map[string]any{}

	for _, path := range l.layers {
		raw, err := loadRawJSON(path)
		if err != nil {
			return nil, err
		}
		merged = deepMergeMaps(merged, raw, 0)
	}

	l.applyEnvOverrides(merged)

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "re-marshal merged config")
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadRawJSON reads one config file into a generic map.
func loadRawJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRawJSON", fmt.Sprintf("read %s", path))
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRawJSON", fmt.Sprintf("parse %s", path))
	}
	return raw, nil
}

// deepMergeMaps merges overlay into base recursively. Non-map values and
// arrays are replaced wholesale; nesting beyond maxConfigDepth is replaced
// rather than merged.
func deepMergeMaps(base, overlay map[string]any, depth int) map[string]any {
	if depth >= maxConfigDepth {
		return overlay
	}
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if bv, ok := out[k].(map[string]any); ok {
			if ov, ok := v.(map[string]any); ok {
				out[k] = deepMergeMaps(bv, ov, depth+1)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// applyEnvOverrides maps SOCKS_SECTION_FIELD variables onto the merged
// document, e.g. SOCKS_NATS_URL=nats://host:4222 sets nats.url.
func (l *Loader) applyEnvOverrides(merged map[string]any) {
	prefix := l.envPrefix + "_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		eq := strings.Index(kv, "=")
		if eq < 0 {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, prefix)), "_")
		setPath(merged, path, value)
	}
}

// setPath walks/creates nested maps and sets the final key to value.
func setPath(m map[string]any, path []string, value string) {
	for i, key := range path {
		if i == len(path)-1 {
			m[key] = coerce(value)
			return
		}
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
}

// coerce converts an env string to JSON-typed bool/number when it parses
// as one, otherwise leaves it a string.
func coerce(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	var num float64
	if err := json.Unmarshal([]byte(s), &num); err == nil {
		return num
	}
	return s
}

// ParseComponent decodes one component's raw config block into dst.
// A nil block leaves dst untouched so defaults survive.
func ParseComponent(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.WrapInvalid(err, "config", "ParseComponent", "decode component config")
	}
	return nil
}
