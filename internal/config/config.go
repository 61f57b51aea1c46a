// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/gpuinfo/internal/detect"
	"github.com/jeranaias/gpuinfo/internal/util"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// CurrentVersion is written into new configuration files.
const CurrentVersion = "1"

// Config represents the complete gpuinfo configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	NVML      NVMLConfig      `toml:"nvml" json:"nvml"`
	Sysfs     SysfsConfig     `toml:"sysfs" json:"sysfs"`
	Detection DetectionConfig `toml:"detection" json:"detection"`
	Server    ServerConfig    `toml:"server" json:"server"`
	Log       LogConfig       `toml:"log" json:"log"`
}

// NVMLConfig locates the NVIDIA management library.
type NVMLConfig struct {
	// Library is a path or soname handed to the dynamic loader.
	Library string `toml:"library" json:"library"`
}

// SysfsConfig locates the sysfs mount used by the Linux adapter.
type SysfsConfig struct {
	Root string `toml:"root" json:"root"`
}

// DetectionConfig controls how vendor backends pick their strategies.
type DetectionConfig struct {
	// DisabledVendors lists vendors that always report zero devices.
	DisabledVendors []string `toml:"disabled_vendors" json:"disabled_vendors"`

	// Placeholder enables the placeholder record when a driver is present
	// but no telemetry source works.
	Placeholder bool `toml:"placeholder" json:"placeholder"`

	// CommandTimeoutSecs bounds each run of an external tool.
	CommandTimeoutSecs int `toml:"command_timeout_secs" json:"command_timeout_secs"`

	// Order overrides the strategy order per vendor, keyed by vendor name.
	Order map[string][]string `toml:"order" json:"order,omitempty"`
}

// ServerConfig configures `gpuinfo serve`.
type ServerConfig struct {
	Listen string `toml:"listen" json:"listen"`

	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`

	ReadTimeoutSecs  int `toml:"read_timeout_secs" json:"read_timeout_secs"`
	WriteTimeoutSecs int `toml:"write_timeout_secs" json:"write_timeout_secs"`

	// Hotplug reinitializes the library when the DRM topology changes.
	Hotplug           bool `toml:"hotplug" json:"hotplug"`
	HotplugDebounceMs int  `toml:"hotplug_debounce_ms" json:"hotplug_debounce_ms"`

	// AuthToken, when set, is required as a bearer token on every request.
	AuthToken string `toml:"auth_token" json:"auth_token,omitempty"`
	// AllowedIPs restricts clients to these addresses or CIDR ranges.
	AllowedIPs []string `toml:"allowed_ips" json:"allowed_ips,omitempty"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		NVML: NVMLConfig{
			Library: "",
		},
		Sysfs: SysfsConfig{
			Root: "/sys",
		},
		Detection: DetectionConfig{
			Placeholder:        false,
			CommandTimeoutSecs: int(detect.DefaultCommandTimeout / time.Second),
		},
		Server: ServerConfig{
			Listen:            "127.0.0.1:9835",
			RateLimit:         10,
			RateBurst:         20,
			ReadTimeoutSecs:   10,
			WriteTimeoutSecs:  30,
			Hotplug:           true,
			HotplugDebounceMs: 500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the gpuinfo configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".gpuinfo"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last. A file that fails to parse is
// reported alongside the usable defaults.
func Load() (*Config, error) {
	var loadErr error

	for _, candidate := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := candidate()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		if loadErr == nil {
			loadErr = err
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Files ending in .json are JSON; anything else is TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults. Booleans are left
// as decoded.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Sysfs.Root == "" {
		cfg.Sysfs.Root = defaults.Sysfs.Root
	}
	if cfg.Detection.CommandTimeoutSecs == 0 {
		cfg.Detection.CommandTimeoutSecs = defaults.Detection.CommandTimeoutSecs
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = defaults.Server.RateBurst
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = defaults.Server.ReadTimeoutSecs
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = defaults.Server.WriteTimeoutSecs
	}
	if cfg.Server.HotplugDebounceMs == 0 {
		cfg.Server.HotplugDebounceMs = defaults.Server.HotplugDebounceMs
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with a short header.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# gpuinfo configuration file\n")
	b.WriteString("# Environment variables GPUINFO_* override these values.\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as indented JSON.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
	validStrategies = map[string]bool{
		string(model.SourceNVML):           true,
		string(model.SourceAMDSMI):         true,
		string(model.SourceSysfs):          true,
		string(model.SourceRegistry):       true,
		string(model.SourceSystemProfiler): true,
		string(model.SourcePlaceholder):    true,
	}
)

// Validate validates the configuration and returns any errors as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	for _, name := range c.Detection.DisabledVendors {
		if _, err := model.ParseVendor(name); err != nil {
			errs = append(errs, ValidationError{
				Field:   "detection.disabled_vendors",
				Message: fmt.Sprintf("unknown vendor '%s', must be one of: nvidia, amd, intel", name),
			})
		}
	}

	if c.Detection.CommandTimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "detection.command_timeout_secs",
			Message: "must not be negative",
		})
	}

	vendors := make([]string, 0, len(c.Detection.Order))
	for name := range c.Detection.Order {
		vendors = append(vendors, name)
	}
	sort.Strings(vendors)
	for _, name := range vendors {
		if _, err := model.ParseVendor(name); err != nil {
			errs = append(errs, ValidationError{
				Field:   "detection.order",
				Message: fmt.Sprintf("unknown vendor '%s'", name),
			})
			continue
		}
		for _, s := range c.Detection.Order[name] {
			if !validStrategies[s] {
				errs = append(errs, ValidationError{
					Field:   "detection.order." + strings.ToLower(name),
					Message: fmt.Sprintf("unknown strategy '%s'", s),
				})
			}
		}
	}

	if c.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.listen",
				Message: fmt.Sprintf("invalid address '%s': %v", c.Server.Listen, err),
			})
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}
	if c.Server.RateBurst < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_burst", Message: "must not be negative"})
	}
	if c.Server.HotplugDebounceMs < 0 {
		errs = append(errs, ValidationError{Field: "server.hotplug_debounce_ms", Message: "must not be negative"})
	}

	for _, entry := range c.Server.AllowedIPs {
		if !validIPOrCIDR(entry) {
			errs = append(errs, ValidationError{
				Field:   "server.allowed_ips",
				Message: fmt.Sprintf("invalid address or CIDR '%s'", entry),
			})
		}
	}

	if c.Sysfs.Root != "" && filepath.Base(filepath.Clean(c.Sysfs.Root)) != "sys" {
		errs = append(errs, ValidationError{
			Field:   "sysfs.root",
			Message: fmt.Sprintf("'%s' must be a directory named sys, e.g. /host/sys", c.Sysfs.Root),
		})
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: text, json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - GPUINFO_NVML_LIBRARY: overrides nvml.library
//   - GPUINFO_SYSFS_ROOT: overrides sysfs.root
//   - GPUINFO_DISABLE_VENDORS: comma separated vendor names
//   - GPUINFO_PLACEHOLDER: "1" or "true" enables placeholder records
//   - GPUINFO_LISTEN: overrides server.listen
//   - GPUINFO_LOG_LEVEL: overrides log.level
//   - GPUINFO_AUTH_TOKEN: overrides server.auth_token
func (c *Config) ApplyEnvOverrides() {
	if lib := os.Getenv("GPUINFO_NVML_LIBRARY"); lib != "" {
		c.NVML.Library = lib
	}
	if root := os.Getenv("GPUINFO_SYSFS_ROOT"); root != "" {
		c.Sysfs.Root = root
	}
	if disabled := os.Getenv("GPUINFO_DISABLE_VENDORS"); disabled != "" {
		c.Detection.DisabledVendors = splitList(disabled)
	}
	if placeholder := os.Getenv("GPUINFO_PLACEHOLDER"); placeholder != "" {
		c.Detection.Placeholder = parseBool(placeholder)
	}
	if listen := os.Getenv("GPUINFO_LISTEN"); listen != "" {
		c.Server.Listen = listen
	}
	if level := os.Getenv("GPUINFO_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if token := os.Getenv("GPUINFO_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
}

func validIPOrCIDR(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// DetectOptions converts the configuration into backend options. The config
// is expected to have passed Validate; unknown names are skipped.
func (c *Config) DetectOptions(logger *slog.Logger) detect.Options {
	opts := detect.Options{
		SysfsRoot:      c.Sysfs.Root,
		NVMLLibrary:    c.NVML.Library,
		Placeholder:    c.Detection.Placeholder,
		CommandTimeout: time.Duration(c.Detection.CommandTimeoutSecs) * time.Second,
		Logger:         logger,
	}
	for _, name := range c.Detection.DisabledVendors {
		if v, err := model.ParseVendor(name); err == nil {
			opts.Disabled = append(opts.Disabled, v)
		}
	}
	if len(c.Detection.Order) > 0 {
		opts.Order = make(map[model.Vendor][]string, len(c.Detection.Order))
		for name, order := range c.Detection.Order {
			if v, err := model.ParseVendor(name); err == nil {
				opts.Order[v] = append([]string(nil), order...)
			}
		}
	}
	return opts
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "server.listen").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type; list fields take comma separated values.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field
// equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type
// conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				field.Set(reflect.ValueOf(splitList(strVal)))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all scalar configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"nvml.library",
		"sysfs.root",
		"detection.disabled_vendors",
		"detection.placeholder",
		"detection.command_timeout_secs",
		"server.listen",
		"server.rate_limit",
		"server.rate_burst",
		"server.read_timeout_secs",
		"server.write_timeout_secs",
		"server.hotplug",
		"server.hotplug_debounce_ms",
		"server.auth_token",
		"server.allowed_ips",
		"log.level",
		"log.format",
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Detection.DisabledVendors = append([]string(nil), c.Detection.DisabledVendors...)
	clone.Server.AllowedIPs = append([]string(nil), c.Server.AllowedIPs...)
	if c.Detection.Order != nil {
		clone.Detection.Order = make(map[string][]string, len(c.Detection.Order))
		for k, v := range c.Detection.Order {
			clone.Detection.Order[k] = append([]string(nil), v...)
		}
	}
	return &clone
}

// String returns the configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
