// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/petwell/internal/alerts"
	"github.com/jeranaias/petwell/internal/logging"
	"github.com/jeranaias/petwell/internal/session"
	"github.com/jeranaias/petwell/internal/token"
	"github.com/jeranaias/petwell/internal/util"
)

// CurrentVersion is written into new configuration files.
const CurrentVersion = "1"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete petwell configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	API           APIConfig           `toml:"api" json:"api"`
	Session       SessionConfig       `toml:"session" json:"session"`
	TokenStore    TokenStoreConfig    `toml:"token_store" json:"token_store"`
	Alerts        AlertsConfig        `toml:"alerts" json:"alerts"`
	Notifications NotificationsConfig `toml:"notifications" json:"notifications"`
	Guard         GuardConfig         `toml:"guard" json:"guard"`
	Monitor       MonitorConfig       `toml:"monitor" json:"monitor"`
	Logging       logging.Config      `toml:"logging" json:"logging"`
}

// APIConfig points at the backend.
type APIConfig struct {
	BaseURL     string `toml:"base_url" json:"base_url"`
	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`
	Offline     bool   `toml:"offline" json:"offline"`
}

// Timeout returns the request timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SessionConfig holds the session timings in seconds.
type SessionConfig struct {
	RefreshThresholdSecs  int `toml:"refresh_threshold_secs" json:"refresh_threshold_secs"`
	RefreshBaseDelaySecs  int `toml:"refresh_base_delay_secs" json:"refresh_base_delay_secs"`
	MaxRefreshAttempts    int `toml:"max_refresh_attempts" json:"max_refresh_attempts"`
	InactivityTimeoutSecs int `toml:"inactivity_timeout_secs" json:"inactivity_timeout_secs"`
	MaxSessionSecs        int `toml:"max_session_secs" json:"max_session_secs"`
	WarningBeforeSecs     int `toml:"warning_before_secs" json:"warning_before_secs"`
	HeartbeatTimeoutSecs  int `toml:"heartbeat_timeout_secs" json:"heartbeat_timeout_secs"`
}

// Settings converts to session.Settings.
func (c SessionConfig) Settings() session.Settings {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return session.Settings{
		RefreshThreshold:   sec(c.RefreshThresholdSecs),
		RefreshBaseDelay:   sec(c.RefreshBaseDelaySecs),
		MaxRefreshAttempts: c.MaxRefreshAttempts,
		InactivityTimeout:  sec(c.InactivityTimeoutSecs),
		MaxSession:         sec(c.MaxSessionSecs),
		WarningBefore:      sec(c.WarningBeforeSecs),
		RequestTimeout:     sec(c.HeartbeatTimeoutSecs),
	}
}

// Token store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// TokenStoreConfig selects where credentials live.
type TokenStoreConfig struct {
	Backend        string `toml:"backend" json:"backend"`
	Path           string `toml:"path" json:"path"`
	EncryptionKey  string `toml:"encryption_key,omitempty" json:"encryption_key,omitempty"`
	RedisAddr      string `toml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisPassword  string `toml:"redis_password,omitempty" json:"redis_password,omitempty"`
	RedisChannel   string `toml:"redis_channel,omitempty" json:"redis_channel,omitempty"`
	RedisNamespace string `toml:"redis_namespace,omitempty" json:"redis_namespace,omitempty"`
}

// AlertsConfig configures the alert engine and its database.
type AlertsConfig struct {
	HistoryLimit int `toml:"history_limit" json:"history_limit"`
	// SpeciesFallback is the profile used for unrecognized species. Unset
	// means "dog"; an empty string disables range checks for them.
	SpeciesFallback *string `toml:"species_fallback,omitempty" json:"species_fallback,omitempty"`
	DatabasePath    string  `toml:"database_path" json:"database_path"`
}

// Fallback resolves SpeciesFallback.
func (c AlertsConfig) Fallback() string {
	if c.SpeciesFallback == nil {
		return "dog"
	}
	return strings.ToLower(strings.TrimSpace(*c.SpeciesFallback))
}

// NotificationsConfig selects channels, severities and channel credentials.
type NotificationsConfig struct {
	Email      bool     `toml:"email" json:"email"`
	Push       bool     `toml:"push" json:"push"`
	InApp      bool     `toml:"in_app" json:"in_app"`
	Severities []string `toml:"severities" json:"severities"`

	SendGridKey string `toml:"sendgrid_key,omitempty" json:"sendgrid_key,omitempty"`
	EmailFrom   string `toml:"email_from,omitempty" json:"email_from,omitempty"`
	EmailTo     string `toml:"email_to,omitempty" json:"email_to,omitempty"`
	PushURL     string `toml:"push_url,omitempty" json:"push_url,omitempty"`
}

// Settings converts to alerts.NotificationSettings.
func (c NotificationsConfig) Settings() (alerts.NotificationSettings, error) {
	s := alerts.NotificationSettings{
		Channels: map[alerts.Channel]bool{
			alerts.ChannelEmail: c.Email,
			alerts.ChannelPush:  c.Push,
			alerts.ChannelInApp: c.InApp,
		},
		Severities: make(map[alerts.Severity]bool, len(alerts.Severities)),
	}
	for _, sev := range alerts.Severities {
		s.Severities[sev] = false
	}
	for _, name := range c.Severities {
		sev, err := alerts.ParseSeverity(name)
		if err != nil {
			return alerts.NotificationSettings{}, err
		}
		s.Severities[sev] = true
	}
	return s, nil
}

// GuardConfig configures login throttling.
type GuardConfig struct {
	MaxLoginAttempts       int    `toml:"max_login_attempts" json:"max_login_attempts"`
	LockoutDurationMinutes int    `toml:"lockout_duration_minutes" json:"lockout_duration_minutes"`
	LoginRatePerMinute     int    `toml:"login_rate_per_minute" json:"login_rate_per_minute"`
	LoginBurst             int    `toml:"login_burst" json:"login_burst"`
	StatePath              string `toml:"state_path" json:"state_path"`
}

// LockoutDuration returns the lockout length.
func (c GuardConfig) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutDurationMinutes) * time.Minute
}

// MonitorConfig configures the watch loop.
type MonitorConfig struct {
	IntervalSecs int      `toml:"interval_secs" json:"interval_secs"`
	Pets         []string `toml:"pets" json:"pets"`
}

// Interval returns the poll period.
func (c MonitorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Default returns the built-in configuration. Paths are relative to the
// configuration directory and resolved by ResolvePath.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		API: APIConfig{
			BaseURL:     "https://api.petwell.app/v1",
			TimeoutSecs: 10,
		},
		Session: SessionConfig{
			RefreshThresholdSecs:  300,
			RefreshBaseDelaySecs:  5,
			MaxRefreshAttempts:    3,
			InactivityTimeoutSecs: 1800,
			MaxSessionSecs:        28800,
			WarningBeforeSecs:     120,
			HeartbeatTimeoutSecs:  10,
		},
		TokenStore: TokenStoreConfig{
			Backend:      BackendFile,
			Path:         "credentials.json",
			RedisChannel: token.DefaultRedisChannel,
		},
		Alerts: AlertsConfig{
			HistoryLimit: alerts.DefaultHistoryLimit,
			DatabasePath: "alerts.db",
		},
		Notifications: NotificationsConfig{
			InApp:      true,
			Severities: []string{"medium", "high", "critical"},
		},
		Guard: GuardConfig{
			MaxLoginAttempts:       5,
			LockoutDurationMinutes: 15,
			LoginRatePerMinute:     10,
			LoginBurst:             3,
			StatePath:              "lockout_state.json",
		},
		Monitor: MonitorConfig{
			IntervalSecs: 900,
		},
		Logging: logging.DefaultConfig(),
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory: $PETWELL_HOME or ~/.petwell.
func ConfigDir() (string, error) {
	if dir := os.Getenv("PETWELL_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".petwell"), nil
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

// ResolvePath expands "~" and anchors relative paths in the config directory.
func ResolvePath(p string) string {
	if p == "" || p == ":memory:" {
		return p
	}
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	dir, err := ConfigDir()
	if err != nil {
		return p
	}
	return filepath.Join(dir, p)
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads config.toml, then config.json, then falls back to defaults.
// Environment overrides are applied last and the result is validated.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads one file; the extension picks the format.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	var err error
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// Read loads path over the defaults without env overrides or validation, so
// a broken file can be inspected and repaired as written. A missing file
// yields the defaults.
func Read(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if strings.HasSuffix(strings.ToLower(path), ".json") {
			err = LoadJSON(cfg, path)
		} else {
			err = LoadTOML(cfg, path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		logging.Std().WithError(err).WithField("path", path).Warn("could not secure config permissions")
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		logging.Std().WithField("keys", strings.Join(keys, ", ")).Warn("unknown config keys ignored")
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		logging.Std().WithError(err).WithField("path", path).Warn("could not secure config permissions")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// SetDefaults fills zero numeric and string values from Default.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}

	s, ds := &c.Session, d.Session
	for _, f := range []struct {
		v   *int
		def int
	}{
		{&s.RefreshThresholdSecs, ds.RefreshThresholdSecs},
		{&s.RefreshBaseDelaySecs, ds.RefreshBaseDelaySecs},
		{&s.MaxRefreshAttempts, ds.MaxRefreshAttempts},
		{&s.InactivityTimeoutSecs, ds.InactivityTimeoutSecs},
		{&s.MaxSessionSecs, ds.MaxSessionSecs},
		{&s.WarningBeforeSecs, ds.WarningBeforeSecs},
		{&s.HeartbeatTimeoutSecs, ds.HeartbeatTimeoutSecs},
		{&c.Alerts.HistoryLimit, d.Alerts.HistoryLimit},
		{&c.Guard.MaxLoginAttempts, d.Guard.MaxLoginAttempts},
		{&c.Guard.LockoutDurationMinutes, d.Guard.LockoutDurationMinutes},
		{&c.Guard.LoginBurst, d.Guard.LoginBurst},
		{&c.Monitor.IntervalSecs, d.Monitor.IntervalSecs},
	} {
		if *f.v == 0 {
			*f.v = f.def
		}
	}

	if c.TokenStore.Backend == "" {
		c.TokenStore.Backend = d.TokenStore.Backend
	}
	if c.TokenStore.Path == "" {
		c.TokenStore.Path = d.TokenStore.Path
	}
	if c.TokenStore.RedisChannel == "" {
		c.TokenStore.RedisChannel = d.TokenStore.RedisChannel
	}
	if c.Alerts.DatabasePath == "" {
		c.Alerts.DatabasePath = d.Alerts.DatabasePath
	}
	if c.Guard.StatePath == "" {
		c.Guard.StatePath = d.Guard.StatePath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = d.Logging.Output
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML path.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# petwell configuration file\n")
	buf.WriteString("# Credentials below are stored in plain text; keep this file private.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid field.
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// API
	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.base_url", "must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 300 {
		add("api.timeout_secs", "must be between 1 and 300, got %d", c.API.TimeoutSecs)
	}

	// Session
	s := c.Session
	for _, f := range []struct {
		name string
		v    int
	}{
		{"session.refresh_threshold_secs", s.RefreshThresholdSecs},
		{"session.refresh_base_delay_secs", s.RefreshBaseDelaySecs},
		{"session.max_refresh_attempts", s.MaxRefreshAttempts},
		{"session.inactivity_timeout_secs", s.InactivityTimeoutSecs},
		{"session.max_session_secs", s.MaxSessionSecs},
		{"session.warning_before_secs", s.WarningBeforeSecs},
		{"session.heartbeat_timeout_secs", s.HeartbeatTimeoutSecs},
	} {
		if f.v <= 0 {
			add(f.name, "must be positive, got %d", f.v)
		}
	}
	if s.InactivityTimeoutSecs > s.MaxSessionSecs {
		add("session.inactivity_timeout_secs", "must not exceed max_session_secs (%d)", s.MaxSessionSecs)
	}
	if s.WarningBeforeSecs >= s.InactivityTimeoutSecs {
		add("session.warning_before_secs", "must be shorter than inactivity_timeout_secs (%d)", s.InactivityTimeoutSecs)
	}

	// Token store
	switch strings.ToLower(c.TokenStore.Backend) {
	case BackendMemory:
	case BackendFile:
		if c.TokenStore.Path == "" {
			add("token_store.path", "required for the file backend")
		}
	case BackendRedis:
		if c.TokenStore.RedisAddr == "" {
			add("token_store.redis_addr", "required for the redis backend")
		}
	default:
		add("token_store.backend", "invalid backend %q, must be one of: memory, file, redis", c.TokenStore.Backend)
	}
	if c.TokenStore.EncryptionKey != "" {
		if _, err := token.ParseKey(c.TokenStore.EncryptionKey); err != nil {
			add("token_store.encryption_key", "%v", err)
		}
	}

	// Alerts
	if c.Alerts.HistoryLimit < 1 || c.Alerts.HistoryLimit > 10000 {
		add("alerts.history_limit", "must be between 1 and 10000, got %d", c.Alerts.HistoryLimit)
	}

	// Notifications
	n := c.Notifications
	for _, name := range n.Severities {
		if _, err := alerts.ParseSeverity(name); err != nil {
			add("notifications.severities", "unknown severity %q", name)
		}
	}
	if n.Email && (n.SendGridKey == "" || n.EmailFrom == "" || n.EmailTo == "") {
		add("notifications.email", "requires sendgrid_key, email_from and email_to")
	}
	if n.Push && n.PushURL == "" {
		add("notifications.push_url", "required when push is enabled")
	}
	if n.PushURL != "" {
		if u, err := url.Parse(n.PushURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			add("notifications.push_url", "must be an http(s) URL")
		}
	}

	// Guard
	if c.Guard.MaxLoginAttempts < 1 {
		add("guard.max_login_attempts", "must be at least 1, got %d", c.Guard.MaxLoginAttempts)
	}
	if c.Guard.LockoutDurationMinutes < 1 {
		add("guard.lockout_duration_minutes", "must be at least 1, got %d", c.Guard.LockoutDurationMinutes)
	}
	if c.Guard.LoginRatePerMinute < 0 {
		add("guard.login_rate_per_minute", "must not be negative, got %d", c.Guard.LoginRatePerMinute)
	}

	// Monitor
	if c.Monitor.IntervalSecs < 10 {
		add("monitor.interval_secs", "must be at least 10, got %d", c.Monitor.IntervalSecs)
	}

	// Logging
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "invalid level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format", "must be text or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stderr", "stdout":
	case "file":
		if c.Logging.File == "" {
			add("logging.file", "required when output is file")
		}
	default:
		add("logging.output", "must be stderr, stdout or file, got %q", c.Logging.Output)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies PETWELL_* variables:
//
//   - PETWELL_API_URL: api.base_url
//   - PETWELL_OFFLINE: api.offline
//   - PETWELL_TOKEN_STORE: token_store.backend
//   - PETWELL_TOKEN_PATH: token_store.path
//   - PETWELL_ENCRYPTION_KEY: token_store.encryption_key
//   - PETWELL_REDIS_ADDR: token_store.redis_addr
//   - PETWELL_DB_PATH: alerts.database_path
//   - PETWELL_SENDGRID_KEY: notifications.sendgrid_key
//   - PETWELL_PUSH_URL: notifications.push_url
//   - PETWELL_LOG_LEVEL: logging.level
func (c *Config) ApplyEnvOverrides() {
	str := map[string]*string{
		"PETWELL_API_URL":        &c.API.BaseURL,
		"PETWELL_TOKEN_STORE":    &c.TokenStore.Backend,
		"PETWELL_TOKEN_PATH":     &c.TokenStore.Path,
		"PETWELL_ENCRYPTION_KEY": &c.TokenStore.EncryptionKey,
		"PETWELL_REDIS_ADDR":     &c.TokenStore.RedisAddr,
		"PETWELL_DB_PATH":        &c.Alerts.DatabasePath,
		"PETWELL_SENDGRID_KEY":   &c.Notifications.SendGridKey,
		"PETWELL_PUSH_URL":       &c.Notifications.PushURL,
		"PETWELL_LOG_LEVEL":      &c.Logging.Level,
	}
	for env, field := range str {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("PETWELL_OFFLINE"); v != "" {
		c.API.Offline = parseBool(v)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by dot-notation key, e.g. "session.max_session_secs".
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return nil, nil
		}
		return field.Elem().Interface(), nil
	}
	return field.Interface(), nil
}

// Set assigns a value by dot-notation key and revalidates.
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
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds a struct field by its toml tag name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue assigns value to field, converting from string when needed.
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
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		case reflect.Ptr:
			if field.Type().Elem().Kind() == reflect.String {
				s := strVal
				field.Set(reflect.ValueOf(&s))
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
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Masked returns a copy with every secret replaced by util.MaskSecret.
func (c *Config) Masked() *Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return util.MaskSecret(s)
	}
	masked := *c
	masked.TokenStore.EncryptionKey = mask(c.TokenStore.EncryptionKey)
	masked.TokenStore.RedisPassword = mask(c.TokenStore.RedisPassword)
	masked.Notifications.SendGridKey = mask(c.Notifications.SendGridKey)
	return &masked
}

// String renders the configuration as TOML with secrets masked.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.Masked()); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
