package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Saves  SavesConfig  `mapstructure:"saves"`
	Backup BackupConfig `mapstructure:"backup"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type SavesConfig struct {
	// RootPath is the directory whose immediate subdirectories are the
	// watched game saves.
	RootPath string `mapstructure:"root_path"`
}

type BackupConfig struct {
	RootPath        string `mapstructure:"root_path"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Compress        bool   `mapstructure:"compress"`
	KeepLast        int    `mapstructure:"keep_last"` // 0 = unlimited count

	// DefaultQuotaBytes caps the total archive bytes kept per save;
	// 0 = unlimited. QuotaBytes holds per-save overrides keyed by slot id.
	DefaultQuotaBytes int64            `mapstructure:"default_quota_bytes"`
	QuotaBytes        map[string]int64 `mapstructure:"quota_bytes"`
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.Backup.IntervalSeconds) * time.Second
}

// QuotaFor resolves the byte quota for a slot, falling back to the
// default. Viper folds map keys to lower case, so overrides are matched
// case-insensitively.
func (c Config) QuotaFor(slotID string) int64 {
	if q, ok := c.Backup.QuotaBytes[slotID]; ok {
		return q
	}
	if q, ok := c.Backup.QuotaBytes[strings.ToLower(slotID)]; ok {
		return q
	}
	return c.Backup.DefaultQuotaBytes
}

func (c *Config) Validate() error {
	if c.Saves.RootPath == "" {
		return fmt.Errorf("saves.root_path is required")
	}
	if c.Backup.RootPath == "" {
		return fmt.Errorf("backup.root_path is required")
	}
	if c.Backup.IntervalSeconds < 1 {
		return fmt.Errorf("backup.interval_seconds must be at least 1")
	}
	if c.Backup.KeepLast < 0 {
		return fmt.Errorf("backup.keep_last must not be negative")
	}
	if c.Backup.DefaultQuotaBytes < 0 {
		return fmt.Errorf("backup.default_quota_bytes must not be negative")
	}
	for id, q := range c.Backup.QuotaBytes {
		if q < 0 {
			return fmt.Errorf("backup.quota_bytes[%s] must not be negative", id)
		}
	}
	return nil
}

// Manager owns the loaded configuration, re-reads it when the file changes
// on disk, and persists in-session quota edits back to the file.
type Manager struct {
	mu       sync.RWMutex
	v        *viper.Viper
	cfg      Config
	onChange []func(Config)
}

func Load(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "savesentry")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("backup.interval_seconds", 600)
	v.SetDefault("backup.compress", true)
	v.SetDefault("backup.keep_last", 10)
	v.SetDefault("backup.default_quota_bytes", 0)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{v: v, cfg: cfg}, nil
}

// expandPaths resolves a leading "~" in the configured paths, since the
// config file typically lives alongside game directories under $HOME.
func (c *Config) expandPaths() {
	c.Saves.RootPath = expandHome(c.Saves.RootPath)
	c.Backup.RootPath = expandHome(c.Backup.RootPath)
	c.App.LogFile = expandHome(c.App.LogFile)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Current returns a copy of the active configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange registers a callback invoked with the new configuration after a
// successful reload. Callbacks run on the watcher goroutine.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Watch starts re-reading the file on every on-disk change. A change that
// fails to parse or validate is ignored and the previous config stays live.
func (m *Manager) Watch() {
	m.v.OnConfigChange(func(fsnotify.Event) {
		m.reload()
	})
	m.v.WatchConfig()
}

func (m *Manager) reload() {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return
	}

	m.mu.Lock()
	m.cfg = cfg
	callbacks := append([]func(Config){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// UpdateSaveQuota persists a per-save quota override to the config file and
// applies it to the active configuration.
func (m *Manager) UpdateSaveQuota(slotID string, quotaBytes int64) error {
	if quotaBytes < 0 {
		return fmt.Errorf("quota must not be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	quotas := make(map[string]int64, len(m.cfg.Backup.QuotaBytes)+1)
	for id, q := range m.cfg.Backup.QuotaBytes {
		quotas[id] = q
	}
	// Stored lower-cased to line up with viper's key folding on reload.
	quotas[strings.ToLower(slotID)] = quotaBytes

	m.v.Set("backup.quota_bytes", quotas)
	if err := m.v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to persist quota: %w", err)
	}

	m.cfg.Backup.QuotaBytes = quotas
	return nil
}
