// Package config loads kbsync settings from a config file, KBSYNC_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Bestie123/PromAi/internal/kb/daemon"
	"github.com/Bestie123/PromAi/internal/kb/remote"
	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
)

// EnvPrefix prefixes environment overrides, e.g. KBSYNC_GITHUB_TOKEN.
const EnvPrefix = "KBSYNC"

// FileName is the config file name searched for without an extension.
const FileName = "kbsync"

// Local store kinds.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

// Config is the full set of settings.
type Config struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Store   string `mapstructure:"store" yaml:"store"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	GitHub    GitHubConfig    `mapstructure:"github" yaml:"github"`
	Git       GitConfig       `mapstructure:"git" yaml:"git"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// GitHubConfig holds the credential triple and file location.
type GitHubConfig struct {
	Token   string `mapstructure:"token" yaml:"token"`
	Owner   string `mapstructure:"owner" yaml:"owner"`
	Repo    string `mapstructure:"repo" yaml:"repo"`
	Path    string `mapstructure:"path" yaml:"path"`
	Branch  string `mapstructure:"branch" yaml:"branch"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// GitConfig points at a local repository used as the remote.
type GitConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Branch string `mapstructure:"branch" yaml:"branch"`
	Path   string `mapstructure:"path" yaml:"path"`
	Author string `mapstructure:"author" yaml:"author"`
}

// RedisConfig points at a Redis key used as the remote.
type RedisConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	Key string `mapstructure:"key" yaml:"key"`
}

// SyncConfig holds the scheduling knobs.
type SyncConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	Debounce        time.Duration `mapstructure:"debounce" yaml:"debounce"`
	MinSpacing      time.Duration `mapstructure:"min_spacing" yaml:"min_spacing"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	MaxAuthFailures int           `mapstructure:"max_auth_failures" yaml:"max_auth_failures"`
	ConflictPolicy  string        `mapstructure:"conflict_policy" yaml:"conflict_policy"`
}

// MarshalYAML writes durations as strings such as "2m0s".
func (s SyncConfig) MarshalYAML() (any, error) {
	return struct {
		Enabled         bool   `yaml:"enabled"`
		Interval        string `yaml:"interval"`
		Debounce        string `yaml:"debounce"`
		MinSpacing      string `yaml:"min_spacing"`
		CallTimeout     string `yaml:"call_timeout"`
		MaxAuthFailures int    `yaml:"max_auth_failures"`
		ConflictPolicy  string `yaml:"conflict_policy"`
	}{
		Enabled:         s.Enabled,
		Interval:        s.Interval.String(),
		Debounce:        s.Debounce.String(),
		MinSpacing:      s.MinSpacing.String(),
		CallTimeout:     s.CallTimeout.String(),
		MaxAuthFailures: s.MaxAuthFailures,
		ConflictPolicy:  s.ConflictPolicy,
	}, nil
}

// DashboardConfig controls the WebSocket dashboard of the daemon command.
type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// LogConfig routes daemon logs to a rotating file when File is set.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// DefaultDataDir returns ~/.kbsync, or .kbsync when the home directory is
// unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kbsync"
	}
	return filepath.Join(home, ".kbsync")
}

// Default returns the built-in settings.
func Default() *Config {
	d := daemon.DefaultConfig()
	s := kbsync.DefaultConfig()
	return &Config{
		Backend: string(remote.BackendGitHub),
		Store:   StoreSQLite,
		DataDir: DefaultDataDir(),
		GitHub: GitHubConfig{
			Path:    remote.DefaultPath,
			BaseURL: remote.DefaultGitHubURL,
		},
		Git: GitConfig{
			Branch: "main",
			Path:   remote.DefaultPath,
			Author: "kbsync",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
			Key: remote.DefaultRedisKey,
		},
		Sync: SyncConfig{
			Enabled:         true,
			Interval:        d.Interval,
			Debounce:        d.Debounce,
			MinSpacing:      s.MinSpacing,
			CallTimeout:     d.CallTimeout,
			MaxAuthFailures: d.MaxAuthFailures,
			ConflictPolicy:  string(s.Policy),
		},
		Dashboard: DashboardConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"backend":  "backend",
	"store":    "store",
	"data-dir": "data_dir",
	"owner":    "github.owner",
	"repo":     "github.repo",
	"branch":   "github.branch",
	"git-dir":  "git.dir",
	"redis":    "redis.url",
	"policy":   "sync.conflict_policy",
}

// Load reads settings. An explicit path must exist; without one, kbsync.yaml
// (or .toml/.json) is searched for in the working directory and the data
// directory, and its absence is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Git.Dir = expandHome(cfg.Git.Dir)
	cfg.Log.File = expandHome(cfg.Log.File)
	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply to
// keys absent from the file.
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("backend", def.Backend)
	v.SetDefault("store", def.Store)
	v.SetDefault("data_dir", def.DataDir)

	v.SetDefault("github.token", def.GitHub.Token)
	v.SetDefault("github.owner", def.GitHub.Owner)
	v.SetDefault("github.repo", def.GitHub.Repo)
	v.SetDefault("github.path", def.GitHub.Path)
	v.SetDefault("github.branch", def.GitHub.Branch)
	v.SetDefault("github.base_url", def.GitHub.BaseURL)

	v.SetDefault("git.dir", def.Git.Dir)
	v.SetDefault("git.branch", def.Git.Branch)
	v.SetDefault("git.path", def.Git.Path)
	v.SetDefault("git.author", def.Git.Author)

	v.SetDefault("redis.url", def.Redis.URL)
	v.SetDefault("redis.key", def.Redis.Key)

	v.SetDefault("sync.enabled", def.Sync.Enabled)
	v.SetDefault("sync.interval", def.Sync.Interval)
	v.SetDefault("sync.debounce", def.Sync.Debounce)
	v.SetDefault("sync.min_spacing", def.Sync.MinSpacing)
	v.SetDefault("sync.call_timeout", def.Sync.CallTimeout)
	v.SetDefault("sync.max_auth_failures", def.Sync.MaxAuthFailures)
	v.SetDefault("sync.conflict_policy", def.Sync.ConflictPolicy)

	v.SetDefault("dashboard.enabled", def.Dashboard.Enabled)
	v.SetDefault("dashboard.host", def.Dashboard.Host)
	v.SetDefault("dashboard.port", def.Dashboard.Port)

	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks the settings the selected backend needs. Problems with the
// remote settings wrap remote.ErrConfiguration.
func (c *Config) Validate() error {
	backend := remote.Backend(c.Backend)
	if !backend.IsValid() {
		return fmt.Errorf("%w: unknown backend %q", remote.ErrConfiguration, c.Backend)
	}

	switch backend {
	case remote.BackendGitHub:
		if err := c.RemoteOptions().GitHub.Validate(); err != nil {
			return err
		}
	case remote.BackendGit:
		if c.Git.Dir == "" {
			return fmt.Errorf("%w: git.dir required", remote.ErrConfiguration)
		}
	case remote.BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: redis.url required", remote.ErrConfiguration)
		}
	}

	if c.Store != StoreSQLite && c.Store != StoreFile {
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreSQLite, StoreFile)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir required")
	}
	if !kbsync.ConflictPolicy(c.Sync.ConflictPolicy).IsValid() {
		return fmt.Errorf("unknown conflict policy %q", c.Sync.ConflictPolicy)
	}
	if c.Sync.Interval <= 0 || c.Sync.Debounce < 0 || c.Sync.MinSpacing < 0 || c.Sync.CallTimeout <= 0 {
		return fmt.Errorf("sync durations must be positive")
	}
	return nil
}

// StorePath returns the local store file for the configured store kind.
func (c *Config) StorePath() string {
	if c.Store == StoreFile {
		return filepath.Join(c.DataDir, "kb.json")
	}
	return filepath.Join(c.DataDir, "kb.db")
}

// RemoteOptions converts the settings for remote.Open.
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		Backend: remote.Backend(c.Backend),
		Timeout: c.Sync.CallTimeout,
		GitHub: remote.GitHubConfig{
			Token:   c.GitHub.Token,
			Owner:   c.GitHub.Owner,
			Repo:    c.GitHub.Repo,
			Path:    c.GitHub.Path,
			Branch:  c.GitHub.Branch,
			BaseURL: c.GitHub.BaseURL,
		},
		Git: remote.GitRepoConfig{
			Dir:    c.Git.Dir,
			Branch: c.Git.Branch,
			Path:   c.Git.Path,
			Author: c.Git.Author,
		},
		RedisURL: c.Redis.URL,
		RedisKey: c.Redis.Key,
	}
}

// SyncerConfig converts the settings for sync.New. Logger and Resolver are
// left to the caller. Every kbsync process in a data directory writes the
// same store, so the store is always shared.
func (c *Config) SyncerConfig() *kbsync.Config {
	return &kbsync.Config{
		MinSpacing:  c.Sync.MinSpacing,
		Policy:      kbsync.ConflictPolicy(c.Sync.ConflictPolicy),
		SharedStore: true,
	}
}

// DaemonConfig converts the settings for daemon.New. Logger is left to the
// caller.
func (c *Config) DaemonConfig() *daemon.Config {
	return &daemon.Config{
		Interval:        c.Sync.Interval,
		Debounce:        c.Sync.Debounce,
		CallTimeout:     c.Sync.CallTimeout,
		MaxAuthFailures: c.Sync.MaxAuthFailures,
		SharedStore:     true,
	}
}

// WriteTemplate writes the default settings as YAML to path. An existing
// file is kept unless force is set. The file is private because it may hold
// a token.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode config template: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	header := "# kbsync configuration. Environment variables override these values,\n" +
		"# e.g. KBSYNC_GITHUB_TOKEN.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config template: %w", err)
	}
	return nil
}
