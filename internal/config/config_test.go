package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/Bestie123/PromAi/internal/kb/remote"
	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
)

// isolate points HOME at a temp dir and runs from another, so no real
// config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Backend != "github" || cfg.Store != StoreSQLite {
		t.Errorf("backend/store = %s/%s", cfg.Backend, cfg.Store)
	}
	if cfg.DataDir != filepath.Join(home, ".kbsync") {
		t.Errorf("data dir = %s", cfg.DataDir)
	}
	if cfg.Sync.Interval != 2*time.Minute || cfg.Sync.Debounce != 10*time.Second ||
		cfg.Sync.MinSpacing != 30*time.Second || cfg.Sync.MaxAuthFailures != 3 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Sync.ConflictPolicy != string(kbsync.PolicyMergeRetry) {
		t.Errorf("policy = %s", cfg.Sync.ConflictPolicy)
	}
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "kbsync.yaml")
	writeFile(t, path, `
backend: git
store: file
data_dir: ~/kb
git:
  dir: /srv/kb
sync:
  interval: 5m
  debounce: 2s
  conflict_policy: pause
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Backend != "git" || cfg.Git.Dir != "/srv/kb" || cfg.Git.Branch != "main" {
		t.Errorf("git settings = %s %+v", cfg.Backend, cfg.Git)
	}
	if cfg.Sync.Interval != 5*time.Minute || cfg.Sync.Debounce != 2*time.Second {
		t.Errorf("durations = %s %s", cfg.Sync.Interval, cfg.Sync.Debounce)
	}
	if cfg.Sync.MinSpacing != 30*time.Second {
		t.Errorf("unset key lost its default: %s", cfg.Sync.MinSpacing)
	}
	home, _ := os.UserHomeDir()
	if cfg.DataDir != filepath.Join(home, "kb") {
		t.Errorf("data dir = %s, want expanded home", cfg.DataDir)
	}
	if got := cfg.StorePath(); got != filepath.Join(home, "kb", "kb.json") {
		t.Errorf("store path = %s", got)
	}
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	isolate(t)
	writeFile(t, "kbsync.yaml", "backend: memory\n")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "memory" {
		t.Errorf("backend = %s, want memory from ./kbsync.yaml", cfg.Backend)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "kbsync.yaml")
	writeFile(t, path, `
github:
  token: from-file
  owner: file-owner
  repo: kb
`)
	t.Setenv("KBSYNC_GITHUB_TOKEN", "from-env")
	t.Setenv("KBSYNC_SYNC_MAX_AUTH_FAILURES", "5")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("owner", "", "")
	flags.String("repo", "", "")
	if err := flags.Parse([]string{"--owner", "flag-owner"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GitHub.Token != "from-env" {
		t.Errorf("token = %s, env should override file", cfg.GitHub.Token)
	}
	if cfg.GitHub.Owner != "flag-owner" {
		t.Errorf("owner = %s, flag should override file", cfg.GitHub.Owner)
	}
	if cfg.GitHub.Repo != "kb" {
		t.Errorf("repo = %s, unset flag should not override file", cfg.GitHub.Repo)
	}
	if cfg.Sync.MaxAuthFailures != 5 {
		t.Errorf("max auth failures = %d", cfg.Sync.MaxAuthFailures)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.GitHub.Token, c.GitHub.Owner, c.GitHub.Repo = "t", "o", "r"
		return c
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		wantRemot bool
	}{
		{"valid", func(c *Config) {}, false, false},
		{"missing token", func(c *Config) { c.GitHub.Token = "" }, true, true},
		{"missing owner and repo", func(c *Config) { c.GitHub.Owner, c.GitHub.Repo = "", "" }, true, true},
		{"unknown backend", func(c *Config) { c.Backend = "s3" }, true, true},
		{"git without dir", func(c *Config) { c.Backend = "git" }, true, true},
		{"git with dir", func(c *Config) { c.Backend = "git"; c.Git.Dir = "/tmp/kb" }, false, false},
		{"redis without url", func(c *Config) { c.Backend = "redis"; c.Redis.URL = "" }, true, true},
		{"memory needs nothing", func(c *Config) { c.Backend = "memory"; c.GitHub = GitHubConfig{} }, false, false},
		{"unknown store", func(c *Config) { c.Store = "postgres" }, true, false},
		{"unknown policy", func(c *Config) { c.Sync.ConflictPolicy = "yolo" }, true, false},
		{"zero interval", func(c *Config) { c.Sync.Interval = 0 }, true, false},
		{"negative spacing", func(c *Config) { c.Sync.MinSpacing = -time.Second }, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, remote.ErrConfiguration) != tt.wantRemot {
				t.Errorf("Validate() error = %v, ErrConfiguration = %v", err, tt.wantRemot)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	c := Default()
	c.Backend = "redis"
	c.Redis.URL = "redis://example:6379/1"
	c.Sync.CallTimeout = 7 * time.Second
	c.Sync.ConflictPolicy = "prompt"

	opts := c.RemoteOptions()
	if opts.Backend != remote.BackendRedis || opts.RedisURL != c.Redis.URL || opts.Timeout != 7*time.Second {
		t.Errorf("remote options = %+v", opts)
	}

	if sc := c.SyncerConfig(); sc.Policy != kbsync.PolicyPrompt || sc.MinSpacing != c.Sync.MinSpacing || !sc.SharedStore {
		t.Errorf("syncer config = %+v", sc)
	}
	if dc := c.DaemonConfig(); dc.Interval != c.Sync.Interval || dc.CallTimeout != 7*time.Second || !dc.SharedStore {
		t.Errorf("daemon config = %+v", dc)
	}
}

func TestWriteTemplate(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "conf", "kbsync.yaml")

	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("WriteTemplate() failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("template mode = %o, want 600", perm)
	}

	if err := WriteTemplate(path, false); err == nil {
		t.Error("WriteTemplate() over an existing file should fail without force")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Errorf("WriteTemplate(force) failed: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	def := Default()
	if cfg.Sync != def.Sync || cfg.Git != def.Git || cfg.Dashboard != def.Dashboard {
		t.Errorf("template round trip = %+v, want %+v", cfg.Sync, def.Sync)
	}
}
