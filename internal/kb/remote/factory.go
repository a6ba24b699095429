package remote

import (
	"fmt"
	"time"
)

// Backend names a Client implementation.
type Backend string

const (
	BackendGitHub Backend = "github"
	BackendGit    Backend = "git"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Backends lists the supported backends in display order.
func Backends() []Backend {
	return []Backend{BackendGitHub, BackendGit, BackendRedis, BackendMemory}
}

// IsValid reports whether b names a supported backend.
func (b Backend) IsValid() bool {
	for _, known := range Backends() {
		if b == known {
			return true
		}
	}
	return false
}

// Options selects and configures a backend.
type Options struct {
	Backend Backend
	Timeout time.Duration

	GitHub GitHubConfig
	Git    GitRepoConfig

	RedisURL string
	RedisKey string
}

// Open builds the client named by opts.Backend. Missing settings yield
// ErrConfiguration.
//
// Example:
//
//	client, err := remote.Open(remote.Options{
//	    Backend: remote.BackendGitHub,
//	    GitHub:  remote.GitHubConfig{Token: tok, Owner: "me", Repo: "kb"},
//	})
func Open(opts Options) (Client, error) {
	switch opts.Backend {
	case BackendGitHub, "":
		cfg := opts.GitHub
		if cfg.Timeout == 0 {
			cfg.Timeout = opts.Timeout
		}
		return NewGitHub(cfg)
	case BackendGit:
		return NewGitRepo(opts.Git)
	case BackendRedis:
		return NewRedis(opts.RedisURL, opts.RedisKey, opts.Timeout)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrConfiguration, opts.Backend)
	}
}
