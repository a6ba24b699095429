package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bestie123/PromAi/internal/config"
	"github.com/Bestie123/PromAi/internal/kb/remote"
	"github.com/Bestie123/PromAi/internal/kb/store"
	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
	"github.com/Bestie123/PromAi/internal/kb/tree"
)

// app is the set of components one command works with.
type app struct {
	cfg    *config.Config
	store  store.Store
	tree   *tree.Tree
	client remote.Client
	syncer kbsync.Syncer
	logOut io.Writer
}

// loadConfig reads settings with the command's flags taking precedence.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	return config.Load(opts.configPath, cmd.Flags())
}

// openLocal opens the local store and loads the tree. It never touches the
// remote.
func openLocal(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	return newLocal(cmd, opts, cfg)
}

func newLocal(cmd *cobra.Command, opts *globalOptions, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logOut: io.Discard}
	switch {
	case opts.logOut != nil:
		a.logOut = opts.logOut
	case opts.verbose:
		a.logOut = cmd.ErrOrStderr()
	}

	st, err := openStore(cfg, a.logger("[store] "))
	if err != nil {
		return nil, err
	}
	a.store = st

	doc, err := st.Load(cmd.Context())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v (starting from an empty knowledge base)\n", err)
	}
	a.tree = tree.New(doc)
	return a, nil
}

// openApp opens the local side and then the remote client and syncer.
// Settings are validated first so a missing credential fails before any
// network call.
func openApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	return newApp(cmd, opts, cfg)
}

func newApp(cmd *cobra.Command, opts *globalOptions, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a, err := newLocal(cmd, opts, cfg)
	if err != nil {
		return nil, err
	}

	client, err := remote.Open(cfg.RemoteOptions())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open remote: %w", err)
	}
	a.client = client

	scfg := cfg.SyncerConfig()
	scfg.Logger = a.logger("[sync] ")
	if scfg.Policy == kbsync.PolicyPrompt {
		scfg.Resolver = promptResolver(cmd.InOrStdin(), cmd.ErrOrStderr())
	}
	a.syncer = kbsync.New(a.tree, a.store, client, scfg)
	if err := a.syncer.Restore(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	return a, nil
}

func (a *app) logger(prefix string) *log.Logger {
	return log.New(a.logOut, prefix, log.LstdFlags)
}

// editLockTimeout bounds the wait for a daemon that is merging into the
// store.
const editLockTimeout = 30 * time.Second

// edit re-reads the store, applies fn to the tree and saves it, all under
// the store's edit lock, so a daemon cycle never interleaves with it.
func (a *app) edit(ctx context.Context, fn func() error) error {
	if l, ok := a.store.(store.Locker); ok {
		lockCtx, cancel := context.WithTimeout(ctx, editLockTimeout)
		unlock, err := l.Lock(lockCtx)
		cancel()
		if err != nil {
			return err
		}
		defer unlock()
	}

	doc, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}
	if err := a.tree.Replace(doc); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if err := a.store.Save(ctx, a.tree.Snapshot()); err != nil {
		return fmt.Errorf("failed to save knowledge base: %w", err)
	}
	return nil
}

// remoteName describes the remote for status output.
func (a *app) remoteName() string {
	if s, ok := a.client.(fmt.Stringer); ok {
		return s.String()
	}
	return a.cfg.Backend
}

// Close releases the store and any remote connection.
func (a *app) Close() {
	if c, ok := a.client.(io.Closer); ok {
		_ = c.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func openStore(cfg *config.Config, logger *log.Logger) (store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	switch cfg.Store {
	case config.StoreFile:
		return store.OpenFile(cfg.StorePath(), logger)
	case config.StoreSQLite, "":
		return store.OpenSQLite(cfg.StorePath(), logger)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
