package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Bestie123/PromAi/internal/config"
	"github.com/Bestie123/PromAi/internal/kb/daemon"
	"github.com/Bestie123/PromAi/internal/kb/dashboard"
	"github.com/Bestie123/PromAi/internal/ui"
)

func newDaemonCmd(opts *globalOptions) *cobra.Command {
	var (
		withDashboard bool
		port          int
	)

	cmd := &cobra.Command{
		Use:     "daemon",
		GroupID: "sync",
		Short:   "Sync on a schedule until interrupted",
		Long: `Run the sync scheduler in the foreground.

The daemon runs a cycle every sync.interval and shortly after local edits
(sync.debounce). Every cycle re-reads the local store under its lock, so
edits saved by other kbsync commands are synced and never overwritten. With
the file store a save also triggers a cycle right away.

Unsaved edits are flushed on Ctrl+C. Invalid credentials stop the schedule
after sync.max_auth_failures attempts in a row.

Logs go to stderr, or to log.file with rotation when it is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dashboard") {
				cfg.Dashboard.Enabled = withDashboard
			}
			if cmd.Flags().Changed("port") {
				cfg.Dashboard.Port = port
			}

			logOut, closeLog := daemonLogOutput(cmd.ErrOrStderr(), cfg.Log, opts.verbose)
			defer closeLog()
			opts.logOut = logOut

			a, err := newApp(cmd, opts, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runDaemon(cmd.Context(), cmd.OutOrStdout(), a)
		},
	}
	cmd.Flags().BoolVar(&withDashboard, "dashboard", false, "serve the WebSocket dashboard")
	cmd.Flags().IntVarP(&port, "port", "p", 8787, "dashboard port")
	return cmd
}

// daemonLogOutput returns where daemon logs go. A rotating file replaces
// stderr unless verbose asks for both.
func daemonLogOutput(stderr io.Writer, cfg config.LogConfig, verbose bool) (io.Writer, func()) {
	if cfg.File == "" {
		return stderr, func() {}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	if verbose {
		return io.MultiWriter(stderr, lj), func() { _ = lj.Close() }
	}
	return lj, func() { _ = lj.Close() }
}

func runDaemon(ctx context.Context, out io.Writer, a *app) error {
	dcfg := a.cfg.DaemonConfig()
	dcfg.Logger = a.logger("[daemon] ")

	d, err := daemon.New(a.syncer, a.tree, dcfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	d.AddSink(daemon.LogSink{Logger: dcfg.Logger})

	if a.cfg.Dashboard.Enabled {
		server := dashboard.NewServer(&dashboard.Config{
			Host:   a.cfg.Dashboard.Host,
			Port:   a.cfg.Dashboard.Port,
			Logger: a.logger("[dashboard] "),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() { _ = server.Stop() }()

		d.AddSink(dashboard.NewHandler(server, a.tree, a.syncer.Status, nil))
		fmt.Fprintf(out, "Dashboard: ws://%s/ws\n", server.GetAddr())
	}

	if a.cfg.Store == config.StoreFile {
		if err := d.WatchFile(a.cfg.StorePath()); err != nil {
			return fmt.Errorf("failed to watch %s: %w", a.cfg.StorePath(), err)
		}
	}

	if a.cfg.Sync.Enabled {
		d.Enable()
		fmt.Fprintf(out, "Syncing with %s every %s. Press Ctrl+C to stop.\n", a.remoteName(), a.cfg.Sync.Interval)
	} else {
		fmt.Fprintln(out, ui.WarnStyle.Render("Scheduled sync is disabled (sync.enabled: false). Press Ctrl+C to stop."))
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	fmt.Fprintln(out, "\nShutting down...")
	if err := d.Close(); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}

	// The schedule is stopped; save what it did not get to.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dcfg.CallTimeout)
	defer cancel()
	report, err := d.Flush(flushCtx)
	if line := ui.RenderReport(report); line != "" {
		fmt.Fprintln(out, line)
	}
	if err != nil {
		return fmt.Errorf("failed to flush unsynced edits: %w", err)
	}
	return nil
}
