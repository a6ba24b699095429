package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bestie123/PromAi/internal/kb/remote"
	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
	"github.com/Bestie123/PromAi/internal/ui"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show progress and sync state",
		Long: `Show knowledge base progress and the last known sync state.

With --check, also verify the credentials and compare the remote version
with the local baseline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			a, err := openApp(cmd, opts)
			if errors.Is(err, remote.ErrConfiguration) {
				local, lerr := openLocal(cmd, opts)
				if lerr != nil {
					return lerr
				}
				defer local.Close()
				printLocal(out, local)
				fmt.Fprintf(out, "%s\n  %s\n", ui.TitleStyle.Render("Sync"), ui.WarnStyle.Render(err.Error()))
				return nil
			}
			if err != nil {
				return err
			}
			defer a.Close()

			printLocal(out, a)
			fmt.Fprint(out, ui.RenderStatus(a.syncer.Status(), a.remoteName()))
			if check {
				return checkRemote(cmd.Context(), out, a)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "contact the remote and report whether it changed")
	return cmd
}

func printLocal(out io.Writer, a *app) {
	fmt.Fprintln(out, ui.TitleStyle.Render("Knowledge base"))
	fmt.Fprintf(out, "  %s\n", ui.RenderStats(a.tree.Stats()))
	fmt.Fprintf(out, "  %-11s %s\n\n", "Store:", a.cfg.StorePath())
}

// checkRemote verifies credentials and compares the remote tag with the
// baseline and with the local document.
func checkRemote(ctx context.Context, out io.Writer, a *app) error {
	if v, ok := a.client.(remote.Verifier); ok {
		if err := v.Verify(ctx); err != nil {
			return fmt.Errorf("credential check failed: %w", err)
		}
		fmt.Fprintf(out, "  %-11s %s\n", "Access:", ui.SuccessStyle.Render("ok"))
	}

	snap, err := a.client.Fetch(ctx)
	var remoteTag string
	switch {
	case errors.Is(err, remote.ErrMalformed):
		fmt.Fprintf(out, "  %-11s %s\n", "Remote:", ui.WarnStyle.Render("malformed, the next sync replaces it"))
		return nil
	case errors.Is(err, remote.ErrNotFound):
		fmt.Fprintf(out, "  %-11s %s\n", "Remote:", ui.WarnStyle.Render("does not exist yet, the next sync creates it"))
		return nil
	case err != nil:
		return fmt.Errorf("failed to fetch remote document: %w", err)
	default:
		remoteTag = snap.Tag
	}

	state := ui.SuccessStyle.Render("unchanged since last sync")
	if remoteTag != a.syncer.Status().LastTag {
		state = ui.WarnStyle.Render("changed since last sync")
	}
	fmt.Fprintf(out, "  %-11s %s (%s)\n", "Remote:", state, ui.ShortTag(remoteTag))

	data, err := a.tree.Snapshot().EncodeIndent()
	if err != nil {
		return err
	}
	if remote.ComputeTag(data) == remoteTag {
		fmt.Fprintf(out, "  %-11s %s\n", "Local:", ui.SuccessStyle.Render("identical to remote"))
	} else {
		fmt.Fprintf(out, "  %-11s %s\n", "Local:", ui.WarnStyle.Render("differs from remote"))
	}
	return nil
}

// runReport opens the app, runs op and prints its report.
func runReport(cmd *cobra.Command, opts *globalOptions, op func(ctx context.Context, a *app) (*kbsync.Report, error)) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := op(cmd.Context(), a)
	if line := ui.RenderReport(report); line != "" {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return err
}

func newSyncCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Merge remote changes and save now",
		Long: `Run one sync cycle now: fetch the remote document, merge it into the
local copy if it changed, and write the result back.

A version conflict is handled by the configured conflict policy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, func(ctx context.Context, a *app) (*kbsync.Report, error) {
				return a.syncer.Cycle(ctx, kbsync.Options{Force: true, Manual: true})
			})
		},
	}
}

func newPullCmd(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "pull",
		GroupID: "sync",
		Short:   "Replace the local copy with the remote one",
		Long: `Replace the local knowledge base with the remote document.

Local changes that were never saved are lost; use "kbsync merge" to keep
them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, func(ctx context.Context, a *app) (*kbsync.Report, error) {
				if !yes {
					ok, err := confirm(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(),
						"Replace the local knowledge base with the remote copy?",
						"Local changes that are not on the remote will be lost.", true)
					if err != nil {
						return nil, err
					}
					if !ok {
						return nil, fmt.Errorf("pull cancelled")
					}
				}
				return a.syncer.Pull(ctx)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newMergeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "merge",
		GroupID: "sync",
		Short:   "Merge the remote copy into the local one without saving",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, func(ctx context.Context, a *app) (*kbsync.Report, error) {
				return a.syncer.PullMerge(ctx)
			})
		},
	}
}

func newPushCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "push",
		GroupID: "sync",
		Short:   "Save the local copy to the remote now",
		Long: `Save the local knowledge base to the remote now.

A normal push merges remote changes first. --force overwrites the remote
document with the local one without merging.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts, func(ctx context.Context, a *app) (*kbsync.Report, error) {
				return a.syncer.Push(ctx, force)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite the remote without merging")
	return cmd
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "history",
		GroupID: "sync",
		Short:   "List recent saves recorded by the remote",
		Long: `List the messages of recent saves, newest first.

Supported by the git and redis backends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var msgs []string
			switch c := a.client.(type) {
			case *remote.GitRepo:
				msgs, err = c.History(limit)
			case *remote.Redis:
				msgs, err = c.History(cmd.Context(), limit)
			default:
				return fmt.Errorf("backend %s does not keep a save history", a.cfg.Backend)
			}
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, ui.MutedStyle.Render("no saves yet"))
			}
			for _, m := range msgs {
				fmt.Fprintln(out, strings.TrimSpace(m))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	return cmd
}
