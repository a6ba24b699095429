// Command kbsync keeps a personal knowledge base in sync with a remote copy.
package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool

	// logOut overrides where component logs go; the daemon sets it.
	logOut io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "kbsync",
		Short: "Keep a knowledge base in sync with a remote copy",
		Long: `kbsync manages a tree of categories and technologies with checklists and
keeps it in sync with one JSON file in a remote store.

The local copy lives in a SQLite database (or a JSON file) under the data
directory. The remote copy is a file in a GitHub repository by default; a
local git repository or a Redis key can stand in for it.

Edits are never lost: when both sides changed, the remote document is merged
into the local one by union before writing back.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./kbsync.yaml or ~/.kbsync/kbsync.yaml)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log sync activity to stderr")
	pf.String("backend", "", "remote backend: github, git, redis or memory")
	pf.String("store", "", "local store: sqlite or file")
	pf.String("data-dir", "", "directory holding the local store")
	pf.String("owner", "", "GitHub repository owner")
	pf.String("repo", "", "GitHub repository name")
	pf.String("branch", "", "GitHub branch (default: the repository default)")
	pf.String("git-dir", "", "local git repository used by the git backend")
	pf.String("redis", "", "Redis URL used by the redis backend")
	pf.String("policy", "", "conflict policy: merge-retry, pause or prompt")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Knowledge Base Commands:"},
	)

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newSyncCmd(opts),
		newPullCmd(opts),
		newMergeCmd(opts),
		newPushCmd(opts),
		newHistoryCmd(opts),
		newDaemonCmd(opts),
		newShowCmd(opts),
		newAddCmd(opts),
		newCheckCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
