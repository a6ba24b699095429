package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bestie123/PromAi/internal/kb/merge"
	"github.com/Bestie123/PromAi/internal/kb/schema"
	"github.com/Bestie123/PromAi/internal/ui"
)

func newShowCmd(opts *globalOptions) *cobra.Command {
	var (
		checklist bool
		width     int
	)

	cmd := &cobra.Command{
		Use:     "show",
		GroupID: "data",
		Short:   "Print the knowledge base as a tree with progress",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openLocal(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprint(out, ui.RenderTree(a.tree.Snapshot(), ui.TreeOptions{Checklist: checklist, BarWidth: width}))
			fmt.Fprintln(out)
			fmt.Fprintln(out, ui.RenderStats(a.tree.Stats()))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&checklist, "checklist", "l", false, "list checklist items")
	cmd.Flags().IntVar(&width, "width", 10, "progress bar width")
	return cmd
}

func newAddCmd(opts *globalOptions) *cobra.Command {
	var (
		parent string
		tech   bool
	)

	cmd := &cobra.Command{
		Use:     "add NAME",
		GroupID: "data",
		Short:   "Add a category or technology",
		Long: `Add a node and print its id.

Without --in the node is a top-level category. With --in it is added to the
category with that id: a subcategory, or a technology with --tech.`,
		Example: `  kbsync add Languages
  kbsync add --in cat_3f6c2a9e-8d4b-4e57-9a0f-1c2b3d4e5f60 --tech Go`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openLocal(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if parent == "" && tech {
				return fmt.Errorf("a technology needs a parent category (--in)")
			}

			var id string
			err = a.edit(cmd.Context(), func() error {
				if parent == "" {
					var err error
					id, err = a.tree.AddCategory(args[0])
					return err
				}
				path, err := a.tree.PathTo(parent)
				if err != nil {
					return err
				}
				if tech {
					id, err = a.tree.AddTechnology(path, args[0])
				} else {
					id, err = a.tree.AddSubcategory(path, args[0])
				}
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "in", "", "id of the parent category")
	cmd.Flags().BoolVar(&tech, "tech", false, "add a technology instead of a subcategory")
	return cmd
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:     "check TECH-ID ITEM",
		GroupID: "data",
		Short:   "Tick a checklist item, adding it if missing",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, text := args[0], args[1]

			a, err := openLocal(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.edit(cmd.Context(), func() error {
				node, err := a.tree.FindByID(id)
				if err != nil {
					return err
				}
				full, err := a.tree.PathTo(id)
				if err != nil {
					return err
				}
				path, index := full[:len(full)-1], full[len(full)-1]

				item := -1
				for i, it := range node.Checklist {
					if it.Text == text {
						item = i
						break
					}
				}
				if item < 0 {
					if undo {
						return fmt.Errorf("%s has no checklist item %q", node.Name, text)
					}
					if err := a.tree.AddChecklistItem(path, index, text); err != nil {
						return err
					}
					item = len(node.Checklist)
				}
				return a.tree.SetChecklistItem(path, index, item, !undo)
			})
			if err != nil {
				return err
			}

			updated, err := a.tree.FindByID(id)
			if err != nil {
				return err
			}
			pct, _ := updated.Progress()
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", updated.Name, ui.ProgressBar(pct, 10))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&undo, "undo", "u", false, "untick the item instead")
	return cmd
}

func newExportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "export [FILE]",
		GroupID: "data",
		Short:   "Write the knowledge base as JSON",
		Long:    `Write the knowledge base as indented JSON to FILE, or to stdout without one.`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openLocal(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			doc := a.tree.Snapshot()
			if len(args) == 0 || args[0] == "-" {
				data, err := doc.EncodeIndent()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := schema.WriteDocumentFile(args[0], doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s\n", args[0])
			return nil
		},
	}
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	var mergeIn bool

	cmd := &cobra.Command{
		Use:     "import FILE",
		GroupID: "data",
		Short:   "Load a JSON export into the knowledge base",
		Long: `Load a JSON export.

By default the file replaces the local knowledge base. With --merge its
categories, technologies and checklist items are added to the local ones
and nothing is removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := schema.ReadDocumentFile(args[0])
			if err != nil {
				return err
			}

			a, err := openLocal(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var stats merge.Stats
			err = a.edit(cmd.Context(), func() error {
				if !mergeIn {
					return a.tree.Replace(doc)
				}
				return a.tree.Update("merge", func(live *schema.Document) (*schema.Document, error) {
					res := merge.Run(live, doc)
					stats = res.Stats
					return res.Document, nil
				})
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if mergeIn {
				fmt.Fprintf(out, "Merged %s: %s\n", args[0], stats)
			} else {
				fmt.Fprintf(out, "Imported %s\n", args[0])
			}
			fmt.Fprintln(out, ui.RenderStats(a.tree.Stats()))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&mergeIn, "merge", "m", false, "merge into the local copy instead of replacing it")
	return cmd
}
