package main

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
	"github.com/Bestie123/PromAi/internal/ui"
)

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// confirm asks a yes/no question. Without a terminal it returns def.
func confirm(ctx context.Context, in io.Reader, out io.Writer, title, description string, def bool) (bool, error) {
	if !isTerminal(in) {
		return def, nil
	}
	answer := def
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Value(&answer),
	)).WithInput(in).WithOutput(out)
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return answer, nil
}

// promptResolver returns a conflict resolver that asks on the terminal.
// Without a terminal it returns nil, which declines and pauses.
func promptResolver(in io.Reader, out io.Writer) kbsync.Resolver {
	if !isTerminal(in) {
		return nil
	}
	return func(ctx context.Context, c kbsync.Conflict) (bool, error) {
		desc := "Merge the remote changes into your copy and save again? Choosing no pauses automatic sync."
		if c.ExpectedTag != "" {
			desc = "Expected remote version " + ui.ShortTag(c.ExpectedTag) + ". " + desc
		}
		return confirm(ctx, in, out, "The remote knowledge base changed during save", desc, true)
	}
}
