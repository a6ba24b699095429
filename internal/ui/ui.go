// Package ui renders kbsync output for the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Bestie123/PromAi/internal/kb/schema"
	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
)

var (
	TitleStyle    = lipgloss.NewStyle().Bold(true)
	SuccessStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	WarnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	ErrorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	MutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	CategoryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	BarFullStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	BarEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// ProgressBar renders pct (0-100) as a bar of width cells followed by the
// rounded percentage.
func ProgressBar(pct float64, width int) string {
	if width <= 0 {
		width = 10
	}
	pct = max(0, min(100, pct))
	full := int(pct/100*float64(width) + 0.5)
	return BarFullStyle.Render(strings.Repeat("█", full)) +
		BarEmptyStyle.Render(strings.Repeat("░", width-full)) +
		fmt.Sprintf(" %3.0f%%", pct)
}

// TreeOptions controls RenderTree.
type TreeOptions struct {
	// Checklist lists each technology's checklist items.
	Checklist bool
	// BarWidth is the width of progress bars, default 10.
	BarWidth int
}

// RenderTree draws the document as an indented tree with progress.
func RenderTree(doc *schema.Document, opts TreeOptions) string {
	if doc == nil || len(doc.Categories) == 0 {
		return MutedStyle.Render("(empty)") + "\n"
	}
	var b strings.Builder
	for i, n := range doc.Categories {
		renderNode(&b, n, "", i == len(doc.Categories)-1, opts)
	}
	return b.String()
}

func renderNode(b *strings.Builder, n *schema.Node, prefix string, last bool, opts TreeOptions) {
	branch, next := "├── ", "│   "
	if last {
		branch, next = "└── ", "    "
	}

	name := n.Name
	if n.IsCategory() {
		name = CategoryStyle.Render(name)
	} else if n.Completed {
		name = SuccessStyle.Render(name)
	}

	pct, has := n.Progress()
	line := prefix + branch + name
	if has {
		line += "  " + ProgressBar(pct, opts.BarWidth)
	}
	b.WriteString(line + "\n")

	if n.IsTechnology() && opts.Checklist {
		for _, item := range n.Checklist {
			box := "[ ]"
			if item.Completed {
				box = SuccessStyle.Render("[x]")
			}
			b.WriteString(prefix + next + box + " " + item.Text + "\n")
		}
	}
	for i, c := range n.Children {
		renderNode(b, c, prefix+next, i == len(n.Children)-1, opts)
	}
}

// RenderStats summarises document counts.
func RenderStats(s schema.Stats) string {
	return fmt.Sprintf("%d categories, %d technologies, %d/%d checklist items done  %s",
		s.Categories, s.Technologies, s.ItemsCompleted, s.ChecklistItems, ProgressBar(s.Progress, 20))
}

// RenderStatus formats the syncer status block.
func RenderStatus(st kbsync.Status, remote string) string {
	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "  %-11s %s\n", label+":", value)
	}

	b.WriteString(TitleStyle.Render("Sync") + "\n")
	row("Remote", remote)
	row("Last sync", When(st.LastSync))
	row("Last write", When(st.LastWrite))
	tag := st.LastTag
	if tag == "" {
		tag = MutedStyle.Render("none")
	}
	row("Tag", tag)
	if st.LastError != "" {
		row("Last error", ErrorStyle.Render(st.LastError))
	}
	if st.Cycles > 0 {
		row("Counters", fmt.Sprintf("%d cycles, %d writes, %d merges, %d conflicts, %d failures",
			st.Cycles, st.Writes, st.Merges, st.Conflicts, st.Failures))
	}
	return b.String()
}

// RenderReport describes the outcome of one operation in a line.
func RenderReport(r *kbsync.Report) string {
	if r == nil {
		return ""
	}
	var parts []string
	switch {
	case r.State == kbsync.StateFailed:
		parts = append(parts, ErrorStyle.Render("failed"))
	case r.Created:
		parts = append(parts, SuccessStyle.Render("created remote"))
	case r.Wrote:
		parts = append(parts, SuccessStyle.Render("saved"))
	case r.Skipped != "":
		parts = append(parts, MutedStyle.Render("skipped: "+r.Skipped))
	default:
		parts = append(parts, SuccessStyle.Render("done"))
	}
	if r.Reloaded {
		parts = append(parts, "picked up edits from another process")
	}
	if r.Merged != nil && r.Merged.Changed() {
		parts = append(parts, "merged "+r.Merged.String())
	}
	if r.Retried {
		parts = append(parts, WarnStyle.Render("retried after conflict"))
	}
	if r.Paused {
		parts = append(parts, WarnStyle.Render("paused on conflict"))
	}
	if r.Tag != "" {
		parts = append(parts, MutedStyle.Render("tag "+ShortTag(r.Tag)))
	}
	return strings.Join(parts, ", ")
}

// When formats a timestamp relative to now, or "never".
func When(t time.Time) string {
	if t.IsZero() {
		return MutedStyle.Render("never")
	}
	ago := time.Since(t).Round(time.Second)
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.DateTime), ago)
}

// ShortTag abbreviates a tag to seven characters.
func ShortTag(tag string) string {
	if len(tag) > 7 {
		return tag[:7]
	}
	return tag
}
