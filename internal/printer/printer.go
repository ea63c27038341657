// Package printer renders CLI output: coloured status lines and tables.
package printer

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/starford/scriptorium/internal/checksum"
	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/registry"
	"github.com/starford/scriptorium/internal/router"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Printer writes to an output and an error stream.
type Printer struct {
	out io.Writer
	err io.Writer
}

// New returns a Printer. Nil writers default to stdout and stderr.
func New(out, errw io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errw == nil {
		errw = os.Stderr
	}
	return &Printer{out: out, err: errw}
}

// Success prints a green line with a checkmark prefix.
func (p *Printer) Success(format string, a ...any) {
	green.Fprintf(p.out, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Warning prints a yellow line to the error stream.
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.err, "! %s\n", fmt.Sprintf(format, a...))
}

// Error prints a red title and optional suggestions to the error stream.
func (p *Printer) Error(title string, suggestions ...string) {
	red.Fprintf(p.err, "%s\n", title)
	for _, s := range suggestions {
		fmt.Fprintf(p.err, "  %s\n", s)
	}
}

// Step prints an emphasised progress line.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Println prints a plain line.
func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) table(header []string, rows [][]string) error {
	t := tablewriter.NewWriter(p.out)
	h := make([]any, len(header))
	for i, v := range header {
		h[i] = v
	}
	t.Header(h...)
	for _, r := range rows {
		if err := t.Append(r); err != nil {
			return err
		}
	}
	return t.Render()
}

// Documents prints one row per registry entry.
func (p *Printer) Documents(docs []*models.Document) error {
	if len(docs) == 0 {
		p.Warning("no documents registered")
		return nil
	}
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		compact := "-"
		if d.HasCompact() {
			compact = strconv.Itoa(d.TokenCounts.Compact)
		}
		rows = append(rows, []string{
			d.Category,
			d.Key,
			d.Representations.Verbose,
			strconv.Itoa(d.TokenCounts.Verbose),
			compact,
			checksum.Short(d.Checksum),
			d.Summary,
		})
	}
	return p.table([]string{"Category", "Key", "Path", "Verbose", "Compact", "Checksum", "Summary"}, rows)
}

// Statistics prints registry totals followed by a per-category table.
func (p *Printer) Statistics(st *registry.Statistics) error {
	fmt.Fprintf(p.out, "Version:          %d\n", st.Version)
	if !st.LastUpdated.IsZero() {
		fmt.Fprintf(p.out, "Last updated:     %s\n", st.LastUpdated.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(p.out, "Documents:        %d\n", st.TotalDocuments)
	fmt.Fprintf(p.out, "Compact coverage: %.1f%% (%d/%d)\n", st.Coverage*100, st.WithCompact, st.TotalDocuments)
	fmt.Fprintf(p.out, "Tokens:           %d verbose, %d compact\n", st.VerboseTokens, st.CompactTokens)
	fmt.Fprintf(p.out, "Token reduction:  %.1f%%\n", st.TokenReduction)
	if st.PendingUpdates > 0 {
		p.Warning("%d updates pending", st.PendingUpdates)
	}
	if len(st.Categories) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(st.Categories))
	for _, c := range st.Categories {
		rows = append(rows, []string{
			c.Name,
			strconv.Itoa(c.Documents),
			strconv.Itoa(c.WithCompact),
			strconv.Itoa(c.VerboseTokens),
			strconv.Itoa(c.CompactTokens),
			fmt.Sprintf("%.1f%%", registry.Reduction(c.VerboseTokens, c.CompactTokens)),
		})
	}
	return p.table([]string{"Category", "Documents", "Compact", "Verbose tokens", "Compact tokens", "Reduction"}, rows)
}

var tierOrder = []router.Tier{
	router.TierExisting,
	router.TierKnown,
	router.TierPattern,
	router.TierClassification,
	router.TierDynamic,
}

// RouterStats prints per-tier counts and the recent decisions.
func (p *Printer) RouterStats(st router.Stats) error {
	fmt.Fprintf(p.out, "Routed:           %d (%d errors)\n", st.Total, st.Errors)
	fmt.Fprintf(p.out, "Mean duration:    %s\n", st.MeanDuration)
	fmt.Fprintf(p.out, "Learned patterns: %d (%d learned matches)\n", st.LearnedPatterns, st.Learned)
	rows := make([][]string, 0, len(tierOrder))
	for _, t := range tierOrder {
		rows = append(rows, []string{string(t), strconv.Itoa(st.ByTier[t])})
	}
	if err := p.table([]string{"Tier", "Decisions"}, rows); err != nil {
		return err
	}
	if len(st.Recent) == 0 {
		return nil
	}
	return p.Decisions(st.Recent)
}

// Decisions prints one row per routing decision.
func (p *Printer) Decisions(decs []router.Decision) error {
	rows := make([][]string, 0, len(decs))
	for _, d := range decs {
		result := d.Path
		if d.Error != "" {
			result = "error: " + d.Error
		}
		tier := string(d.ResultTier)
		if d.Learned {
			tier += " (learned)"
		}
		evaluated := make([]string, len(d.TiersEvaluated))
		for i, t := range d.TiersEvaluated {
			evaluated[i] = string(t)
		}
		rows = append(rows, []string{d.Filename, tier, result, strings.Join(evaluated, " > ")})
	}
	return p.table([]string{"File", "Tier", "Path", "Evaluated"}, rows)
}

// LearnedPatterns prints folder associations learned from past matches.
func (p *Printer) LearnedPatterns(patterns []router.LearnedPattern) error {
	if len(patterns) == 0 {
		p.Warning("no learned patterns yet")
		return nil
	}
	rows := make([][]string, 0, len(patterns))
	for _, lp := range patterns {
		rows = append(rows, []string{lp.Folder, strconv.Itoa(lp.UsageCount), strings.Join(lp.Keywords, ", ")})
	}
	return p.table([]string{"Folder", "Uses", "Keywords"}, rows)
}
