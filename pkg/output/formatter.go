// Package output renders CLI results with colors.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/ritzau/unitconv/pkg/conversion"
	"github.com/ritzau/unitconv/pkg/cycles"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/paths"
	"github.com/ritzau/unitconv/pkg/rounding"
)

var (
	bold   = color.New(color.Bold)
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

// PrintPath prints a conversion route
func PrintPath(w io.Writer, p model.ConversionPath) {
	if !p.Found {
		red.Fprintf(w, "✗ No conversion from %s to %s\n", p.FromUnit, p.ToUnit)
		return
	}

	bold.Fprintf(w, "1 %s = %s %s\n", p.FromUnit, formatRate(p.TotalRate), p.ToUnit)
	cyan.Fprintf(w, "  %s", strings.Join(p.Path, " → "))
	fmt.Fprintf(w, "  (%d %s)\n", p.Steps, plural(p.Steps, "step", "steps"))
}

// PrintConversion prints a route applied to a quantity
func PrintConversion(w io.Writer, c paths.Conversion) {
	if !c.Found {
		PrintPath(w, c.ConversionPath)
		return
	}
	bold.Fprintf(w, "%s %s = %s %s\n", formatRate(c.Quantity), c.FromUnit, c.Formatted, c.ToUnit)
	cyan.Fprintf(w, "  %s", strings.Join(c.Path, " → "))
	fmt.Fprintf(w, "  (rate %s, %s precision %d)\n", formatRate(c.TotalRate), categoryLabel(c.Category), rounding.Precision(c.Category))
}

// PrintCycleCheck prints the verdict of a cycle check
func PrintCycleCheck(w io.Writer, check conversion.CycleCheck) {
	if check.Valid {
		green.Fprintf(w, "✓ %s\n", check.Message)
		return
	}
	red.Fprintf(w, "✗ %s\n", check.Message)
}

// PrintAudit prints cycles found in a stored rule set
func PrintAudit(w io.Writer, total int, found []cycles.RuleCycle) {
	bold.Fprintln(w, "Conversion Rule Audit")
	bold.Fprintln(w, "=====================")
	fmt.Fprintf(w, "Rules: %d\n", total)

	if len(found) == 0 {
		green.Fprintln(w, "✓ No conversion cycles")
		return
	}

	yellow.Fprintf(w, "Cycles: %d\n\n", len(found))
	for i, c := range found {
		red.Fprintf(w, "  %d. %s\n", i+1, cycles.FormatPath(c.Walk))
		fmt.Fprintf(w, "     Units: %s\n", strings.Join(c.Units, ", "))
	}
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Delete or reverse one rule in each cycle to restore a consistent graph.")
}

// PrintImport prints an import summary
func PrintImport(w io.Writer, report conversion.ImportReport) {
	green.Fprintf(w, "Accepted: %d\n", len(report.Accepted))
	if len(report.Updated) > 0 {
		cyan.Fprintf(w, "Updated:  %d\n", len(report.Updated))
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped:  %d\n", len(report.Skipped))
	}
	if len(report.Rejected) == 0 {
		return
	}
	red.Fprintf(w, "Rejected: %d\n", len(report.Rejected))
	for _, issue := range report.Rejected {
		yellow.Fprintf(w, "  #%d %s → %s", issue.Index, issue.Rule.FromUnit, issue.Rule.ToUnit)
		fmt.Fprintf(w, ": %s\n", issue.Reason)
	}
}

// PrintRules prints rules as an aligned table
func PrintRules(w io.Writer, rules []model.ConversionRule) {
	if len(rules) == 0 {
		yellow.Fprintln(w, "No conversion rules")
		return
	}
	width := 0
	for _, r := range rules {
		width = max(width, len([]rune(r.FromUnit)))
	}
	for _, r := range rules {
		pad := strings.Repeat(" ", width-len([]rune(r.FromUnit)))
		fmt.Fprintf(w, "1 %s%s = %s %s", r.FromUnit, pad, formatRate(r.ConversionRate), r.ToUnit)
		cyan.Fprintf(w, "  [%s]\n", categoryLabel(r.Category))
	}
}

func formatRate(v float64) string {
	return fmt.Sprintf("%.6g", v)
}

func categoryLabel(c model.Category) string {
	if c == "" {
		return "uncategorized"
	}
	return string(c)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
