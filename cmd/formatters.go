package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"sigforge/catalog"
	"sigforge/compiler"
	"sigforge/core"
	"sigforge/service"
	"sigforge/simulate"

	"github.com/fatih/color"
)

// renderValidation displays a validation result
func renderValidation(w io.Writer, name string, res core.ValidationResult) {
	if res.IsValid {
		successColor.Fprintf(w, "✓ %s is valid\n", name)
	} else {
		errorColor.Fprintf(w, "✗ %s is invalid\n", name)
	}

	if len(res.Errors) > 0 {
		errorColor.Fprintln(w, "\n  Errors:")
		for _, e := range res.Errors {
			fmt.Fprintf(w, "    - %s\n", e)
		}
	}
	if len(res.Warnings) > 0 {
		warningColor.Fprintln(w, "\n  Warnings:")
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "    - %s\n", warn)
		}
	}
}

// renderCompileAll prints every compiled rule under a format header
func renderCompileAll(w io.Writer, results []service.FormatResult) {
	for _, r := range results {
		headerColor.Fprintln(w, strings.ToUpper(string(r.Format)))
		headerColor.Fprintln(w, strings.Repeat("=", 80))
		if r.Rule == nil {
			errorColor.Fprintf(w, "✗ %s\n\n", r.Error)
			continue
		}
		fmt.Fprintln(w, r.Rule.Text)
		for _, warn := range r.Rule.Warnings {
			warningColor.Fprintf(w, "  warning: %s\n", warn)
		}
		fmt.Fprintln(w)
	}
}

// renderReport displays a suite report as a table followed by findings
func renderReport(w io.Writer, report *simulate.TestReport) {
	headerColor.Fprintln(w, "SIMULATION REPORT")
	headerColor.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%-22s %-8s %-9s %-8s %-8s %s\n",
		"Test", "Priority", "Status", "Errors", "Warnings", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, r := range report.Results {
		fmt.Fprintf(w, "%-22s %-8s %-9s %-8d %-8d %s\n",
			r.Type, r.Priority, formatTestStatus(r.Status), len(r.Errors), len(r.Warnings), formatMillis(r.DurationMs))
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))

	a := report.Aggregate
	fmt.Fprintf(w, "  Total: %d, Passed: %d, Warnings: %d, Failed: %d, Errors: %d (%s)\n",
		a.Total, a.Passed, a.Warnings, a.Failed, a.Errors, formatMillis(report.DurationMs))
	fmt.Fprintf(w, "  Suite: %s\n", formatTestStatus(report.Status))

	for _, r := range report.Results {
		if len(r.Errors) == 0 && len(r.Warnings) == 0 {
			continue
		}
		fmt.Fprintln(w)
		printSection(w, string(r.Type))
		for _, e := range r.Errors {
			errorColor.Fprintf(w, "    ✗ %s\n", e)
		}
		for _, warn := range r.Warnings {
			warningColor.Fprintf(w, "    ! %s\n", warn)
		}
	}
}

// renderTestResult displays one test result with its metrics
func renderTestResult(w io.Writer, r simulate.TestResult) {
	printSection(w, string(r.Type))
	printField(w, "Status", formatTestStatus(r.Status))
	printField(w, "Priority", string(r.Priority))
	printField(w, "Duration", formatMillis(r.DurationMs))

	if len(r.Metrics) > 0 {
		keys := make([]string, 0, len(r.Metrics))
		for k := range r.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w)
		printSection(w, "Metrics")
		for _, k := range keys {
			printField(w, k, fmt.Sprintf("%v", r.Metrics[k]))
		}
	}
	for _, e := range r.Errors {
		errorColor.Fprintf(w, "    ✗ %s\n", e)
	}
	for _, warn := range r.Warnings {
		warningColor.Fprintf(w, "    ! %s\n", warn)
	}
}

// renderCatalogTable lists component definitions
func renderCatalogTable(w io.Writer, defs []*catalog.Definition) {
	if len(defs) == 0 {
		warningColor.Fprintln(w, "No components registered")
		return
	}

	headerColor.Fprintln(w, "COMPONENTS")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-20s %-25s %-12s %-18s %-18s %s\n",
		"ID", "Name", "Category", "Inputs", "Outputs", "Params")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, d := range defs {
		name := d.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%-20s %-25s %-12s %-18s %-18s %d\n",
			d.ID, name, d.Category, joinOrDash(d.Inputs), joinOrDash(d.Outputs), len(d.Parameters))
	}
	fmt.Fprintln(w, strings.Repeat("=", 100))
}

// renderCatalogDetails displays one component with its parameters
func renderCatalogDetails(w io.Writer, d *catalog.Definition) {
	printSection(w, d.Name)
	printField(w, "ID", d.ID)
	printField(w, "Category", string(d.Category))
	printField(w, "Description", d.Description)
	printField(w, "Inputs", joinOrDash(d.Inputs))
	printField(w, "Outputs", joinOrDash(d.Outputs))

	names := make([]string, 0, len(d.Parameters))
	for n := range d.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return
	}
	fmt.Fprintln(w)
	printSection(w, "Parameters")
	for _, n := range names {
		p := d.Parameters[n]
		desc := string(p.Type)
		if p.Required {
			desc += ", required"
		}
		if len(p.Options) > 0 {
			desc += " [" + strings.Join(p.Options, "|") + "]"
		}
		if p.Default != nil {
			desc += fmt.Sprintf(" (default %v)", p.Default)
		}
		printField(w, n, desc)
	}
}

// renderFormats lists supported output formats
func renderFormats(w io.Writer) {
	headerColor.Fprintln(w, "FORMATS")
	for _, f := range compiler.Formats {
		fmt.Fprintf(w, "  %-15s %s\n", f, ruleExtensions[f])
	}
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

func formatTestStatus(s simulate.Status) string {
	switch s {
	case simulate.StatusPassed:
		return color.New(color.FgGreen).Sprint(s)
	case simulate.StatusWarning:
		return color.New(color.FgYellow).Sprint(s)
	case simulate.StatusFailed, simulate.StatusError:
		return color.New(color.FgRed).Sprint(s)
	}
	return string(s)
}

func formatMillis(ms float64) string {
	if ms < 1 {
		return fmt.Sprintf("%.3fms", ms)
	}
	return fmt.Sprintf("%.1fms", ms)
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}
