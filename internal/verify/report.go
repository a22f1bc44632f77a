package verify

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ReportFormat specifies the output format for verification reports.
type ReportFormat string

const (
	FormatJSON     ReportFormat = "json"
	FormatText     ReportFormat = "text"
	FormatMarkdown ReportFormat = "markdown"
)

// ReportGenerator renders verification reports.
type ReportGenerator struct {
	format  ReportFormat
	verbose bool
}

// NewReportGenerator creates a report generator.
func NewReportGenerator(format ReportFormat) *ReportGenerator {
	return &ReportGenerator{format: format}
}

// WithVerbose enables per-component error detail.
func (g *ReportGenerator) WithVerbose(verbose bool) *ReportGenerator {
	g.verbose = verbose
	return g
}

// Generate produces a report in the configured format.
func (g *ReportGenerator) Generate(report *Report, w io.Writer) error {
	switch g.format {
	case FormatJSON:
		return g.generateJSON(report, w)
	case FormatText:
		return g.generateText(report, w)
	case FormatMarkdown:
		return g.generateMarkdown(report, w)
	default:
		return fmt.Errorf("unknown format: %s", g.format)
	}
}

func (g *ReportGenerator) generateJSON(report *Report, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (g *ReportGenerator) generateText(report *Report, w io.Writer) error {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "                      STREAM CACHE VERIFICATION REPORT")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Result:    %s\n", resultString(report.Valid))
	fmt.Fprintf(w, "Database:  %s\n", report.DBPath)
	fmt.Fprintf(w, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Streams:   %d passed, %d failed\n", report.Passed, report.Failed)
	fmt.Fprintln(w)

	for _, s := range report.Streams {
		fmt.Fprintf(w, "--- %s (%s) ---\n", s.StreamID, s.StreamID.Kind())
		fmt.Fprintf(w, "%d miniblocks, %d events\n", s.Miniblocks, s.Events)
		for _, c := range s.Components {
			fmt.Fprintf(w, "[%s] %-10s %s\n", statusSymbol(c.Status), c.Component, c.Message)
			if g.verbose && c.Error != "" {
				fmt.Fprintf(w, "    Error: %s\n", c.Error)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func (g *ReportGenerator) generateMarkdown(report *Report, w io.Writer) error {
	fmt.Fprintln(w, "# Stream Cache Verification Report")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "- **Result**: %s\n", resultString(report.Valid))
	fmt.Fprintf(w, "- **Database**: `%s`\n", report.DBPath)
	fmt.Fprintf(w, "- **Generated**: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "- **Streams**: %d passed, %d failed\n", report.Passed, report.Failed)
	fmt.Fprintln(w)

	for _, s := range report.Streams {
		fmt.Fprintf(w, "## %s (%s)\n\n", s.StreamID, s.StreamID.Kind())
		fmt.Fprintln(w, "| Check | Status | Detail |")
		fmt.Fprintln(w, "|-------|--------|--------|")
		for _, c := range s.Components {
			detail := c.Message
			if g.verbose && c.Error != "" {
				detail += ": " + c.Error
			}
			fmt.Fprintf(w, "| %s | %s | %s |\n", c.Component, c.Status, detail)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func resultString(valid bool) string {
	if valid {
		return "VALID"
	}
	return "INVALID"
}

func statusSymbol(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "+"
	case StatusFail:
		return "x"
	default:
		return "-"
	}
}
