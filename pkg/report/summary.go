package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

// WriteSummary prints one row per cell followed by the overall result.
func WriteSummary(w io.Writer, rep *Report) error {
	passLabel := color.New(color.FgGreen, color.Bold).Sprint("PASS")
	failLabel := color.New(color.FgRed, color.Bold).Sprint("FAIL")

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CELL\tRESULT\tCOMMANDS\tDURATION\tDETAIL")
	for _, c := range rep.Cells {
		label := passLabel
		if !c.Passed {
			label = failLabel
		}
		ran := 0
		for _, cmd := range c.Commands {
			if !cmd.Skipped {
				ran++
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			c.Cell.ID, label, ran, len(c.Commands), c.Ended.Sub(c.Started).Round(time.Millisecond), detail(c))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	failed := len(rep.Failed())
	if failed == 0 {
		_, err := fmt.Fprintf(w, "\n%s: %d of %d cells passed\n", passLabel, len(rep.Cells), len(rep.Cells))
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s: %d of %d cells failed\n", failLabel, failed, len(rep.Cells))
	return err
}

func detail(c CellResult) string {
	var parts []string
	if !c.Passed {
		parts = append(parts, fmt.Sprintf("%s failure", c.Category))
		if c.Error != "" {
			parts = append(parts, c.Error)
		}
	}
	if len(c.ReportingErrors) > 0 {
		parts = append(parts, fmt.Sprintf("%d after_success command(s) failed", len(c.ReportingErrors)))
	}
	if len(c.Artifacts) > 0 {
		parts = append(parts, fmt.Sprintf("%d artifact(s)", len(c.Artifacts)))
	}
	return strings.Join(parts, "; ")
}
