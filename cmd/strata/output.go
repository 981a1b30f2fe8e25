package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/stratadb/strata/internal/app"
	"github.com/stratadb/strata/internal/observability"
	"github.com/stratadb/strata/internal/pipeline"
)

// Colors respect NO_COLOR and are disabled when stdout is not a terminal.
var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func printArchiveSummary(w io.Writer, r *app.ArchiveReport) {
	fmt.Fprintf(w, "archive %s (%s, %s)\n", r.Path, r.Info.ID, formatBytes(r.Size))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSTATUS\tROWS\tGROUPS\tRAW\tSTORED\tRATIO")
	for _, res := range r.Results {
		if res.Err != nil {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\t-\n", res.Table, failColor.Sprint(observability.ErrorCode(res.Err)))
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n", res.Table, okColor.Sprint("ok"),
			res.Rows, res.RowGroups, formatBytes(res.RawBytes()), formatBytes(res.CompressedBytes()),
			ratio(res.RawBytes(), res.CompressedBytes()))
		for _, col := range res.Columns {
			fmt.Fprintf(tw, "%s\t%s\t\t\t%s\t%s\t%s\n",
				dimColor.Sprint("  ."+col.Name), dimColor.Sprint(col.Physical),
				formatBytes(col.RawBytes), formatBytes(col.CompressedBytes),
				ratio(col.RawBytes, col.CompressedBytes))
		}
	}
	tw.Flush()

	printFailures(w, r.Failed())
	if r.UploadedTo != "" {
		fmt.Fprintf(w, "uploaded to %s\n", r.UploadedTo)
	}
	fmt.Fprintf(w, "done in %s\n", r.Duration.Round(time.Millisecond))
}

func printRestoreSummary(w io.Writer, r *app.RestoreReport) {
	fmt.Fprintf(w, "restore from %s (%s)\n", r.Archive, r.Info.ID)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSTATUS\tROWS\tGROUPS\tTIME")
	for _, res := range r.Results {
		status := okColor.Sprint("ok")
		if res.Err != nil {
			status = failColor.Sprint(observability.ErrorCode(res.Err))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", res.Table, status, res.Rows, res.RowGroups,
			res.Duration.Round(time.Millisecond))
	}
	tw.Flush()

	printFailures(w, r.Failed())
	fmt.Fprintf(w, "done in %s\n", r.Duration.Round(time.Millisecond))
}

func printFailures(w io.Writer, failed []pipeline.TableResult) {
	for _, res := range failed {
		fmt.Fprintf(w, "%s %s: %v\n", failColor.Sprint("failed"), res.Table, res.Err)
	}
}

func ratio(raw, stored int64) string {
	if stored == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", float64(raw)/float64(stored))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
