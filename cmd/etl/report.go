package main

import (
	"fmt"
	"io"
	"time"

	"sheet-etl/internal/pipeline"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// printResults renders one row per run followed by any fetch errors.
func printResults(w io.Writer, results []pipeline.Result) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Job", "State", "Fetched", "New", "Changed", "Unchanged", "Skipped", "Linked", "Batches", "Failed", "Took"})
	for _, r := range results {
		t.AppendRow(table.Row{
			r.Job, stateLabel(r), r.Fetched, r.New, r.Existing, r.Unchanged, r.Skipped, r.Linked,
			r.Report.Batches, r.Report.Failed, r.Finished.Sub(r.Started).Round(time.Millisecond),
		})
	}
	t.Render()

	for _, r := range results {
		if r.FetchError != "" {
			fmt.Fprintln(w, color.YellowString("%s: fetch stopped early: %s", r.Job, r.FetchError))
		}
		for _, e := range r.Report.Errors {
			fmt.Fprintln(w, color.RedString("%s: %s batch %d (%d rows): %s", r.Job, e.Op, e.Batch, e.Size, e.Error))
		}
	}
}

func stateLabel(r pipeline.Result) string {
	label := r.State.String()
	if r.DryRun && r.State == pipeline.Done {
		label += " (dry run)"
	}
	switch {
	case r.State == pipeline.Failed:
		return color.RedString("%s", label)
	case r.Report.Failed > 0 || r.FetchError != "":
		return color.YellowString("%s", label)
	default:
		return color.GreenString("%s", label)
	}
}
