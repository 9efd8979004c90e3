// Package report renders a run summary for the terminal.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/forumharvest/internal/crawler"
)

// Render writes a two-column summary of r to w.
func Render(w io.Writer, r crawler.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run " + r.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Pages", pageRange(r)},
		{"Pages attempted", r.PagesAttempted},
		{"Pages absent", r.PagesAbsent},
		{"Pages skipped", r.PagesSkipped},
		{"Pages failed", r.PagesFailed},
		{"Records extracted", r.RecordsExtracted},
		{"Records stored", r.RecordsStored},
		{"Store failures", r.StoreFailures},
		{"Entries skipped", r.EntriesSkipped},
		{"Duration", r.Duration().Round(time.Millisecond).String()},
	})
	t.AppendFooter(table.Row{"Status", status(r)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.Render()
}

func pageRange(r crawler.RunReport) string {
	return fmt.Sprintf("%d-%d", r.FirstPage, r.LastPage)
}

func status(r crawler.RunReport) string {
	switch {
	case r.Canceled:
		return "canceled"
	case r.PagesFailed > 0:
		return "completed with failed pages"
	case r.StoreFailures > 0:
		return "completed with store failures"
	default:
		return "ok"
	}
}
