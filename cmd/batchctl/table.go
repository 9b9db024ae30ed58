package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"videobatch/internal/domain"
)

var resultHeaders = table.Row{"#", "Status", "Prompt", "Artifact / Error"}

// renderResults writes one row per job: a rounded table on a terminal,
// tab-separated lines otherwise.
func renderResults(w io.Writer, jobs []domain.Job) {
	if !isTerminal(w) {
		for _, job := range jobs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", job.Index, job.Status, job.Prompt, outcome(job))
		}
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(resultHeaders)
	for _, job := range jobs {
		tw.AppendRow(table.Row{strconv.Itoa(job.Index), string(job.Status), truncate(job.Prompt, 48), outcome(job)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, WidthMax: 72},
	})
	tw.Render()
}

func outcome(job domain.Job) string {
	if job.Status == domain.JobStatusCompleted {
		return job.ArtifactRef
	}
	return job.Error
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
