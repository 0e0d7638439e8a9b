package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/marmos91/dittomirror/pkg/client"
)

var (
	errColor = color.New(color.FgRed, color.Bold)
	okColor  = color.New(color.FgGreen)
)

// readSources parses one source per non-blank line. Text after '#' is
// ignored.
func readSources(r io.Reader) ([]client.Source, error) {
	var sources []client.Source
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text, _, _ := strings.Cut(sc.Text(), "#")
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		src, err := client.ParseSource(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		sources = append(sources, src)
	}
	return sources, sc.Err()
}

func printSourceError(w io.Writer, e client.SourceError) {
	errColor.Fprintf(w, "ERR %s:%d unreachable\n", e.Address, e.Port)
}

func printStats(w io.Writer, res *client.Result) error {
	okColor.Fprintln(w, "OK")

	table := tablewriter.NewWriter(w)
	table.Header("Files", "Bytes", "Mean bytes/file", "Dispersion", "Unreachable")
	if err := table.Append([]string{
		strconv.FormatInt(res.Stats.Files, 10),
		strconv.FormatInt(res.Stats.Bytes, 10),
		strconv.FormatInt(res.Stats.Mean, 10),
		strconv.FormatInt(res.Stats.Dispersion, 10),
		strconv.Itoa(len(res.SourceErrors)),
	}); err != nil {
		return err
	}
	return table.Render()
}
