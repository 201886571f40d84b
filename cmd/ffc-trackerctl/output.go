package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

// tableData is a rendered table: headers and string rows.
type tableData struct {
	Headers []string
	Rows    [][]string
}

// render writes v as indented JSON when output is "json", otherwise
// writes the table built by toTable.
func render(w io.Writer, v any, toTable func() tableData) error {
	switch format := loadSettings().Output; format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table", "":
		return writeTable(w, toTable())
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeTable(w io.Writer, data tableData) error {
	if len(data.Rows) == 0 {
		_, err := fmt.Fprintln(w, "(none)")
		return err
	}

	config := tablewriter.Config{}
	config.Header.Alignment = tw.CellAlignment{Global: tw.AlignLeft}
	config.Row.Alignment = tw.CellAlignment{Global: tw.AlignLeft}
	table := tablewriter.NewTable(w, tablewriter.WithConfig(config))

	headers := make([]any, len(data.Headers))
	for i, h := range data.Headers {
		headers[i] = h
	}
	table.Header(headers...)

	for _, row := range data.Rows {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}
		if err := table.Append(cells...); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return table.Render()
}

// commandContext bounds a command by the --timeout setting.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), loadSettings().Timeout)
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}
