package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/convsync/server/projector"
)

// writeRows renders rows in format: table, json or yaml.
func writeRows(w io.Writer, rows []projector.Row, format string) error {
	switch format {
	case "", "table":
		return writeTable(w, rows)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return errors.Wrap(err, "failed to encode yaml")
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}

func writeTable(w io.Writer, rows []projector.Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tKIND\tMODEL\tLAST MESSAGE\tPREVIEW")
	for _, row := range rows {
		last := "-"
		if !row.LastMessageAt.IsZero() {
			last = row.LastMessageAt.Local().Format(time.DateTime)
		}
		model := row.ModelLabel
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", marker(row), row.ID, row.Name, row.Kind, model, last, row.Preview)
	}
	return tw.Flush()
}

// marker flags the active row and rows awaiting the backend or a reply.
func marker(row projector.Row) string {
	m := ""
	if row.IsActive {
		m += ">"
	}
	if row.IsPending {
		m += "~"
	}
	if row.IsProcessing {
		m += "*"
	}
	return m
}
