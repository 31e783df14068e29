// Package report renders migration records for the CLI and MCP server.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joestump/migrator/store"
)

// Supported formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

const timeLayout = "2006-01-02 15:04:05"

// Row is the serialized form of one record.
type Row struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Filename  string    `json:"filename"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Rows converts records for serialization.
func Rows(recs []store.Record) []Row {
	rows := make([]Row, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, Row{
			ID:        r.ID,
			Name:      r.Name,
			Filename:  r.Filename,
			State:     string(r.State),
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return rows
}

// Write renders recs to w in format. An empty format means text.
func Write(w io.Writer, format string, recs []store.Record) error {
	switch format {
	case "", FormatText:
		return Text(w, recs)
	case FormatMarkdown:
		_, err := io.WriteString(w, Markdown(recs))
		return err
	case FormatHTML:
		return HTML(w, recs)
	case FormatJSON:
		return JSON(w, recs)
	}
	return fmt.Errorf("unknown format %q (want text, markdown, html or json)", format)
}

// Text writes an aligned table. States are colored when color output is
// enabled.
func Text(w io.Writer, recs []store.Record) error {
	up := color.New(color.FgGreen).SprintFunc()
	down := color.New(color.FgYellow).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tNAME\tFILENAME\tCREATED\tUPDATED")
	for _, r := range recs {
		state := down(string(r.State))
		if r.State == store.StateUp {
			state = up(string(r.State))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			state, r.Name, r.Filename,
			r.CreatedAt.Local().Format(timeLayout),
			r.UpdatedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

// Markdown returns a GitHub-flavored table of recs.
func Markdown(recs []store.Record) string {
	var b strings.Builder
	b.WriteString("| State | Name | Filename | Created | Updated |\n")
	b.WriteString("|-------|------|----------|---------|---------|\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "| %s | %s | `%s` | %s | %s |\n",
			r.State, escapeCell(r.Name), r.Filename,
			r.CreatedAt.UTC().Format(timeLayout),
			r.UpdatedAt.UTC().Format(timeLayout))
	}
	return b.String()
}

// HTML renders the markdown table to HTML.
func HTML(w io.Writer, recs []store.Record) error {
	gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := gm.Convert([]byte(Markdown(recs)), &buf); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// JSON writes recs as an indented array.
func JSON(w io.Writer, recs []store.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Rows(recs))
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
