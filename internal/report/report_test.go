package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/migrator/store"
)

func sampleRecords() []store.Record {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []store.Record{
		{ID: "a", Name: "create-users", Filename: "1709294400000-create-users.sql", State: store.StateUp, CreatedAt: created, UpdatedAt: created.Add(time.Hour)},
		{ID: "b", Name: "add-index", Filename: "1709298000000-add-index.go", State: store.StateDown, CreatedAt: created.Add(time.Hour), UpdatedAt: created.Add(time.Hour)},
	}
}

func TestText(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "", sampleRecords()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "STATE"))
	assert.Contains(t, lines[1], "up")
	assert.Contains(t, lines[1], "1709294400000-create-users.sql")
	assert.Contains(t, lines[2], "down")
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleRecords())
	assert.Contains(t, md, "| State | Name |")
	assert.Contains(t, md, "| up | create-users | `1709294400000-create-users.sql` | 2024-03-01 12:00:00 | 2024-03-01 13:00:00 |")

	md = Markdown([]store.Record{{Name: "a|b"}})
	assert.Contains(t, md, `a\|b`)
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatHTML, sampleRecords()))
	out := buf.String()
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<th>State</th>")
	assert.Contains(t, out, "<code>1709298000000-add-index.go</code>")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleRecords()))

	var rows []Row
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "create-users", rows[0].Name)
	assert.Equal(t, "down", rows[1].State)

	buf.Reset()
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, "yaml", nil)
	require.Error(t, err)
}
