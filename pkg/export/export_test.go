package export

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(rows int) Table {
	table := Table{
		Title: "Coffee Basics progress",
		Columns: []Column{
			{Key: "student", Label: "Student", Width: 2},
			{Key: "completed", Label: "Completed"},
			{Key: "score", Label: "Final score"},
		},
		Footer: []string{"3 students"},
	}
	for i := 0; i < rows; i++ {
		table.Rows = append(table.Rows, map[string]string{
			"student":   fmt.Sprintf("student-%d", i),
			"completed": "2/3",
			"score":     "85",
		})
	}
	return table
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleTable(2))
	require.NoError(t, err)
	assert.Equal(t, "Student,Completed,Final score\nstudent-0,2/3,85\nstudent-1,2/3,85\n", string(out))

	_, err = NewCSVExporter().Render(Table{})
	assert.Error(t, err)
}

func TestPDFExporterRenderPaginates(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleTable(120))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestColumnWidthsUseWeights(t *testing.T) {
	widths := columnWidths(sampleTable(0).Columns, 200)
	assert.InDelta(t, 100, widths[0], 0.001)
	assert.InDelta(t, 50, widths[1], 0.001)
	assert.InDelta(t, 50, widths[2], 0.001)
}
