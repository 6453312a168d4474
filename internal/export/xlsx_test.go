package export

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/webfabrica/leadgen-cli/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.xlsx")
	businesses := []model.Business{
		{
			ID:           "b1",
			Name:         "Panadería San José",
			Category:     "bakery",
			City:         "Asunción",
			Neighborhood: "Villa Morra",
			Phone:        "+595 981 234 567",
			Rating:       4.5,
			ReviewCount:  120,
			Score:        72,
			Status:       model.StatusQualified,
			DiscoveredAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:                "b2",
			Name:              "Clínica Dental Sonrisa",
			Category:          "dental",
			SecondaryCategory: "clinic",
			Score:             88,
			Status:            model.StatusContacted,
			DiscoveredAt:      time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	require.NoError(t, WriteXLSX(path, businesses))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	sheet := f.Sheets[0]
	require.Len(t, sheet.Rows, 3) // header + 2 leads
	assert.Equal(t, "ID", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Panadería San José", sheet.Rows[1].Cells[1].String())
	assert.Equal(t, "dental / clinic", sheet.Rows[2].Cells[2].String())
	assert.Equal(t, "qualified", sheet.Rows[1].Cells[10].String())
	assert.Equal(t, "2026-08-01", sheet.Rows[1].Cells[12].String())
}

func TestWriteXLSX_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, WriteXLSX(path, nil))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets[0].Rows, 1) // header only
}
