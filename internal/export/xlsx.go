// Package export writes qualified leads to spreadsheet files for the
// outreach team.
package export

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/webfabrica/leadgen-cli/internal/model"
)

var xlsxHeader = []string{
	"ID", "Name", "Category", "City", "Neighborhood", "Phone", "Email",
	"Rating", "Reviews", "Score", "Status", "Website Status", "Discovered",
}

// WriteXLSX writes the businesses to an XLSX workbook at path.
func WriteXLSX(path string, businesses []model.Business) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().SetString(h)
	}

	for i := range businesses {
		b := &businesses[i]
		row := sheet.AddRow()
		row.AddCell().SetString(b.ID)
		row.AddCell().SetString(b.Name)
		row.AddCell().SetString(category(b))
		row.AddCell().SetString(b.City)
		row.AddCell().SetString(b.Neighborhood)
		row.AddCell().SetString(b.Phone)
		row.AddCell().SetString(b.Email)
		row.AddCell().SetFloat(b.Rating)
		row.AddCell().SetInt(b.ReviewCount)
		row.AddCell().SetInt(b.Score)
		row.AddCell().SetString(string(b.Status))
		row.AddCell().SetString(string(b.WebsiteStatus))
		row.AddCell().SetString(b.DiscoveredAt.Format("2006-01-02"))
	}

	return eris.Wrap(f.Save(path), "export: save workbook")
}

func category(b *model.Business) string {
	if b.SecondaryCategory == "" {
		return b.Category
	}
	return strings.Join([]string{b.Category, b.SecondaryCategory}, " / ")
}
