package extract

import (
	"fmt"
	"strings"

	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/xuri/excelize/v2"
)

// loadExcel returns one Document per sheet; rows are tab-joined, one per line.
// Legacy BIFF .xls workbooks are not readable by excelize and surface as a load failure.
func loadExcel(path string) ([]models.Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var docs []models.Document
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
		docs = append(docs, models.Document{
			Content:  strings.TrimSpace(buf.String()),
			Metadata: map[string]string{models.MetaSheet: sheet},
		})
	}
	return docs, nil
}
