package extract

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/ledongthuc/pdf"
)

// loadPDF returns one Document per page. The page metadata is 0-based.
func loadPDF(path string) ([]models.Document, error) {
	content, err := readFile(path)
	if err != nil {
		return nil, err
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	docs := make([]models.Document, 0, numPages)
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		docs = append(docs, models.Document{
			Content:  text,
			Metadata: map[string]string{models.MetaPage: strconv.Itoa(i)},
		})
	}
	return docs, nil
}
