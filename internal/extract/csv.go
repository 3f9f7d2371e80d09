package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hyperjump/hikidashi/internal/models"
)

// loadCSV returns one Document per record. Each record renders as "header: value" lines;
// the row metadata is the 0-based record index after the header.
func loadCSV(path string) ([]models.Document, error) {
	content, err := readFile(path)
	if err != nil {
		return nil, err
	}
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(strings.NewReader(toValidUTF8(content)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	var docs []models.Document
	for row := 0; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row %d: %w", row, err)
		}
		lines := make([]string, len(header))
		for i, name := range header {
			var value string
			if i < len(record) {
				value = record[i]
			}
			lines[i] = strings.TrimSpace(name) + ": " + strings.TrimSpace(value)
		}
		docs = append(docs, models.Document{
			Content:  strings.Join(lines, "\n"),
			Metadata: map[string]string{models.MetaRow: strconv.Itoa(row)},
		})
	}
	return docs, nil
}
