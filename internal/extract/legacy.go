package extract

import (
	"fmt"

	"github.com/hyperjump/hikidashi/internal/models"
	"github.com/lu4p/cat"
)

// loadLegacyWord handles .doc, .odt and .rtf, which lu4p/cat reads from a path.
func loadLegacyWord(path string) ([]models.Document, error) {
	text, err := cat.File(path)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	return single(text), nil
}
