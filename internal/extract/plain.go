package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/hikidashi/internal/models"
)

func loadText(path string) ([]models.Document, error) {
	content, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return single(toValidUTF8(content)), nil
}

// toValidUTF8 returns content as string, replacing invalid UTF-8 sequences with the replacement character.
func toValidUTF8(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}
