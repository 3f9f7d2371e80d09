package search

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrInvalidK is returned for a negative result count.
	ErrInvalidK = errors.New("k must not be negative")
)

// processQuery validates a query and resolves k; zero means defaultK.
func processQuery(query string, k, defaultK int) (int, error) {
	if strings.TrimSpace(query) == "" {
		return 0, ErrEmptyQuery
	}
	if k < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	if k == 0 {
		k = defaultK
	}
	return k, nil
}
