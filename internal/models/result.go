package models

// SearchResult is a single retrieval hit. Rank is 1-based; lower is more relevant.
// Score is higher-is-better for every metric.
type SearchResult struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}
