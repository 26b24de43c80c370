package cache

import "time"

// Article is a single suggestion returned by the similarity service.
type Article struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
	PageID     int64   `json:"pageid,omitempty"`
}

type entry struct {
	key        string
	value      []Article
	insertedAt time.Time
}

// EntryInfo describes a live cache entry without exposing its articles.
type EntryInfo struct {
	Key        string
	Articles   int
	InsertedAt time.Time
	Age        time.Duration
}
