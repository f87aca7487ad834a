package search

import "context"

// Result is a single post hit.
type Result struct {
	ID         string `json:"id"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	ImageRef   string `json:"imageRef"`
	Snippet    string `json:"snippet"`
}

type Query struct {
	Text     string
	AuthorID string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push posts into a search index.
type Indexer interface {
	IndexPost(post PostRecord) error
	IndexPosts(posts []PostRecord) error
	DeletePost(id string) error
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID         string `json:"id"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	ImageRef   string `json:"imageRef"`
	Caption    string `json:"caption"`
	CreatedAt  int64  `json:"createdAt"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
