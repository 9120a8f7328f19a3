package searchdb

import "context"

// DB is a full-text engine reachable through query-string queries. Index
// arguments may name several indices separated by commas and may contain
// wildcards.
type DB interface {
	Ping(ctx context.Context) error
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string) (bool, error)
	// Search returns every document matching queryString, not only the first page.
	Search(ctx context.Context, index string, queryString string) ([]Document, error)
	InsertDocuments(ctx context.Context, index string, documents []Document) (int, error)
	Close() error
}
