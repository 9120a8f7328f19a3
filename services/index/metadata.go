package index

import "context"

// SettingsStore persists the current index between restarts.
type SettingsStore interface {
	Set(bucket string, key string, value string) error
	Get(bucket string, key string) (string, error)
	Delete(bucket string, key string) error
}

// IndexChecker represents the search database operation needed to report
// whether an index exists.
type IndexChecker interface {
	IndexExists(ctx context.Context, index string) (bool, error)
}
