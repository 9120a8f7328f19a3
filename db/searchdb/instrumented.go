package searchdb

import (
	"context"
	"time"

	"github.com/meghashyamc/esgateway/metrics"
)

// InstrumentedDB records latency and outcome of every engine call.
type InstrumentedDB struct {
	inner   DB
	backend string
}

func NewInstrumented(inner DB, backend string) *InstrumentedDB {
	return &InstrumentedDB{inner: inner, backend: backend}
}

func (i *InstrumentedDB) Ping(ctx context.Context) error {
	start := time.Now()
	err := i.inner.Ping(ctx)
	metrics.ObserveBackend(i.backend, "ping", time.Since(start), 0, err)
	return err
}

func (i *InstrumentedDB) IndexExists(ctx context.Context, index string) (bool, error) {
	start := time.Now()
	exists, err := i.inner.IndexExists(ctx, index)
	metrics.ObserveBackend(i.backend, "index_exists", time.Since(start), 0, err)
	return exists, err
}

func (i *InstrumentedDB) CreateIndex(ctx context.Context, index string) (bool, error) {
	start := time.Now()
	created, err := i.inner.CreateIndex(ctx, index)
	metrics.ObserveBackend(i.backend, "create_index", time.Since(start), 0, err)
	return created, err
}

func (i *InstrumentedDB) Search(ctx context.Context, index string, queryString string) ([]Document, error) {
	start := time.Now()
	documents, err := i.inner.Search(ctx, index, queryString)
	metrics.ObserveBackend(i.backend, "search", time.Since(start), len(documents), err)
	return documents, err
}

func (i *InstrumentedDB) InsertDocuments(ctx context.Context, index string, documents []Document) (int, error) {
	start := time.Now()
	inserted, err := i.inner.InsertDocuments(ctx, index, documents)
	metrics.ObserveBackend(i.backend, "insert_documents", time.Since(start), inserted, err)
	return inserted, err
}

func (i *InstrumentedDB) Close() error {
	return i.inner.Close()
}

var _ DB = (*InstrumentedDB)(nil)
