package searchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
	"github.com/meghashyamc/esgateway/logger"
)

const (
	indexingBatchSize   = 100
	defaultBlevePage    = 1000
	sourceKeyPrefix     = "_source/"
	invalidIndexNameSet = `/\`
)

// BleveDB keeps one bleve index per index name below indexPath. The original
// JSON of every document is stored as an internal value next to it, so
// searches return documents exactly as they were inserted.
type BleveDB struct {
	indexPath string
	pageSize  int
	logger    logger.Logger

	mu      sync.Mutex
	indices map[string]bleve.Index
}

func NewBleve(logger logger.Logger, indexPath string, pageSize int) (*BleveDB, error) {
	if err := os.MkdirAll(indexPath, 0755); err != nil {
		logger.Error("could not create index directory", "path", indexPath, "err", err.Error())
		return nil, fmt.Errorf("could not create index directory: %w", err)
	}
	if pageSize <= 0 {
		pageSize = defaultBlevePage
	}

	return &BleveDB{
		indexPath: indexPath,
		pageSize:  pageSize,
		logger:    logger,
		indices:   make(map[string]bleve.Index),
	}, nil
}

func (b *BleveDB) Ping(ctx context.Context) error {
	info, err := os.Stat(b.indexPath)
	if err != nil {
		return fmt.Errorf("index directory is not available: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("index path %s is not a directory", b.indexPath)
	}
	return nil
}

func (b *BleveDB) IndexExists(ctx context.Context, index string) (bool, error) {
	names, err := b.resolve(index)
	if err != nil {
		if errors.Is(err, ErrIndexNotFound) {
			return false, nil
		}
		return false, err
	}

	return len(names) > 0, nil
}

func (b *BleveDB) CreateIndex(ctx context.Context, index string) (bool, error) {
	if err := validateIndexName(index); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.existsLocked(index) {
		b.logger.Info("index exists", "index", index)
		return false, nil
	}

	if _, err := b.createLocked(index); err != nil {
		return false, err
	}

	b.logger.Info("index created", "index", index)
	return true, nil
}

func (b *BleveDB) InsertDocuments(ctx context.Context, index string, documents []Document) (int, error) {
	if err := validateIndexName(index); err != nil {
		return 0, err
	}

	b.mu.Lock()
	idx, err := b.openLocked(index)
	if errors.Is(err, ErrIndexNotFound) {
		idx, err = b.createLocked(index)
	}
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}

	batch := idx.NewBatch()
	inserted := 0

	for i, doc := range documents {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		source, err := json.Marshal(doc)
		if err != nil {
			b.logger.Error("could not encode document", "err", err.Error())
			return inserted, fmt.Errorf("could not encode document: %w", err)
		}

		docID := uuid.New().String()
		if err := batch.Index(docID, doc); err != nil {
			b.logger.Error("could not index document", "err", err.Error())
			return inserted, err
		}
		batch.SetInternal([]byte(sourceKeyPrefix+docID), source)

		// Execute batch when it reaches the batch size
		if (i+1)%indexingBatchSize == 0 {
			if err := idx.Batch(batch); err != nil {
				b.logger.Error("could not index documents", "err", err.Error())
				return inserted, err
			}
			inserted = i + 1
			batch = idx.NewBatch()
		}
	}

	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			b.logger.Error("could not index documents", "err", err.Error())
			return inserted, err
		}
	}

	return len(documents), nil
}

func (b *BleveDB) Search(ctx context.Context, index string, queryString string) ([]Document, error) {
	names, err := b.resolve(index)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []Document{}, nil
	}

	b.mu.Lock()
	indices := make([]bleve.Index, 0, len(names))
	for _, name := range names {
		idx, err := b.openLocked(name)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		indices = append(indices, idx)
	}
	b.mu.Unlock()

	var searcher bleve.Index = indices[0]
	if len(indices) > 1 {
		searcher = bleve.NewIndexAlias(indices...)
	}

	searchQuery, err := buildBleveQuery(queryString)
	if err != nil {
		b.logger.Warn("could not parse query", "index", index, "query", queryString, "err", err.Error())
		return nil, err
	}
	documents := make([]Document, 0)

	for from := 0; ; from += b.pageSize {
		searchRequest := bleve.NewSearchRequestOptions(searchQuery, b.pageSize, from, false)
		searchRequest.SortBy([]string{"-_score", "_id"})

		searchResult, err := searcher.SearchInContext(ctx, searchRequest)
		if err != nil {
			b.logger.Error("search failed", "index", index, "err", err.Error())
			return nil, fmt.Errorf("search failed: %w", err)
		}

		for _, hit := range searchResult.Hits {
			doc, err := b.source(hit.ID, indices)
			if err != nil {
				return nil, err
			}
			documents = append(documents, doc)
		}

		if len(searchResult.Hits) < b.pageSize || uint64(from+len(searchResult.Hits)) >= searchResult.Total {
			break
		}
	}

	b.logger.Info("found search results", "index", index, "count", len(documents))
	return documents, nil
}

func (b *BleveDB) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var closeErr error
	for name, idx := range b.indices {
		if err := idx.Close(); err != nil {
			b.logger.Error("could not close search index", "index", name, "err", err.Error())
			closeErr = errors.Join(closeErr, err)
		}
		delete(b.indices, name)
	}

	return closeErr
}

func buildBleveQuery(queryString string) (query.Query, error) {
	if isMatchAll(queryString) {
		return bleve.NewMatchAllQuery(), nil
	}

	tokens, err := splitGroupedClauses(queryString)
	if err != nil {
		return nil, err
	}
	if hasGroups(tokens) {
		parser := &groupParser{tokens: tokens}
		return parser.parse()
	}

	return bleve.NewQueryStringQuery(toBleveQueryString(queryString)), nil
}

func (b *BleveDB) source(docID string, indices []bleve.Index) (Document, error) {
	key := []byte(sourceKeyPrefix + docID)
	for _, idx := range indices {
		raw, err := idx.GetInternal(key)
		if err != nil {
			b.logger.Error("could not read document source", "id", docID, "err", err.Error())
			return nil, fmt.Errorf("could not read document source: %w", err)
		}
		if raw == nil {
			continue
		}

		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		var doc Document
		if err := decoder.Decode(&doc); err != nil {
			return nil, fmt.Errorf("could not decode document source: %w", err)
		}
		return doc, nil
	}

	b.logger.Warn("document source missing", "id", docID)
	return Document{"_id": docID}, nil
}

// resolve expands a comma separated list of index names and wildcard patterns
// into existing index names. A concrete name that does not exist is an error,
// a pattern matching nothing is not.
func (b *BleveDB) resolve(index string) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	for _, part := range strings.Split(index, ",") {
		part = strings.TrimSpace(part)
		if err := validateIndexName(part); err != nil {
			return nil, err
		}

		if !strings.ContainsAny(part, "*?") {
			b.mu.Lock()
			exists := b.existsLocked(part)
			b.mu.Unlock()
			if !exists {
				return nil, indexNotFoundError(part)
			}
			add(part)
			continue
		}

		entries, err := os.ReadDir(b.indexPath)
		if err != nil {
			return nil, fmt.Errorf("could not list indices: %w", err)
		}
		var matched []string
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if ok, _ := path.Match(part, entry.Name()); ok {
				matched = append(matched, entry.Name())
			}
		}
		sort.Strings(matched)
		for _, name := range matched {
			add(name)
		}
	}

	return names, nil
}

func (b *BleveDB) existsLocked(name string) bool {
	if _, ok := b.indices[name]; ok {
		return true
	}
	info, err := os.Stat(filepath.Join(b.indexPath, name))
	return err == nil && info.IsDir()
}

func (b *BleveDB) openLocked(name string) (bleve.Index, error) {
	if idx, ok := b.indices[name]; ok {
		return idx, nil
	}
	if !b.existsLocked(name) {
		return nil, indexNotFoundError(name)
	}

	idx, err := bleve.Open(filepath.Join(b.indexPath, name))
	if err != nil {
		b.logger.Error("could not open index", "index", name, "err", err.Error())
		return nil, fmt.Errorf("could not open index %s: %w", name, err)
	}
	idx.SetName(name)
	b.indices[name] = idx

	return idx, nil
}

func (b *BleveDB) createLocked(name string) (bleve.Index, error) {
	idx, err := bleve.New(filepath.Join(b.indexPath, name), createIndexMapping())
	if err != nil {
		b.logger.Error("could not create index", "index", name, "err", err.Error())
		return nil, fmt.Errorf("could not create index %s: %w", name, err)
	}
	idx.SetName(name)
	b.indices[name] = idx

	return idx, nil
}

// Documents have no fixed schema, so every field is mapped dynamically with
// the standard analyzer.
func createIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = true
	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

func validateIndexName(name string) error {
	if len(name) == 0 || name == "." || name == ".." || strings.ContainsAny(name, invalidIndexNameSet) {
		return &EngineError{
			StatusCode: 400,
			Type:       "invalid_index_name_exception",
			Reason:     fmt.Sprintf("invalid index name [%s]", name),
		}
	}
	return nil
}

var _ DB = (*BleveDB)(nil)
