package searchdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/meghashyamc/esgateway/logger"
)

const (
	clearScrollTimeout      = 5 * time.Second
	defaultElasticPageSize  = 1000
	defaultElasticKeepAlive = time.Minute
)

type ElasticConfig struct {
	Hosts           []string
	Username        string
	Password        string
	MaxRetries      int
	ScrollSize      int
	ScrollKeepAlive time.Duration
}

type ElasticDB struct {
	client     *elasticsearch.Client
	scrollSize int
	keepAlive  time.Duration
	logger     logger.Logger
}

func NewElastic(logger logger.Logger, cfg ElasticConfig) (*ElasticDB, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Hosts,
		Username:     cfg.Username,
		Password:     cfg.Password,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.MaxRetries <= 0,
	})
	if err != nil {
		logger.Error("could not create elasticsearch client", "err", err.Error())
		return nil, fmt.Errorf("could not create elasticsearch client: %w", err)
	}

	if cfg.ScrollSize <= 0 {
		cfg.ScrollSize = defaultElasticPageSize
	}
	if cfg.ScrollKeepAlive <= 0 {
		cfg.ScrollKeepAlive = defaultElasticKeepAlive
	}

	return &ElasticDB{
		client:     client,
		scrollSize: cfg.ScrollSize,
		keepAlive:  cfg.ScrollKeepAlive,
		logger:     logger,
	}, nil
}

type searchPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (e *ElasticDB) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("could not reach elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return decodeEngineError(res)
	}
	return nil
}

func (e *ElasticDB) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := e.client.Indices.Exists([]string{index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("could not check index %s: %w", index, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, decodeEngineError(res)
	}
}

func (e *ElasticDB) CreateIndex(ctx context.Context, index string) (bool, error) {
	exists, err := e.IndexExists(ctx, index)
	if err != nil {
		return false, err
	}
	if exists {
		e.logger.Info("index exists", "index", index)
		return false, nil
	}

	res, err := e.client.Indices.Create(index, e.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("could not create index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		engineErr := decodeEngineError(res)
		if engineErr.Type == "resource_already_exists_exception" {
			return false, nil
		}
		e.logger.Error("index creation error", "index", index, "err", engineErr.Error())
		return false, engineErr
	}

	e.logger.Info("index created", "index", index)
	return true, nil
}

func (e *ElasticDB) Search(ctx context.Context, index string, queryString string) ([]Document, error) {
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"query_string": map[string]any{"query": queryString},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(bytes.NewReader(body)),
		e.client.Search.WithScroll(e.keepAlive),
		e.client.Search.WithSize(e.scrollSize),
	)
	if err != nil {
		e.logger.Error("search failed", "index", index, "err", err.Error())
		return nil, fmt.Errorf("search failed: %w", err)
	}

	page, err := decodeSearchPage(res)
	if err != nil {
		e.logger.Error("search failed", "index", index, "err", err.Error())
		return nil, err
	}

	documents := make([]Document, 0, len(page.Hits.Hits))
	scrollID := page.ScrollID
	defer func() { e.clearScroll(ctx, scrollID) }()

	for len(page.Hits.Hits) > 0 {
		for _, hit := range page.Hits.Hits {
			documents = append(documents, hit.Source)
		}
		if len(scrollID) == 0 || len(page.Hits.Hits) < e.scrollSize {
			break
		}

		page, err = e.nextPage(ctx, scrollID)
		if err != nil {
			e.logger.Error("scroll failed", "index", index, "err", err.Error())
			return nil, err
		}
		if len(page.ScrollID) > 0 {
			scrollID = page.ScrollID
		}
	}

	e.logger.Info("found search results", "index", index, "count", len(documents))
	return documents, nil
}

func (e *ElasticDB) nextPage(ctx context.Context, scrollID string) (*searchPage, error) {
	body, err := json.Marshal(map[string]string{
		"scroll":    fmt.Sprintf("%dms", e.keepAlive.Milliseconds()),
		"scroll_id": scrollID,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode scroll request: %w", err)
	}

	res, err := e.client.Scroll(
		e.client.Scroll.WithContext(ctx),
		e.client.Scroll.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("scroll failed: %w", err)
	}

	return decodeSearchPage(res)
}

func (e *ElasticDB) clearScroll(ctx context.Context, scrollID string) {
	if len(scrollID) == 0 {
		return
	}

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearScrollTimeout)
	defer cancel()

	body, err := json.Marshal(map[string][]string{"scroll_id": {scrollID}})
	if err != nil {
		return
	}
	res, err := e.client.ClearScroll(
		e.client.ClearScroll.WithContext(clearCtx),
		e.client.ClearScroll.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		e.logger.Warn("could not clear scroll", "err", err.Error())
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		e.logger.Warn("could not clear scroll", "err", decodeEngineError(res).Error())
	}
}

func (e *ElasticDB) InsertDocuments(ctx context.Context, index string, documents []Document) (int, error) {
	if len(documents) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, doc := range documents {
		buf.WriteString(`{"index":{}}` + "\n")
		if err := encoder.Encode(doc); err != nil {
			return 0, fmt.Errorf("could not encode document: %w", err)
		}
	}

	res, err := e.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithIndex(index),
		e.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		e.logger.Error("bulk insert failed", "index", index, "err", err.Error())
		return 0, fmt.Errorf("bulk insert failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, decodeEngineError(res)
	}

	var bulk bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulk); err != nil {
		return 0, fmt.Errorf("could not decode bulk response: %w", err)
	}

	inserted := 0
	var firstErr error
	for _, item := range bulk.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < http.StatusMultipleChoices {
				inserted++
				continue
			}
			if firstErr == nil && result.Error != nil {
				firstErr = &EngineError{StatusCode: result.Status, Type: result.Error.Type, Reason: result.Error.Reason}
			}
		}
	}
	if bulk.Errors && firstErr != nil {
		e.logger.Error("some documents were not inserted", "index", index, "inserted", inserted, "err", firstErr.Error())
		return inserted, fmt.Errorf("inserted %d of %d documents: %w", inserted, len(documents), firstErr)
	}

	return inserted, nil
}

func (e *ElasticDB) Close() error {
	return nil
}

func decodeSearchPage(res *esapi.Response) (*searchPage, error) {
	defer res.Body.Close()

	if res.IsError() {
		return nil, decodeEngineError(res)
	}

	decoder := json.NewDecoder(res.Body)
	decoder.UseNumber()

	var page searchPage
	if err := decoder.Decode(&page); err != nil {
		return nil, fmt.Errorf("could not decode search response: %w", err)
	}

	return &page, nil
}

// decodeEngineError reads the body of a failed response. The error field is an
// object on most APIs and a bare string on a few.
func decodeEngineError(res *esapi.Response) *EngineError {
	engineErr := &EngineError{StatusCode: res.StatusCode, Reason: http.StatusText(res.StatusCode)}
	if res.Body == nil {
		return engineErr
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil || len(raw) == 0 {
		return engineErr
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Error) == 0 {
		return engineErr
	}

	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	var message string
	switch {
	case json.Unmarshal(envelope.Error, &detail) == nil && len(detail.Type) > 0:
		engineErr.Type = detail.Type
		engineErr.Reason = detail.Reason
	case json.Unmarshal(envelope.Error, &message) == nil:
		engineErr.Reason = message
	}

	return engineErr
}

var _ DB = (*ElasticDB)(nil)
