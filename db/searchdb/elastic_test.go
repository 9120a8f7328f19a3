package searchdb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/stretchr/testify/require"
)

// fakeElastic answers the handful of Elasticsearch endpoints the adapter uses.
// Search results are served in pages of pageSize, continuing through scroll.
type fakeElastic struct {
	mu       sync.Mutex
	pageSize int
	indices  map[string][]Document

	// pingStatus overrides the status of HEAD / when set
	pingStatus int
	// failScrollAt makes the n-th scroll request fail with a server error
	failScrollAt int

	queries      []string
	pingCalls    int
	scrollCalls  int
	clearedIDs   []string
	bulkRequests int
}

func newFakeElastic(pageSize int) *fakeElastic {
	return &fakeElastic{pageSize: pageSize, indices: make(map[string][]Document)}
}

func (f *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "" && r.Method == http.MethodHead:
		f.pingCalls++
		if f.pingStatus != 0 {
			w.WriteHeader(f.pingStatus)
			return
		}
		w.WriteHeader(http.StatusOK)

	case path == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"version": map[string]any{"number": "8.17.0", "build_flavor": "default"},
			"tagline": "You Know, for Search",
		})

	case strings.HasPrefix(path, "/_search/scroll") && r.Method == http.MethodDelete:
		var body struct {
			ScrollID []string `json:"scroll_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.clearedIDs = append(f.clearedIDs, body.ScrollID...)
		writeJSON(w, http.StatusOK, map[string]any{"succeeded": true})

	case strings.HasPrefix(path, "/_search/scroll"):
		var body struct {
			ScrollID string `json:"scroll_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.scrollCalls++
		if f.scrollCalls == f.failScrollAt {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  map[string]any{"type": "search_phase_execution_exception", "reason": "all shards failed"},
				"status": 500,
			})
			return
		}
		var index string
		var page int
		fmt.Sscanf(body.ScrollID, "scroll:%d:%s", &page, &index)
		f.writePage(w, index, page)

	case strings.HasSuffix(path, "/_search"):
		index := strings.TrimPrefix(strings.TrimSuffix(path, "/_search"), "/")
		if _, ok := f.indices[index]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":  map[string]any{"type": "index_not_found_exception", "reason": "no such index [" + index + "]"},
				"status": 404,
			})
			return
		}
		var body struct {
			Query struct {
				QueryString struct {
					Query string `json:"query"`
				} `json:"query_string"`
			} `json:"query"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.queries = append(f.queries, body.Query.QueryString.Query)
		f.writePage(w, index, 0)

	case strings.HasSuffix(path, "/_bulk"):
		index := strings.TrimPrefix(strings.TrimSuffix(path, "/_bulk"), "/")
		f.bulkRequests++
		items := make([]any, 0)
		scanner := bufio.NewScanner(r.Body)
		for lineNumber := 0; scanner.Scan(); lineNumber++ {
			if lineNumber%2 == 0 {
				continue
			}
			var doc Document
			if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
				items = append(items, map[string]any{"index": map[string]any{
					"status": 400, "error": map[string]any{"type": "mapper_parsing_exception", "reason": "bad document"},
				}})
				continue
			}
			if doc["reject"] == true {
				items = append(items, map[string]any{"index": map[string]any{
					"status": 400, "error": map[string]any{"type": "mapper_parsing_exception", "reason": "rejected"},
				}})
				continue
			}
			f.indices[index] = append(f.indices[index], doc)
			items = append(items, map[string]any{"index": map[string]any{"status": 201}})
		}
		errorsFound := false
		for _, item := range items {
			if item.(map[string]any)["index"].(map[string]any)["status"] != 201 {
				errorsFound = true
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"errors": errorsFound, "items": items})

	case r.Method == http.MethodHead:
		if _, ok := f.indices[strings.TrimPrefix(path, "/")]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case r.Method == http.MethodPut:
		index := strings.TrimPrefix(path, "/")
		if _, ok := f.indices[index]; ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"type": "resource_already_exists_exception", "reason": "exists"},
			})
			return
		}
		f.indices[index] = []Document{}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": index})

	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unexpected request " + r.Method + " " + path})
	}
}

func (f *fakeElastic) writePage(w http.ResponseWriter, index string, page int) {
	documents := f.indices[index]
	start := min(page*f.pageSize, len(documents))
	end := min(start+f.pageSize, len(documents))

	hits := make([]any, 0, end-start)
	for i, doc := range documents[start:end] {
		hits = append(hits, map[string]any{"_id": fmt.Sprint(start + i), "_source": doc})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"_scroll_id": fmt.Sprintf("scroll:%d:%s", page+1, index),
		"hits": map[string]any{
			"total": map[string]any{"value": len(documents)},
			"hits":  hits,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(body)
	w.WriteHeader(status)
	io.Copy(w, &buf)
}

func newTestElasticDB(t *testing.T, assert *require.Assertions, fake *fakeElastic) *ElasticDB {
	return newTestElasticDBWithRetries(t, assert, fake, 1)
}

func newTestElasticDBWithRetries(t *testing.T, assert *require.Assertions, fake *fakeElastic, maxRetries int) *ElasticDB {
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	db, err := NewElastic(newTestLogger(), ElasticConfig{
		Hosts:           []string{server.URL},
		MaxRetries:      maxRetries,
		ScrollSize:      fake.pageSize,
		ScrollKeepAlive: 30 * time.Second,
	})
	assert.NoError(err, "could not create elastic db")
	return db
}

func TestElasticSearchScrollsThroughAllPages(t *testing.T) {
	assert := require.New(t)
	fake := newFakeElastic(2)
	for i := 1; i <= 5; i++ {
		fake.indices["preprints"] = append(fake.indices["preprints"], Document{"id": fmt.Sprintf("W%d", i)})
	}
	db := newTestElasticDB(t, assert, fake)

	documents, err := db.Search(context.Background(), "preprints", `title:"genome dried"~15`)
	assert.NoError(err)
	assert.Equal([]string{"W1", "W2", "W3", "W4", "W5"}, documentIDs(documents))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal([]string{`title:"genome dried"~15`}, fake.queries)
	assert.Equal(2, fake.scrollCalls)
	assert.Equal([]string{"scroll:3:preprints"}, fake.clearedIDs)
}

func TestElasticSearchClearsScrollWhenScrollFails(t *testing.T) {
	assert := require.New(t)
	fake := newFakeElastic(2)
	fake.failScrollAt = 2
	for i := 1; i <= 5; i++ {
		fake.indices["preprints"] = append(fake.indices["preprints"], Document{"id": fmt.Sprintf("W%d", i)})
	}
	db := newTestElasticDB(t, assert, fake)

	documents, err := db.Search(context.Background(), "preprints", "*")
	assert.Nil(documents)

	var engineErr *EngineError
	assert.True(errors.As(err, &engineErr))
	assert.Equal(http.StatusInternalServerError, engineErr.StatusCode)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(2, fake.scrollCalls)
	// the scroll id of the last page that was read
	assert.Equal([]string{"scroll:2:preprints"}, fake.clearedIDs)
}

func TestElasticMaxRetries(t *testing.T) {
	var retryTestCases = []struct {
		name              string
		maxRetries        int
		expectedPingCalls int
	}{
		{name: "Retries turned off", maxRetries: 0, expectedPingCalls: 1},
		{name: "Two retries", maxRetries: 2, expectedPingCalls: 3},
	}

	for _, testCase := range retryTestCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			fake := newFakeElastic(10)
			fake.pingStatus = http.StatusServiceUnavailable
			db := newTestElasticDBWithRetries(t, assert, fake, testCase.maxRetries)

			assert.Error(db.Ping(context.Background()))

			fake.mu.Lock()
			defer fake.mu.Unlock()
			assert.Equal(testCase.expectedPingCalls, fake.pingCalls)
		})
	}
}

func TestElasticSearchExactPageMultiple(t *testing.T) {
	assert := require.New(t)
	fake := newFakeElastic(2)
	fake.indices["preprints"] = []Document{{"id": "W1"}, {"id": "W2"}, {"id": "W3"}, {"id": "W4"}}
	db := newTestElasticDB(t, assert, fake)

	documents, err := db.Search(context.Background(), "preprints", "*")
	assert.NoError(err)
	assert.Len(documents, 4)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// the third page is empty and ends the scroll
	assert.Equal(2, fake.scrollCalls)
}

func TestElasticSearchKeepsNumbers(t *testing.T) {
	assert := require.New(t)
	fake := newFakeElastic(10)
	fake.indices["tblstudyreport"] = []Document{{"CRGReportID": 149, "CRGStudyID": 12345678901}}
	db := newTestElasticDB(t, assert, fake)

	documents, err := db.Search(context.Background(), "tblstudyreport", `CRGReportID:"149"`)
	assert.NoError(err)
	assert.Len(documents, 1)
	assert.Equal(json.Number("12345678901"), documents[0]["CRGStudyID"])
}

func TestElasticSearchMissingIndex(t *testing.T) {
	assert := require.New(t)
	db := newTestElasticDB(t, assert, newFakeElastic(10))

	_, err := db.Search(context.Background(), "missing", "*")
	assert.Error(err)
	assert.True(errors.Is(err, ErrIndexNotFound), "expected index not found, got %v", err)

	var engineErr *EngineError
	assert.True(errors.As(err, &engineErr))
	assert.Equal(http.StatusNotFound, engineErr.StatusCode)
	assert.Equal("no such index [missing]", engineErr.Reason)
}

func TestElasticIndexLifecycle(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	db := newTestElasticDB(t, assert, newFakeElastic(10))

	assert.NoError(db.Ping(ctx))

	exists, err := db.IndexExists(ctx, "tblstudy")
	assert.NoError(err)
	assert.False(exists)

	created, err := db.CreateIndex(ctx, "tblstudy")
	assert.NoError(err)
	assert.True(created)

	created, err = db.CreateIndex(ctx, "tblstudy")
	assert.NoError(err)
	assert.False(created)

	exists, err = db.IndexExists(ctx, "tblstudy")
	assert.NoError(err)
	assert.True(exists)
}

func TestElasticInsertDocuments(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	fake := newFakeElastic(10)
	db := newTestElasticDB(t, assert, fake)

	inserted, err := db.InsertDocuments(ctx, "preprints", []Document{{"id": "W1"}, {"id": "W2"}})
	assert.NoError(err)
	assert.Equal(2, inserted)

	inserted, err = db.InsertDocuments(ctx, "preprints", []Document{{"id": "W3"}, {"id": "W4", "reject": true}})
	assert.Error(err)
	assert.Equal(1, inserted)
	assert.Contains(err.Error(), "rejected")

	inserted, err = db.InsertDocuments(ctx, "preprints", nil)
	assert.NoError(err)
	assert.Zero(inserted)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(2, fake.bulkRequests)
	assert.Equal([]string{"W1", "W2", "W3"}, documentIDs(fake.indices["preprints"]))
}

func TestDecodeEngineError(t *testing.T) {
	var decodeEngineErrorTestCases = []struct {
		name           string
		status         int
		body           string
		expectedType   string
		expectedReason string
	}{
		{
			name:           "Object error",
			status:         http.StatusNotFound,
			body:           `{"error":{"type":"index_not_found_exception","reason":"no such index [x]"},"status":404}`,
			expectedType:   "index_not_found_exception",
			expectedReason: "no such index [x]",
		},
		{
			name:           "String error",
			status:         http.StatusBadRequest,
			body:           `{"error":"bad thing"}`,
			expectedReason: "bad thing",
		},
		{
			name:           "Empty body",
			status:         http.StatusServiceUnavailable,
			body:           ``,
			expectedReason: http.StatusText(http.StatusServiceUnavailable),
		},
		{
			name:           "Not JSON",
			status:         http.StatusBadGateway,
			body:           `<html>bad gateway</html>`,
			expectedReason: http.StatusText(http.StatusBadGateway),
		},
	}

	for _, testCase := range decodeEngineErrorTestCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert := require.New(t)
			res := &esapi.Response{StatusCode: testCase.status, Body: io.NopCloser(strings.NewReader(testCase.body))}

			engineErr := decodeEngineError(res)
			assert.Equal(testCase.status, engineErr.StatusCode)
			assert.Equal(testCase.expectedType, engineErr.Type)
			assert.Equal(testCase.expectedReason, engineErr.Reason)
		})
	}
}
