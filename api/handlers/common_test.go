// Common test helpers
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/esgateway/config"
	"github.com/meghashyamc/esgateway/db/kvdb"
	"github.com/meghashyamc/esgateway/db/searchdb"
	"github.com/meghashyamc/esgateway/logger"
	"github.com/meghashyamc/esgateway/services/index"
	"github.com/meghashyamc/esgateway/services/search"
	"github.com/meghashyamc/esgateway/validation"
	"github.com/stretchr/testify/require"
)

var defaultTestRequestHeaders = map[string]string{"Content-Type": "application/json"}

// testIndices are loaded into a fresh bleve backend for every test server.
var testIndices = map[string][]searchdb.Document{
	"preprints": {
		{"id": "W1", "title": "Whole genome sequencing of Plasmodium falciparum from dried blood spots", "year": "2016"},
		{"id": "W2", "title": "Optimization of whole-genome sequencing from low-density dried blood spot samples", "year": "2019"},
		{"id": "W3", "title": "Low-Pass Whole Genome Bisulfite Sequencing of Neonatal Dried Blood Spots", "year": "2020"},
		{"id": "W4", "title": "Schizophrenia risk loci", "authors": "Adams, J."},
	},
	"preprints-medrxiv": {
		{"id": "M1", "title": "Dried blood spots in clinical practice"},
	},
	"tblstudyreport": {
		{"CRGReportID": "149", "CRGStudyID": "9001"},
		{"CRGReportID": "218", "CRGStudyID": "9002"},
		{"CRGReportID": "219", "CRGStudyID": "9002"},
	},
	"tblstudy": {
		{"CRGStudyID": "9001", "ShortName": "Smith 2001"},
		{"CRGStudyID": "9002", "ShortName": "Jones 1999"},
		{"CRGStudyID": "9003", "ShortName": "Unlinked 2010"},
	},
}

type testCase struct {
	name             string
	requestHeaders   map[string]string
	requestBody      map[string]any
	expectedStatus   int
	expectedResponse map[string]any
}

func newTestLogger() logger.Logger {

	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

type testServer struct {
	router       *gin.Engine
	indexService *index.Service
	searchDB     searchdb.DB
}

func setupTestServer(t *testing.T, assert *require.Assertions) *testServer {

	t.Setenv("ENV", "test")
	t.Setenv("INDEX_PATH", filepath.Join(t.TempDir(), "indices"))
	t.Setenv("KVDB_PATH", filepath.Join(t.TempDir(), "settings.db"))

	cfg, err := config.Load()
	assert.NoError(err, "could not load config")

	testLogger := newTestLogger()

	searchDB, err := searchdb.NewBleve(testLogger, cfg.GetIndexPath(), cfg.GetScrollSize())
	assert.NoError(err, "could not create search database")
	for name, documents := range testIndices {
		_, err := searchDB.InsertDocuments(context.Background(), name, documents)
		assert.NoError(err, "could not load test index")
	}

	kvDB, err := kvdb.New(testLogger, cfg.GetKVDBPath())
	assert.NoError(err, "could not create kv database")

	validator, err := validation.New(testLogger)
	assert.NoError(err, "could not create validator")

	indexService := index.New(testLogger, searchDB, kvDB, cfg.GetDefaultIndex())
	searchService := search.New(testLogger, searchDB, cfg.GetRequestTimeout(), search.StudyLookup{
		ReportIndex:   cfg.GetReportIndex(),
		StudyIndex:    cfg.GetStudyIndex(),
		ReportIDField: cfg.GetReportIDField(),
		StudyIDField:  cfg.GetStudyIDField(),
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api")

	SetupIndex(api, testLogger, indexService, searchService, validator)
	SetupSearch(api, testLogger, indexService, searchService, validator, cfg.GetReturnField())
	SetupDocuments(api, testLogger, indexService, searchService, validator, cfg.GetReturnField())

	t.Cleanup(func() {
		assert.NoError(searchDB.Close(), "could not close search database")
		assert.NoError(kvDB.Close(), "could not close kv database")
	})

	return &testServer{router: router, indexService: indexService, searchDB: searchDB}
}

func makeTestHTTPRequest(router *gin.Engine, assert *require.Assertions, method string, endpoint string, headers map[string]string, requestBody any) *httptest.ResponseRecorder {

	var err error
	w := httptest.NewRecorder()

	var jsonBody []byte
	var req *http.Request
	if requestBody != nil {
		jsonBody, err = json.Marshal(requestBody)
		assert.NoError(err)
	}

	slog.Info("Making test request", "method", method, "endpoint", endpoint, "headers", headers, "body", string(jsonBody))

	if len(jsonBody) > 0 {
		req, err = http.NewRequest(method, endpoint, bytes.NewBuffer(jsonBody))
	} else {
		req, err = http.NewRequest(method, endpoint, nil)
	}
	assert.NoError(err)

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	router.ServeHTTP(w, req)

	return w
}

func decodeResponse(assert *require.Assertions, w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	assert.NoError(json.Unmarshal(w.Body.Bytes(), &body), "response is not a JSON object: %s", w.Body.String())
	return body
}

// responseValues collects field from every document of a {status, response} body.
func responseValues(assert *require.Assertions, body map[string]any, field string) []any {
	documents, ok := body["response"].([]any)
	assert.True(ok, "response is not a list: %v", body["response"])

	values := make([]any, 0, len(documents))
	for _, document := range documents {
		values = append(values, document.(map[string]any)[field])
	}
	return values
}
