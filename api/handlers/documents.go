package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/esgateway/db/searchdb"
	"github.com/meghashyamc/esgateway/logger"
	"github.com/meghashyamc/esgateway/services/index"
	"github.com/meghashyamc/esgateway/services/search"
	"github.com/meghashyamc/esgateway/validation"
)

var errInvalidID = errors.New("ids must be strings or numbers")

type GetDocumentsRequest struct {
	Input    []json.RawMessage `json:"input" validate:"required,min=1,max=10000"`
	RetField string            `json:"ret_field" validate:"valid_field"`
}

type StudiesRequest struct {
	Input []json.RawMessage `json:"input" validate:"required,min=1,max=10000"`
}

type InsertDocumentsRequest struct {
	Input []searchdb.Document `json:"input" validate:"required,min=1,max=10000"`
	Index string              `json:"index" validate:"valid_index"`
}

type insertDocumentsResponse struct {
	Index    string `json:"index"`
	Inserted int    `json:"inserted"`
}

func SetupDocuments(router gin.IRoutes, logger logger.Logger, indexService *index.Service, searchService *search.Service, validator *validation.Validator, defaultField string) {
	handleGetAndPost(router, "/get_documents", handleGetDocuments(indexService, searchService, logger, validator, defaultField))
	handleGetAndPost(router, "/studyfromreportid", handleStudiesFromReports(searchService, logger, validator))
	router.POST("/insert_document", handleInsertDocuments(indexService, searchService, logger, validator))
}

// handleGetDocuments returns the documents of the current index whose
// ret_field matches one of the given ids.
func handleGetDocuments(indexService *index.Service, searchService *search.Service, logger logger.Logger, validator *validation.Validator, defaultField string) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := GetDocumentsRequest{}
		ids, ok := bindIDsRequest(c, logger, validator, &request, &request.Input, missingIDsMessage)
		if !ok {
			return
		}
		if len(request.RetField) == 0 {
			request.RetField = defaultField
		}

		documents, err := searchService.Retrieve(c.Request.Context(), indexService.Current(), ids, request.RetField)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		writeResponse(c, http.StatusOK, documents)
	}
}

func handleStudiesFromReports(searchService *search.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := StudiesRequest{}
		ids, ok := bindIDsRequest(c, logger, validator, &request, &request.Input, missingQueryMessage)
		if !ok {
			return
		}

		studies, err := searchService.StudiesFromReports(c.Request.Context(), ids)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		writeResponse(c, http.StatusOK, studies)
	}
}

// handleInsertDocuments indexes the given documents into the requested index
// or the current one. Numbers are kept as written.
func handleInsertDocuments(indexService *index.Service, searchService *search.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := InsertDocumentsRequest{}
		decoder := json.NewDecoder(c.Request.Body)
		decoder.UseNumber()
		if err := decoder.Decode(&request); err != nil {
			logger.Warn("could not extract expected params from insert request", "err", err.Error())
			c.Abort()
			writeResponse(c, http.StatusBadRequest, "failed to extract request body parameters")
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate insert request", "err", err.Error())
			c.Abort()
			writeResponse(c, http.StatusBadRequest, err.Error())
			return
		}

		indexName := request.Index
		if len(indexName) == 0 {
			indexName = indexService.Current()
		}

		inserted, err := searchService.InsertDocuments(c.Request.Context(), indexName, request.Input)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		writeResponse(c, http.StatusOK, insertDocumentsResponse{Index: indexName, Inserted: inserted})
	}
}

// bindIDsRequest decodes and validates a request whose input is a list of
// ids and returns the ids as query text.
func bindIDsRequest(c *gin.Context, logger logger.Logger, validator *validation.Validator, request any, input *[]json.RawMessage, missingMessage string) ([]string, bool) {
	if err := c.ShouldBindJSON(request); err != nil {
		logger.Warn("could not extract expected params from ids request", "err", err.Error())
		c.Abort()
		writeResponse(c, http.StatusBadRequest, missingMessage)
		return nil, false
	}

	if len(*input) == 0 {
		logger.Warn("ids request has no ids")
		c.Abort()
		writeResponse(c, http.StatusBadRequest, missingMessage)
		return nil, false
	}

	if err := validator.Validate(request); err != nil {
		logger.Warn("could not validate ids request", "err", err.Error())
		c.Abort()
		writeResponse(c, http.StatusBadRequest, err.Error())
		return nil, false
	}

	ids, err := parseIDs(*input)
	if err != nil {
		logger.Warn("could not parse ids", "err", err.Error())
		c.Abort()
		writeResponse(c, http.StatusBadRequest, err.Error())
		return nil, false
	}

	return ids, true
}

// parseIDs turns JSON strings and numbers into id text. Numbers keep their
// literal form so large ids do not lose precision. Nulls are skipped.
func parseIDs(raw []json.RawMessage) ([]string, error) {
	ids := make([]string, 0, len(raw))
	for _, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) == 0 || bytes.Equal(value, []byte("null")) {
			continue
		}

		switch value[0] {
		case '"':
			var id string
			if err := json.Unmarshal(value, &id); err != nil {
				return nil, errInvalidID
			}
			ids = append(ids, id)
		case '{', '[', 't', 'f':
			return nil, errInvalidID
		default:
			var number json.Number
			if err := json.Unmarshal(value, &number); err != nil {
				return nil, errInvalidID
			}
			ids = append(ids, number.String())
		}
	}

	return ids, nil
}
