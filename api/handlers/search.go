package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/esgateway/logger"
	"github.com/meghashyamc/esgateway/services/index"
	"github.com/meghashyamc/esgateway/services/search"
	"github.com/meghashyamc/esgateway/validation"
)

type SearchRequest struct {
	Input    string `json:"input" validate:"required,valid_query,max=10000"`
	RetField string `json:"ret_field" validate:"valid_field"`
}

type DirectRetrievalRequest struct {
	Input string `json:"input" validate:"required,valid_query,max=10000"`
	Index string `json:"index" validate:"valid_index"`
}

func SetupSearch(router gin.IRoutes, logger logger.Logger, indexService *index.Service, searchService *search.Service, validator *validation.Validator, defaultField string) {
	handleGetAndPost(router, "/search_query", handleSearchQuery(indexService, searchService, logger, validator, defaultField))
	handleGetAndPost(router, "/direct_retrieval", handleDirectRetrieval(indexService, searchService, logger, validator))
}

// handleSearchQuery returns one field of every document matching the query
// in the current index.
func handleSearchQuery(indexService *index.Service, searchService *search.Service, logger logger.Logger, validator *validation.Validator, defaultField string) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := SearchRequest{}
		if !bindQueryRequest(c, logger, validator, &request, &request.Input) {
			return
		}
		if len(request.RetField) == 0 {
			request.RetField = defaultField
		}

		results, err := searchService.Search(c.Request.Context(), indexService.Current(), request.Input, request.RetField, false)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		writeResponse(c, http.StatusOK, results)
	}
}

// handleDirectRetrieval returns whole documents matching the query, from the
// requested index or the current one. The current index is left unchanged.
func handleDirectRetrieval(indexService *index.Service, searchService *search.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := DirectRetrievalRequest{}
		if !bindQueryRequest(c, logger, validator, &request, &request.Input) {
			return
		}

		indexName := request.Index
		if len(indexName) == 0 {
			indexName = indexService.Current()
		}

		results, err := searchService.Search(c.Request.Context(), indexName, request.Input, "", true)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		writeResponse(c, http.StatusOK, results)
	}
}

// bindQueryRequest decodes and validates a request whose input is a query.
// It writes the 400 answer itself and reports whether the handler may go on.
func bindQueryRequest(c *gin.Context, logger logger.Logger, validator *validation.Validator, request any, input *string) bool {
	if err := c.ShouldBindJSON(request); err != nil {
		logger.Warn("could not extract expected params from search request", "err", err.Error())
		c.Abort()
		writeResponse(c, http.StatusBadRequest, missingQueryMessage)
		return false
	}

	if len(strings.TrimSpace(*input)) == 0 {
		logger.Warn("search request has no query")
		c.Abort()
		writeResponse(c, http.StatusBadRequest, missingQueryMessage)
		return false
	}

	if err := validator.Validate(request); err != nil {
		logger.Warn("could not validate search request", "err", err.Error())
		c.Abort()
		writeResponse(c, http.StatusBadRequest, err.Error())
		return false
	}

	return true
}
