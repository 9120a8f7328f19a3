package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/esgateway/db/searchdb"
	"github.com/meghashyamc/esgateway/services/index"
	"github.com/meghashyamc/esgateway/services/search"
)

const (
	missingQueryMessage = `Your request did not include a search query. Try including a key-value pair in this format: {"input":"title:\"genome dried\"~15"}`
	missingIDsMessage   = `Your query did not contain the JSON entry for 'input' key. You need to give a list of values, eg {'input'=['W1234', 'W5678']}`
	missingIndexMessage = `Error, make sure to send a json request body that contains data in this format: {"input":"medrxiv-preprints"}`
)

// response carries its own status next to the payload. Client errors are
// reported in that field with HTTP 200, only server errors change the HTTP
// status.
type response struct {
	Status   int `json:"status"`
	Response any `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeResponse(c *gin.Context, statusCode int, data any) {
	httpStatus := http.StatusOK
	if statusCode >= http.StatusInternalServerError {
		httpStatus = statusCode
	}

	c.JSON(httpStatus, response{
		Status:   statusCode,
		Response: data,
	})
}

func writeServiceError(c *gin.Context, err error) {
	c.Abort()
	writeResponse(c, errorStatus(err), err.Error())
}

func errorStatus(err error) int {
	var engineErr *searchdb.EngineError
	switch {
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrEmptyIndex),
		errors.Is(err, search.ErrEmptyField),
		errors.Is(err, index.ErrEmptyIndexName):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &engineErr) && engineErr.StatusCode >= 400 && engineErr.StatusCode < 500:
		return engineErr.StatusCode
	default:
		return http.StatusInternalServerError
	}
}

// handleGetAndPost registers handler for both methods, clients send the JSON
// body with either.
func handleGetAndPost(router gin.IRoutes, path string, handler gin.HandlerFunc) {
	router.GET(path, handler)
	router.POST(path, handler)
}
