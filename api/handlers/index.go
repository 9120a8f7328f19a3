package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/esgateway/logger"
	"github.com/meghashyamc/esgateway/services/index"
	"github.com/meghashyamc/esgateway/services/search"
	"github.com/meghashyamc/esgateway/validation"
)

type SetIndexRequest struct {
	Input string `json:"input" validate:"required,valid_index"`
}

type CreateIndexRequest struct {
	Input string `json:"input" validate:"required,valid_index"`
}

type currentIndexResponse struct {
	Status      int    `json:"status"`
	CurrentName string `json:"current_name"`
}

type setIndexResponse struct {
	Status      int    `json:"status"`
	OldName     string `json:"old_name"`
	CurrentName string `json:"current_name"`
}

type createIndexResponse struct {
	Index   string `json:"index"`
	Created bool   `json:"created"`
}

func SetupIndex(router gin.IRoutes, logger logger.Logger, indexService *index.Service, searchService *search.Service, validator *validation.Validator) {
	router.GET("/get_current_index", handleGetCurrentIndex(indexService))
	handleGetAndPost(router, "/set_current_index", handleSetCurrentIndex(indexService, logger, validator))
	router.POST("/create_index", handleCreateIndex(searchService, logger, validator))
}

func handleGetCurrentIndex(indexService *index.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, currentIndexResponse{
			Status:      http.StatusOK,
			CurrentName: indexService.Current(),
		})
	}
}

func handleSetCurrentIndex(indexService *index.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := SetIndexRequest{}
		if err := c.ShouldBindJSON(&request); err != nil {
			logger.Warn("could not extract expected params from set index request", "err", err.Error())
			c.AbortWithStatusJSON(http.StatusOK, errorResponse{Error: missingIndexMessage})
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate set index request", "err", err.Error())
			message := err.Error()
			if len(request.Input) == 0 {
				message = missingIndexMessage
			}
			c.AbortWithStatusJSON(http.StatusOK, errorResponse{Error: message})
			return
		}

		oldName, currentName, err := indexService.Set(c.Request.Context(), request.Input)
		if err != nil {
			logger.Error("could not set current index", "err", err.Error())
			c.AbortWithStatusJSON(errorStatusForHTTP(err), errorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, setIndexResponse{
			Status:      http.StatusOK,
			OldName:     oldName,
			CurrentName: currentName,
		})
	}
}

func handleCreateIndex(searchService *search.Service, logger logger.Logger, validator *validation.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := CreateIndexRequest{}
		if err := c.ShouldBindJSON(&request); err != nil {
			logger.Warn("could not extract expected params from create index request", "err", err.Error())
			c.Abort()
			writeResponse(c, http.StatusBadRequest, missingIndexMessage)
			return
		}

		if err := validator.Validate(request); err != nil {
			logger.Warn("could not validate create index request", "err", err.Error())
			c.Abort()
			writeResponse(c, http.StatusBadRequest, err.Error())
			return
		}

		created, err := searchService.CreateIndex(c.Request.Context(), request.Input)
		if err != nil {
			writeServiceError(c, err)
			return
		}

		writeResponse(c, http.StatusOK, createIndexResponse{Index: request.Input, Created: created})
	}
}

// errorStatusForHTTP is the HTTP status for endpoints that answer with a bare
// error object.
func errorStatusForHTTP(err error) int {
	if status := errorStatus(err); status >= http.StatusInternalServerError {
		return status
	}
	return http.StatusOK
}
