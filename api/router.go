package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/esgateway/api/handlers"
	"github.com/meghashyamc/esgateway/logger"
	"github.com/meghashyamc/esgateway/metrics"
	"github.com/meghashyamc/esgateway/services/index"
	"github.com/meghashyamc/esgateway/services/search"
	"github.com/meghashyamc/esgateway/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	livenessMessage = "Elastic search API is online :)"
	healthTimeout   = 3 * time.Second
)

// Pinger is the part of the search database the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

func setupRoutes(router *gin.Engine, logger logger.Logger, pinger Pinger, indexService *index.Service, searchService *search.Service, validator *validation.Validator, defaultField string) {
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, livenessMessage)
	})
	router.GET("/health", health(logger, pinger))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	handlers.SetupIndex(api, logger, indexService, searchService, validator)
	handlers.SetupSearch(api, logger, indexService, searchService, validator, defaultField)
	handlers.SetupDocuments(api, logger, indexService, searchService, validator, defaultField)
}

// health reports whether the search backend answers.
func health(logger logger.Logger, pinger Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			logger.Warn("health check failed", "err", err.Error())
			c.String(http.StatusServiceUnavailable, "search backend unavailable")
			return
		}
		c.String(http.StatusOK, "OK")
	}
}

func newRouter() *gin.Engine {
	router := gin.New()
	router.UseRawPath = true
	router.Use(_CORSMiddleware())
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())

	return router
}
