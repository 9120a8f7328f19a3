package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/esgateway/config"
	"github.com/meghashyamc/esgateway/db/kvdb"
	"github.com/meghashyamc/esgateway/db/searchdb"
	"github.com/meghashyamc/esgateway/logger"
	"github.com/meghashyamc/esgateway/services/index"
	"github.com/meghashyamc/esgateway/services/search"
	"github.com/meghashyamc/esgateway/validation"
)

const (
	startupPingTimeout = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

type server struct {
	cfg           *config.Config
	router        *gin.Engine
	httpServer    *http.Server
	kvdb          kvdb.DB
	searchdb      searchdb.DB
	indexService  *index.Service
	searchService *search.Service
	validator     *validation.Validator
	logger        logger.Logger
}

// Run serves the API until ctx is done or the process is interrupted.
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s := &server{
		cfg:    cfg,
		logger: logger.New(cfg.GetLogLevel()),
	}
	if err := s.setupDependencies(ctx); err != nil {
		return err
	}
	defer s.closeDependencies()

	s.setupRouter()
	s.setupHTTPServer()

	return s.serve(ctx)
}

func (s *server) setupDependencies(ctx context.Context) error {
	var err error
	s.searchdb, err = s.newSearchDB()
	if err != nil {
		s.logger.Error("error creating searchDB", "err", err.Error())
		return err
	}
	s.pingSearchDB(ctx)

	s.kvdb, err = kvdb.New(s.logger, s.cfg.GetKVDBPath())
	if err != nil {
		s.logger.Error("error creating kvDB", "err", err.Error())
		s.searchdb.Close()
		return err
	}

	s.validator, err = validation.New(s.logger)
	if err != nil {
		s.logger.Error("error creating validator", "err", err.Error())
		s.closeDependencies()
		return err
	}

	s.indexService = index.New(s.logger, s.searchdb, s.kvdb, s.cfg.GetDefaultIndex())
	s.searchService = search.New(s.logger, s.searchdb, s.cfg.GetRequestTimeout(), search.StudyLookup{
		ReportIndex:   s.cfg.GetReportIndex(),
		StudyIndex:    s.cfg.GetStudyIndex(),
		ReportIDField: s.cfg.GetReportIDField(),
		StudyIDField:  s.cfg.GetStudyIDField(),
	})

	return nil
}

func (s *server) newSearchDB() (searchdb.DB, error) {
	backend := s.cfg.GetBackend()

	var db searchdb.DB
	var err error
	switch backend {
	case config.BackendBleve:
		db, err = searchdb.NewBleve(s.logger, s.cfg.GetIndexPath(), s.cfg.GetScrollSize())
	default:
		db, err = searchdb.NewElastic(s.logger, searchdb.ElasticConfig{
			Hosts:           s.cfg.GetElasticHosts(),
			Username:        s.cfg.GetElasticUsername(),
			Password:        s.cfg.GetElasticPassword(),
			MaxRetries:      s.cfg.GetElasticMaxRetries(),
			ScrollSize:      s.cfg.GetScrollSize(),
			ScrollKeepAlive: s.cfg.GetScrollKeepAlive(),
		})
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("using search backend", "backend", backend)
	return searchdb.NewInstrumented(db, backend), nil
}

// pingSearchDB only reports reachability, the server starts either way.
func (s *server) pingSearchDB(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()

	if err := s.searchdb.Ping(pingCtx); err != nil {
		s.logger.Warn("unable to connect to search backend", "backend", s.cfg.GetBackend(), "err", err.Error())
		return
	}
	s.logger.Info("connected to search backend", "backend", s.cfg.GetBackend())
}

func (s *server) setupRouter() {
	router := newRouter()

	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(s.logger))
	router.Use(rateLimitMiddleware(s.logger, s.cfg))

	setupRoutes(router, s.logger, s.searchdb, s.indexService, s.searchService, s.validator, s.cfg.GetReturnField())

	s.router = router
}

func (s *server) setupHTTPServer() {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.GetPort()),
		Handler:           s.router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *server) serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			s.logger.Error("http server failed", "err", err.Error())
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("starting to shut down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error shutting down http server", "err", err.Error())
		return err
	}
	s.logger.Info("shut down http server successfully")

	return nil
}

func (s *server) closeDependencies() {
	if s.kvdb != nil {
		if err := s.kvdb.Close(); err != nil {
			s.logger.Error("error closing kvDB", "err", err.Error())
		}
	}
	if s.searchdb != nil {
		if err := s.searchdb.Close(); err != nil {
			s.logger.Error("error closing searchDB", "err", err.Error())
		}
	}
}
