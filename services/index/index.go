package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/meghashyamc/esgateway/db/kvdb"
	"github.com/meghashyamc/esgateway/logger"
)

var ErrEmptyIndexName = errors.New("index name cannot be empty")

// Service holds the default index searched when a request names none. Reads
// and writes are guarded so handlers can read it once and pass it along.
type Service struct {
	logger   logger.Logger
	checker  IndexChecker
	settings SettingsStore
	// defaultIndex is used when nothing is persisted
	defaultIndex string

	mu      sync.RWMutex
	current string
}

// New starts from the persisted current index if there is one, otherwise from
// defaultIndex.
func New(logger logger.Logger, checker IndexChecker, settings SettingsStore, defaultIndex string) *Service {
	service := &Service{
		logger:   logger,
		checker:  checker,
		settings:     settings,
		defaultIndex: defaultIndex,
		current:      defaultIndex,
	}

	persisted, err := settings.Get(kvdb.SettingsBucket, kvdb.CurrentIndexKey)
	switch {
	case err == nil && len(persisted) > 0:
		service.current = persisted
		logger.Info("restored current index", "index", persisted)
	case err != nil && !errors.Is(err, kvdb.ErrNotFound):
		logger.Warn("could not read persisted current index, using default", "index", defaultIndex, "err", err.Error())
	}

	return service
}

func (s *Service) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the current index and returns the previous and the new value.
// An index the engine does not know is accepted with a warning, since
// wildcard patterns and aliases are valid targets too. Setting the configured
// default clears the persisted value so later config changes take effect.
func (s *Service) Set(ctx context.Context, name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return "", "", ErrEmptyIndexName
	}

	s.logIndexExistence(ctx, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(name); err != nil {
		s.logger.Error("could not persist current index", "index", name, "err", err.Error())
		return s.current, s.current, fmt.Errorf("could not persist current index: %w", err)
	}

	old := s.current
	s.current = name
	s.logger.Info("current index changed", "old_index", old, "index", name)

	return old, name, nil
}

func (s *Service) persist(name string) error {
	if name == s.defaultIndex {
		return s.settings.Delete(kvdb.SettingsBucket, kvdb.CurrentIndexKey)
	}
	return s.settings.Set(kvdb.SettingsBucket, kvdb.CurrentIndexKey, name)
}

func (s *Service) logIndexExistence(ctx context.Context, name string) {
	exists, err := s.checker.IndexExists(ctx, name)
	if err != nil {
		s.logger.Warn("could not check whether index exists", "index", name, "err", err.Error())
		return
	}
	if !exists {
		s.logger.Warn("index does not exist, ignore this if you are using a wildcard", "index", name)
		return
	}
	s.logger.Info("index exists", "index", name)
}
