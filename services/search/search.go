package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meghashyamc/esgateway/db/searchdb"
	"github.com/meghashyamc/esgateway/logger"
)

// MissingFieldValue stands in for the projected value of a document that does
// not have the requested field.
const MissingFieldValue = "error:field does not exist?!"

var (
	ErrEmptyQuery = errors.New("search query cannot be empty")
	ErrEmptyIndex = errors.New("index name cannot be empty")
	ErrEmptyField = errors.New("field name cannot be empty")
)

// Engine represents the search database operations the query service needs.
type Engine interface {
	Search(ctx context.Context, index string, queryString string) ([]searchdb.Document, error)
	CreateIndex(ctx context.Context, index string) (bool, error)
	InsertDocuments(ctx context.Context, index string, documents []searchdb.Document) (int, error)
}

// StudyLookup names the indices and fields joined when resolving report ids
// to study records.
type StudyLookup struct {
	ReportIndex   string
	StudyIndex    string
	ReportIDField string
	StudyIDField  string
}

type Service struct {
	logger         logger.Logger
	engine         Engine
	requestTimeout time.Duration
	studies        StudyLookup
}

func New(logger logger.Logger, engine Engine, requestTimeout time.Duration, studies StudyLookup) *Service {
	return &Service{
		logger:         logger,
		engine:         engine,
		requestTimeout: requestTimeout,
		studies:        studies,
	}
}

// Search runs a query string query against index and returns every match,
// either whole or reduced to the value of field.
func (s *Service) Search(ctx context.Context, index string, query string, field string, wholeDocuments bool) ([]any, error) {
	if len(strings.TrimSpace(query)) == 0 {
		return nil, ErrEmptyQuery
	}
	if !wholeDocuments && len(field) == 0 {
		return nil, ErrEmptyField
	}

	documents, err := s.search(ctx, index, query)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(documents))
	for _, doc := range documents {
		if wholeDocuments {
			results = append(results, doc)
			continue
		}
		value, ok := doc[field]
		if !ok {
			value = MissingFieldValue
		}
		results = append(results, value)
	}

	return results, nil
}

// Retrieve returns all documents of index whose field matches one of ids.
func (s *Service) Retrieve(ctx context.Context, index string, ids []string, field string) ([]searchdb.Document, error) {
	if len(field) == 0 {
		return nil, ErrEmptyField
	}

	query := BuildIDQuery(field, ids)
	if len(query) == 0 {
		s.logger.Info("no ids to retrieve", "index", index)
		return []searchdb.Document{}, nil
	}

	return s.search(ctx, index, query)
}

// StudiesFromReports resolves report ids to their study records: the study
// ids linked to the reports are looked up first, then the studies themselves.
func (s *Service) StudiesFromReports(ctx context.Context, reportIDs []string) ([]searchdb.Document, error) {
	reports, err := s.Retrieve(ctx, s.studies.ReportIndex, reportIDs, s.studies.ReportIDField)
	if err != nil {
		return nil, fmt.Errorf("could not retrieve reports: %w", err)
	}

	studyIDs := make([]string, 0, len(reports))
	for _, report := range reports {
		value, ok := report[s.studies.StudyIDField]
		if !ok || value == nil {
			s.logger.Warn("report has no study id", "field", s.studies.StudyIDField)
			continue
		}
		studyIDs = append(studyIDs, IDString(value))
	}

	studies, err := s.Retrieve(ctx, s.studies.StudyIndex, studyIDs, s.studies.StudyIDField)
	if err != nil {
		return nil, fmt.Errorf("could not retrieve studies: %w", err)
	}

	s.logger.Info("resolved studies from reports", "reports", len(reports), "studies", len(studies))
	return studies, nil
}

// CreateIndex creates index unless it already exists and reports whether it
// was created.
func (s *Service) CreateIndex(ctx context.Context, index string) (bool, error) {
	if len(strings.TrimSpace(index)) == 0 {
		return false, ErrEmptyIndex
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	created, err := s.engine.CreateIndex(ctx, index)
	if err != nil {
		s.logger.Error("could not create index", "index", index, "err", err.Error())
		return false, err
	}
	return created, nil
}

func (s *Service) InsertDocuments(ctx context.Context, index string, documents []searchdb.Document) (int, error) {
	if len(strings.TrimSpace(index)) == 0 {
		return 0, ErrEmptyIndex
	}
	if len(documents) == 0 {
		return 0, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	inserted, err := s.engine.InsertDocuments(ctx, index, documents)
	if err != nil {
		s.logger.Error("could not insert documents", "index", index, "inserted", inserted, "err", err.Error())
		return inserted, err
	}

	s.logger.Info("inserted documents", "index", index, "count", inserted)
	return inserted, nil
}

func (s *Service) search(ctx context.Context, index string, query string) ([]searchdb.Document, error) {
	if len(strings.TrimSpace(index)) == 0 {
		return nil, ErrEmptyIndex
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.logger.Debug("running query", "index", index, "query", query)
	documents, err := s.engine.Search(ctx, index, query)
	if err != nil {
		s.logger.Error("search failed", "index", index, "err", err.Error())
		return nil, err
	}

	s.logger.Info("found search results", "index", index, "count", len(documents))
	return documents, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

// BuildIDQuery joins ids into `field:"id1" OR field:"id2" ...`. Ids are
// trimmed, blank ids dropped and duplicates kept only at their first position.
func BuildIDQuery(field string, ids []string) string {
	seen := make(map[string]struct{}, len(ids))
	clauses := make([]string, 0, len(ids))

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if len(id) == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clauses = append(clauses, fmt.Sprintf(`%s:"%s"`, field, quoteEscaper.Replace(id)))
	}

	return strings.Join(clauses, " OR ")
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// IDString renders an id value taken from a document or a request the way it
// appears in a query.
func IDString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
