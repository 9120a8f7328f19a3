package searchdb

import (
	"errors"
	"fmt"
)

// Document is a source document exactly as the engine stores it.
type Document = map[string]any

const typeIndexNotFound = "index_not_found_exception"

var ErrIndexNotFound = errors.New("index not found")

// EngineError is a failure reported by the search engine itself.
type EngineError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *EngineError) Error() string {
	if len(e.Type) == 0 {
		return fmt.Sprintf("search engine returned status %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("search engine returned status %d: [%s] %s", e.StatusCode, e.Type, e.Reason)
}

func (e *EngineError) Is(target error) bool {
	return target == ErrIndexNotFound && e.Type == typeIndexNotFound
}

func indexNotFoundError(index string) *EngineError {
	return &EngineError{
		StatusCode: 404,
		Type:       typeIndexNotFound,
		Reason:     fmt.Sprintf("no such index [%s]", index),
	}
}
