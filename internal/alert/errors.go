package alert

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when an alert does not exist or was deleted.
var ErrNotFound = errors.New("alert not found")

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

// ConflictError blocks deleting an alert that still has messages tagged with it.
type ConflictError struct {
	Count int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("fail to delete: %d messages depend on it", e.Count)
}
