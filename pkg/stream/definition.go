package stream

import (
	"fmt"

	"github.com/quartzdata/tap-prefect/pkg/pagination"
)

// Record is one extracted record object.
type Record map[string]any

// Definition identifies a record source: its endpoint, keys, and how
// records are located in responses. Immutable once constructed; one
// instance per record kind.
type Definition struct {
	// Name is the stream name (flow_runs, task_runs, events).
	Name string

	// Path is the filter endpoint, already rendered with account and
	// workspace identifiers.
	Path string

	// Method is the HTTP verb for filter requests.
	Method string

	// PrimaryKeys must be present and non-null on every emitted record.
	PrimaryKeys []string

	// ReplicationKey is the incremental bookmark field; empty for full
	// re-extraction streams.
	ReplicationKey string

	// RecordsPath locates the record list in the response body; empty
	// means the body itself is the list.
	RecordsPath string

	// Parent names the record source whose records scope this one.
	Parent string
}

// Source is the per-record-source strategy: it owns the payload and
// pagination rules for one kind of entity, selected at construction
// time rather than via runtime type checks.
type Source interface {
	// Definition returns the source's immutable definition.
	Definition() Definition

	// NewPaginator returns a fresh paginator for one run.
	NewPaginator() pagination.Paginator

	// Payload builds the JSON request body for one page. A nil payload
	// with a nil error means the request carries no body.
	Payload(run *Run, tok pagination.PageToken) (map[string]any, error)

	// ChildContext derives the scoping context handed to dependent
	// sources for one emitted record. Returns nil when the source has
	// no dependents.
	ChildContext(rec Record) Context
}

// validatePrimaryKeys enforces the emission invariant: every primary-key
// field must be present and non-null.
func validatePrimaryKeys(def Definition, rec Record) error {
	for _, pk := range def.PrimaryKeys {
		v, ok := rec[pk]
		if !ok || v == nil {
			return fmt.Errorf("stream %s: record missing primary key %q", def.Name, pk)
		}
	}
	return nil
}
