package stream

import (
	"fmt"
	"net/http"

	"github.com/quartzdata/tap-prefect/pkg/config"
	"github.com/quartzdata/tap-prefect/pkg/pagination"
)

// EventsPageSize is the fixed page size for the events filter endpoint.
const EventsPageSize = 50

// excludedEventNames filters out a known noisy internal log event.
var excludedEventNames = []string{"prefect.log.write"}

// sortExpectedStartTimeAsc orders filter results so the replication key
// grows monotonically within a run.
const sortExpectedStartTimeAsc = "EXPECTED_START_TIME_ASC"

// FlowRunsSource extracts flow runs incrementally by expected start time.
type FlowRunsSource struct {
	def      Definition
	pageSize int
}

// NewFlowRuns creates the flow_runs record source.
func NewFlowRuns(cfg config.Config) *FlowRunsSource {
	return &FlowRunsSource{
		def: Definition{
			Name:           "flow_runs",
			Path:           cfg.WorkspacePath() + "/flow_runs/filter",
			Method:         http.MethodPost,
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "expected_start_time",
		},
		pageSize: cfg.PageSize,
	}
}

// Definition implements Source.
func (s *FlowRunsSource) Definition() Definition { return s.def }

// NewPaginator implements Source.
func (s *FlowRunsSource) NewPaginator() pagination.Paginator {
	return pagination.NewOffsetPaginator(s.pageSize)
}

// Payload implements Source. Records are filtered to those whose expected
// start time is after the run's starting replication value.
func (s *FlowRunsSource) Payload(run *Run, tok pagination.PageToken) (map[string]any, error) {
	offset := 0
	if n, ok := tok.Offset(); ok {
		offset = n
	}

	return map[string]any{
		"sort":   sortExpectedStartTimeAsc,
		"offset": offset,
		"limit":  s.pageSize,
		"flow_runs": map[string]any{
			"expected_start_time": map[string]any{"after_": run.Cursor},
		},
	}, nil
}

// ChildContext implements Source: each flow run scopes one task_runs run.
func (s *FlowRunsSource) ChildContext(rec Record) Context {
	return Context{"flow_id": rec["id"]}
}

// TaskRunsSource extracts task runs for one parent flow run. It has no
// replication key of its own and deliberately ignores any inherited
// cursor: the parent context alone scopes its requests, so it never
// partitions state per flow run.
type TaskRunsSource struct {
	def      Definition
	pageSize int
}

// NewTaskRuns creates the task_runs record source.
func NewTaskRuns(cfg config.Config) *TaskRunsSource {
	return &TaskRunsSource{
		def: Definition{
			Name:        "task_runs",
			Path:        cfg.WorkspacePath() + "/task_runs/filter",
			Method:      http.MethodPost,
			PrimaryKeys: []string{"id"},
			Parent:      "flow_runs",
		},
		pageSize: cfg.PageSize,
	}
}

// Definition implements Source.
func (s *TaskRunsSource) Definition() Definition { return s.def }

// NewPaginator implements Source.
func (s *TaskRunsSource) NewPaginator() pagination.Paginator {
	return pagination.NewOffsetPaginator(s.pageSize)
}

// Payload implements Source. The filter binds task runs to the singleton
// set containing the parent context's flow identifier.
func (s *TaskRunsSource) Payload(run *Run, tok pagination.PageToken) (map[string]any, error) {
	flowID, ok := run.Context["flow_id"]
	if !ok {
		return nil, fmt.Errorf("task_runs requires a flow_id context")
	}

	offset := 0
	if n, ok := tok.Offset(); ok {
		offset = n
	}

	return map[string]any{
		"sort":   sortExpectedStartTimeAsc,
		"offset": offset,
		"limit":  s.pageSize,
		"flow_runs": map[string]any{
			"id": map[string]any{"any_": []any{flowID}},
		},
	}, nil
}

// ChildContext implements Source.
func (s *TaskRunsSource) ChildContext(rec Record) Context { return nil }

// EventsSource extracts workspace events incrementally by occurrence time.
// The first page is a POST filter request; every subsequent page follows
// the response's next_page resumption link with a bare GET.
type EventsSource struct {
	def Definition
}

// NewEvents creates the events record source.
func NewEvents(cfg config.Config) *EventsSource {
	return &EventsSource{
		def: Definition{
			Name:           "events",
			Path:           cfg.WorkspacePath() + "/events/filter",
			Method:         http.MethodPost,
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "occurred",
			RecordsPath:    "events",
		},
	}
}

// Definition implements Source.
func (s *EventsSource) Definition() Definition { return s.def }

// NewPaginator implements Source.
func (s *EventsSource) NewPaginator() pagination.Paginator {
	return pagination.NewLinkPaginator(pagination.DefaultLinkField)
}

// Payload implements Source. A resumption token fully encodes the next
// request, so the payload must be absent on every page but the first;
// re-sending filter parameters would conflict with the link's query.
func (s *EventsSource) Payload(run *Run, tok pagination.PageToken) (map[string]any, error) {
	if !tok.IsNone() {
		return nil, nil
	}

	return map[string]any{
		"limit": EventsPageSize,
		"filter": map[string]any{
			"occurred": map[string]any{"since": run.Cursor},
			"event":    map[string]any{"exclude_name": excludedEventNames},
			"order":    "ASC",
		},
	}, nil
}

// ChildContext implements Source.
func (s *EventsSource) ChildContext(rec Record) Context { return nil }
