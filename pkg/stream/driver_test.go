package stream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzdata/tap-prefect/internal/testutil"
	"github.com/quartzdata/tap-prefect/pkg/client"
	"github.com/quartzdata/tap-prefect/pkg/config"
	"github.com/quartzdata/tap-prefect/pkg/state"
)

const (
	flowRunsPath = "/accounts/acct/workspaces/ws/flow_runs/filter"
	taskRunsPath = "/accounts/acct/workspaces/ws/task_runs/filter"
	eventsPath   = "/accounts/acct/workspaces/ws/events/filter"
)

// emitted is one record captured by the test collector.
type emitted struct {
	stream string
	rec    Record
}

// collector is a RecordHandler capturing records in emission order.
type collector struct {
	records []emitted
	fail    error
}

func (c *collector) HandleRecord(stream string, rec Record) error {
	if c.fail != nil {
		return c.fail
	}
	c.records = append(c.records, emitted{stream: stream, rec: rec})
	return nil
}

func (c *collector) streams() []string {
	out := make([]string, len(c.records))
	for i, e := range c.records {
		out[i] = e.stream
	}
	return out
}

type harness struct {
	mock   *testutil.MockPrefect
	driver *Driver
	sink   *collector
	store  *state.MemoryStore
	cfg    config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mock := testutil.NewMockPrefect()
	t.Cleanup(mock.Close)

	cfg := testStreamConfig()
	cfg.PageSize = 2
	cfg.BaseURL = mock.URL()

	ccfg := client.DefaultConfig("test-key")
	ccfg.BaseURL = mock.URL()
	ccfg.Retry = client.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	c, err := client.New(ccfg)
	require.NoError(t, err)

	sink := &collector{}
	store := state.NewMemoryStore()
	driver := NewDriver(c, store, sink, cfg.StartDate)

	return &harness{mock: mock, driver: driver, sink: sink, store: store, cfg: cfg}
}

func (h *harness) registerFlowAndTaskRuns() {
	h.driver.Register(NewFlowRuns(h.cfg))
	h.driver.Register(NewTaskRuns(h.cfg))
}

func TestDriver_ParentChildFanOut(t *testing.T) {
	h := newHarness(t)
	h.registerFlowAndTaskRuns()

	h.mock.SetPagedFilterResponse(flowRunsPath, []map[string]any{
		testutil.FlowRun(1, "2023-03-01T00:00:00Z"),
		testutil.FlowRun(2, "2023-03-02T00:00:00Z"),
	}, 2)
	h.mock.SetJSONResponse(taskRunsPath, http.StatusOK, `[{"id": "t1"}]`)

	require.NoError(t, h.driver.Sync(context.Background()))

	// Each parent record triggers exactly one scoped child run.
	taskReqs := h.mock.RequestsTo(taskRunsPath)
	require.Len(t, taskReqs, 2)

	body1, err := taskReqs[0].JSONBody()
	require.NoError(t, err)
	ids1 := body1["flow_runs"].(map[string]any)["id"].(map[string]any)["any_"].([]any)
	assert.Equal(t, []any{float64(1)}, ids1)

	body2, err := taskReqs[1].JSONBody()
	require.NoError(t, err)
	ids2 := body2["flow_runs"].(map[string]any)["id"].(map[string]any)["any_"].([]any)
	assert.Equal(t, []any{float64(2)}, ids2)
}

func TestDriver_EmitsRecordsInResponseOrder(t *testing.T) {
	h := newHarness(t)
	h.registerFlowAndTaskRuns()

	h.mock.SetPagedFilterResponse(flowRunsPath, []map[string]any{
		testutil.FlowRun(1, "2023-03-01T00:00:00Z"),
		testutil.FlowRun(2, "2023-03-02T00:00:00Z"),
	}, 2)
	h.mock.SetJSONResponse(taskRunsPath, http.StatusOK, `[{"id": "t1"}]`)

	require.NoError(t, h.driver.Sync(context.Background()))

	// Parent record, then its child run, then the next parent record.
	assert.Equal(t, []string{"flow_runs", "task_runs", "flow_runs", "task_runs"}, h.sink.streams())
	assert.Equal(t, float64(1), h.sink.records[0].rec["id"])
	assert.Equal(t, float64(2), h.sink.records[2].rec["id"])
}

func TestDriver_OffsetPaginationTerminates(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewFlowRuns(h.cfg))

	// Three records with page size two: full page, then short page.
	h.mock.SetPagedFilterResponse(flowRunsPath, []map[string]any{
		testutil.FlowRun(1, "2023-03-01T00:00:00Z"),
		testutil.FlowRun(2, "2023-03-02T00:00:00Z"),
		testutil.FlowRun(3, "2023-03-03T00:00:00Z"),
	}, 2)

	require.NoError(t, h.driver.Sync(context.Background()))

	reqs := h.mock.RequestsTo(flowRunsPath)
	require.Len(t, reqs, 2, "full page then short page, no further requests")
	assert.Len(t, h.sink.records, 3)

	body2, err := reqs[1].JSONBody()
	require.NoError(t, err)
	assert.Equal(t, float64(2), body2["offset"])
}

func TestDriver_FlowRunsUsesStartDateWithoutBookmark(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewFlowRuns(h.cfg))
	h.mock.SetJSONResponse(flowRunsPath, http.StatusOK, `[]`)

	require.NoError(t, h.driver.Sync(context.Background()))

	body, err := h.mock.RequestsTo(flowRunsPath)[0].JSONBody()
	require.NoError(t, err)
	filter := body["flow_runs"].(map[string]any)["expected_start_time"].(map[string]any)
	assert.Equal(t, h.cfg.StartDate, filter["after_"])
}

func TestDriver_FlowRunsUsesStoredBookmark(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewFlowRuns(h.cfg))
	h.mock.SetJSONResponse(flowRunsPath, http.StatusOK, `[]`)

	bookmark := "2023-09-01T00:00:00Z"
	require.NoError(t, h.store.SetBookmark(context.Background(), "flow_runs", "", bookmark))

	require.NoError(t, h.driver.Sync(context.Background()))

	body, err := h.mock.RequestsTo(flowRunsPath)[0].JSONBody()
	require.NoError(t, err)
	filter := body["flow_runs"].(map[string]any)["expected_start_time"].(map[string]any)
	assert.Equal(t, bookmark, filter["after_"])
}

func TestDriver_CommitsCursorAtEndOfRun(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewFlowRuns(h.cfg))

	h.mock.SetPagedFilterResponse(flowRunsPath, []map[string]any{
		testutil.FlowRun(1, "2023-03-01T00:00:00Z"),
		testutil.FlowRun(2, "2023-03-02T00:00:00Z"),
		testutil.FlowRun(3, "2023-02-15T00:00:00Z"),
	}, 2)

	require.NoError(t, h.driver.Sync(context.Background()))

	val, err := h.store.Bookmark(context.Background(), "flow_runs", "")
	require.NoError(t, err)
	assert.Equal(t, "2023-03-02T00:00:00Z", val, "cursor is the maximum replication value seen")
}

func TestDriver_FailureDoesNotAdvanceCursor(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewFlowRuns(h.cfg))

	h.mock.SetJSONResponse(flowRunsPath, http.StatusBadGateway, `{"detail": "upstream down"}`)

	err := h.driver.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow_runs")

	val, storeErr := h.store.Bookmark(context.Background(), "flow_runs", "")
	require.NoError(t, storeErr)
	assert.Equal(t, "", val, "partial progress must not be committed")
}

func TestDriver_ChildFailureAbortsParentRun(t *testing.T) {
	h := newHarness(t)
	h.registerFlowAndTaskRuns()

	h.mock.SetPagedFilterResponse(flowRunsPath, []map[string]any{
		testutil.FlowRun(1, "2023-03-01T00:00:00Z"),
	}, 2)
	h.mock.SetJSONResponse(taskRunsPath, http.StatusNotFound, `{"detail": "nope"}`)

	err := h.driver.Sync(context.Background())
	require.Error(t, err)

	val, _ := h.store.Bookmark(context.Background(), "flow_runs", "")
	assert.Equal(t, "", val)
}

func TestDriver_PrimaryKeyInvariant(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewFlowRuns(h.cfg))

	h.mock.SetJSONResponse(flowRunsPath, http.StatusOK,
		`[{"name": "no-id", "expected_start_time": "2023-03-01T00:00:00Z"}]`)

	err := h.driver.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary key")
}

func TestDriver_EventsFollowsResumptionLink(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewEvents(h.cfg))

	h.mock.SetEventPages(eventsPath, [][]map[string]any{
		{testutil.Event("e1", "2023-04-01T00:00:00Z"), testutil.Event("e2", "2023-04-02T00:00:00Z")},
		{testutil.Event("e3", "2023-04-03T00:00:00Z")},
	})

	require.NoError(t, h.driver.Sync(context.Background()))

	reqs := h.mock.Requests()
	require.Len(t, reqs, 2)

	// First request: POST filter with the incremental payload.
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, eventsPath, reqs[0].Path)
	body, err := reqs[0].JSONBody()
	require.NoError(t, err)
	assert.Equal(t, h.cfg.StartDate, body["filter"].(map[string]any)["occurred"].(map[string]any)["since"])

	// Second request: bare GET to the exact resumption link, no body.
	assert.Equal(t, http.MethodGet, reqs[1].Method)
	assert.Equal(t, "/events/page/1", reqs[1].Path)
	assert.Empty(t, reqs[1].Body)

	// Records arrive in page order and the cursor lands on the max occurred.
	assert.Equal(t, []string{"events", "events", "events"}, h.sink.streams())
	val, _ := h.store.Bookmark(context.Background(), "events", "")
	assert.Equal(t, "2023-04-03T00:00:00Z", val)
}

func TestDriver_EventsSinglePage(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewEvents(h.cfg))

	h.mock.SetJSONResponse(eventsPath, http.StatusOK,
		`{"events": [{"id": "e1", "occurred": "2023-04-01T00:00:00Z"}]}`)

	require.NoError(t, h.driver.Sync(context.Background()))

	// Absent next_page ends pagination after the first page.
	assert.Equal(t, 1, h.mock.RequestCount())
	assert.Len(t, h.sink.records, 1)
}

func TestDriver_HandlerErrorAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.driver.Register(NewFlowRuns(h.cfg))
	h.sink.fail = errors.New("sink full")

	h.mock.SetPagedFilterResponse(flowRunsPath, []map[string]any{
		testutil.FlowRun(1, "2023-03-01T00:00:00Z"),
	}, 2)

	err := h.driver.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink full")
}

func TestDriver_MissingStartDateIsConfigError(t *testing.T) {
	h := newHarness(t)
	h.driver.startDate = ""
	h.driver.Register(NewFlowRuns(h.cfg))

	err := h.driver.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_date")
	assert.Equal(t, 0, h.mock.RequestCount(), "config errors surface before the first request")
}

func TestDriver_SyncStream(t *testing.T) {
	h := newHarness(t)
	h.registerFlowAndTaskRuns()
	h.mock.SetJSONResponse(flowRunsPath, http.StatusOK, `[]`)

	require.NoError(t, h.driver.SyncStream(context.Background(), "flow_runs"))

	err := h.driver.SyncStream(context.Background(), "task_runs")
	require.Error(t, err, "child streams are driven by their parent")

	err = h.driver.SyncStream(context.Background(), "nope")
	assert.Error(t, err)
}
