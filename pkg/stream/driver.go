package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quartzdata/tap-prefect/pkg/client"
	"github.com/quartzdata/tap-prefect/pkg/state"
)

// Prometheus metrics for stream runs.
var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefect_records_total",
		Help: "Total records emitted by stream",
	}, []string{"stream"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefect_stream_runs_total",
		Help: "Total stream runs by stream and outcome",
	}, []string{"stream", "outcome"})
)

// Run is the explicit per-run state threaded through every payload and
// request decision: no ambient or global lookup.
type Run struct {
	// Stream is the record source name.
	Stream string

	// Context scopes the run to a parent record; nil for top-level runs.
	Context Context

	// Cursor is the starting replication value for this run: the stored
	// bookmark, or the configured start date when none exists. Empty for
	// sources without a replication key.
	Cursor string

	// ID identifies the run in logs.
	ID string

	// Requests counts requests dispatched during the run.
	Requests int
}

// RecordHandler receives each emitted record in response order.
type RecordHandler interface {
	HandleRecord(stream string, rec Record) error
}

// Driver orchestrates record source runs: it walks each source's pages
// in strict sequence, emits records, derives child contexts, and commits
// replication cursors after clean completion.
type Driver struct {
	client    *client.Client
	store     state.Store
	handler   RecordHandler
	startDate string
	logger    zerolog.Logger

	sources  []Source
	byName   map[string]Source
	children map[string][]Source
}

// NewDriver creates a stream driver. startDate is the default lower
// bound used when a source has no stored cursor.
func NewDriver(c *client.Client, store state.Store, handler RecordHandler, startDate string) *Driver {
	return &Driver{
		client:    c,
		store:     store,
		handler:   handler,
		startDate: startDate,
		logger:    log.With().Str("component", "stream-driver").Logger(),
		byName:    make(map[string]Source),
		children:  make(map[string][]Source),
	}
}

// Register adds a record source. Sources with a parent are driven once
// per parent record rather than independently.
func (d *Driver) Register(src Source) {
	def := src.Definition()
	d.byName[def.Name] = src
	if def.Parent != "" {
		d.children[def.Parent] = append(d.children[def.Parent], src)
		return
	}
	d.sources = append(d.sources, src)
}

// Sync runs every registered top-level source in registration order.
func (d *Driver) Sync(ctx context.Context) error {
	for _, src := range d.sources {
		if err := d.run(ctx, src, nil); err != nil {
			return err
		}
	}
	return nil
}

// SyncStream runs a single top-level source by name.
func (d *Driver) SyncStream(ctx context.Context, name string) error {
	src, ok := d.byName[name]
	if !ok {
		return fmt.Errorf("unknown stream %q", name)
	}
	if src.Definition().Parent != "" {
		return fmt.Errorf("stream %q is driven by its parent %q", name, src.Definition().Parent)
	}
	return d.run(ctx, src, nil)
}

// run executes one record source run scoped to one context. A transport
// failure aborts the run without committing the cursor, preserving
// at-least-once resumption from the last confirmed value.
func (d *Driver) run(ctx context.Context, src Source, sctx Context) error {
	def := src.Definition()

	run := &Run{
		Stream:  def.Name,
		Context: sctx,
		ID:      uuid.NewString(),
	}

	logger := d.logger.With().Str("stream", def.Name).Str("run_id", run.ID).Logger()
	if key := sctx.Key(); key != "" {
		logger = logger.With().Str("context", key).Logger()
	}

	if def.ReplicationKey != "" {
		bookmark, err := d.store.Bookmark(ctx, def.Name, sctx.Key())
		if err != nil {
			return fmt.Errorf("stream %s: read bookmark: %w", def.Name, err)
		}
		run.Cursor = bookmark
		if run.Cursor == "" {
			run.Cursor = d.startDate
		}
		if run.Cursor == "" {
			return fmt.Errorf("stream %s: no replication cursor and no start_date configured", def.Name)
		}
		logger.Info().Str("starting_value", run.Cursor).Msg("Starting replication value")
	}

	pager := src.NewPaginator()
	maxSeen := ""

	for !pager.Finished() {
		tok := pager.Current()

		payload, err := src.Payload(run, tok)
		if err != nil {
			runsTotal.WithLabelValues(def.Name, "error").Inc()
			return fmt.Errorf("stream %s: build payload: %w", def.Name, err)
		}

		req := &client.Request{Method: def.Method, Path: def.Path}
		if link, ok := tok.Link(); ok {
			// The resumption link fully encodes the next request.
			req.Method = http.MethodGet
			req.URL = link
		}
		if payload != nil {
			req.Body = payload
		}

		logger.Debug().Str("token", tok.String()).Msg("Fetching page")

		resp, err := d.client.Do(ctx, req)
		if err != nil {
			runsTotal.WithLabelValues(def.Name, "error").Inc()
			return fmt.Errorf("stream %s (context %q): %w", def.Name, sctx.Key(), err)
		}
		run.Requests++

		records, err := extractRecords(resp.Body, def.RecordsPath)
		if err != nil {
			runsTotal.WithLabelValues(def.Name, "error").Inc()
			return fmt.Errorf("stream %s: %w", def.Name, err)
		}

		for _, rec := range records {
			if err := validatePrimaryKeys(def, rec); err != nil {
				runsTotal.WithLabelValues(def.Name, "error").Inc()
				return err
			}

			if err := d.handler.HandleRecord(def.Name, rec); err != nil {
				runsTotal.WithLabelValues(def.Name, "error").Inc()
				return fmt.Errorf("stream %s: handle record: %w", def.Name, err)
			}
			recordsTotal.WithLabelValues(def.Name).Inc()

			if def.ReplicationKey != "" {
				if v, ok := rec[def.ReplicationKey].(string); ok && v > maxSeen {
					maxSeen = v
				}
			}

			// Dependent sources run once per parent record, sequentially.
			if children := d.children[def.Name]; len(children) > 0 {
				cctx := src.ChildContext(rec)
				for _, child := range children {
					if err := d.run(ctx, child, cctx); err != nil {
						runsTotal.WithLabelValues(def.Name, "error").Inc()
						return err
					}
				}
			}
		}

		if err := pager.Advance(resp, len(records)); err != nil {
			runsTotal.WithLabelValues(def.Name, "error").Inc()
			return fmt.Errorf("stream %s: advance paginator: %w", def.Name, err)
		}
	}

	// Commit the cursor only after the run finished cleanly: partial
	// progress is never recorded as a new bookmark.
	if def.ReplicationKey != "" && maxSeen != "" {
		if err := d.store.SetBookmark(ctx, def.Name, sctx.Key(), maxSeen); err != nil {
			runsTotal.WithLabelValues(def.Name, "error").Inc()
			return fmt.Errorf("stream %s: commit bookmark: %w", def.Name, err)
		}
	}

	runsTotal.WithLabelValues(def.Name, "success").Inc()
	logger.Info().Int("requests", run.Requests).Msg("Stream run complete")
	return nil
}
