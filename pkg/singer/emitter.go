// Package singer emits Singer protocol messages as JSON lines.
package singer

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quartzdata/tap-prefect/pkg/stream"
)

// Prometheus metrics for message emission.
var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefect_singer_messages_total",
		Help: "Total Singer messages emitted by type",
	}, []string{"type"})
)

// recordMessage is a Singer RECORD line.
type recordMessage struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream"`
	Record        map[string]any `json:"record"`
	TimeExtracted string         `json:"time_extracted"`
}

// stateMessage is a Singer STATE line.
type stateMessage struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Emitter writes Singer RECORD and STATE messages, one JSON object per
// line. It satisfies the stream driver's RecordHandler.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder

	// now is swappable for tests.
	now func() time.Time
}

var _ stream.RecordHandler = (*Emitter)(nil)

// NewEmitter creates an emitter writing to w, typically os.Stdout.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{
		enc: json.NewEncoder(w),
		now: time.Now,
	}
}

// HandleRecord writes one RECORD message.
func (e *Emitter) HandleRecord(streamName string, rec stream.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg := recordMessage{
		Type:          "RECORD",
		Stream:        streamName,
		Record:        rec,
		TimeExtracted: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.enc.Encode(msg); err != nil {
		return fmt.Errorf("emit record for stream %s: %w", streamName, err)
	}

	messagesTotal.WithLabelValues("RECORD").Inc()
	return nil
}

// EmitState writes one STATE message carrying the current bookmarks.
func (e *Emitter) EmitState(value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enc.Encode(stateMessage{Type: "STATE", Value: value}); err != nil {
		return fmt.Errorf("emit state: %w", err)
	}

	messagesTotal.WithLabelValues("STATE").Inc()
	return nil
}
