package care

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// operationCollection maps a service operation name to the care collection it
// touches. Maintenance operations (clear_all_data) span every collection and
// are reported separately.
func operationCollection(operation string) string {
	switch {
	case strings.Contains(operation, "medication"):
		return "medications"
	case strings.Contains(operation, "contact"):
		return "contacts"
	case strings.Contains(operation, "event"):
		return "events"
	case strings.Contains(operation, "post"), strings.Contains(operation, "comment"):
		return "posts"
	default:
		return "maintenance"
	}
}

// OperationStats aggregates outcomes for a single service operation.
type OperationStats struct {
	Collection string    `json:"collection"`
	Count      int64     `json:"count"`
	Errors     int64     `json:"errors"`
	TotalMS    float64   `json:"total_ms"`
	MaxMS      float64   `json:"max_ms"`
	LastAt     time.Time `json:"last_at"`
}

// ExpvarMetricsRecorder publishes per-operation and per-collection aggregates
// via expvar. It fulfills MetricsRecorder for deployments that prefer
// process-local metrics without external dependencies.
type ExpvarMetricsRecorder struct {
	name        string
	mu          sync.Mutex
	operations  map[string]OperationStats
	collections map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	Operations  map[string]OperationStats `json:"operations"`
	Collections map[string]int64          `json:"collections_total"`
	RecordedAt  time.Time                 `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes it
// under the supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("care_service_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:        name,
		operations:  make(map[string]OperationStats),
		collections: make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	operations := make(map[string]OperationStats, len(r.operations))
	for op, stats := range r.operations {
		operations[op] = stats
	}
	collections := make(map[string]int64, len(r.collections))
	for collection, count := range r.collections {
		collections[collection] = count
	}

	return ExpvarMetricsSnapshot{
		Operations:  operations,
		Collections: collections,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a service operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	stats := r.operations[operation]
	if stats.Collection == "" {
		stats.Collection = operationCollection(operation)
	}
	stats.Count++
	if !success {
		stats.Errors++
	}
	stats.TotalMS += ms
	if ms > stats.MaxMS {
		stats.MaxMS = ms
	}
	stats.LastAt = time.Now().UTC()
	r.operations[operation] = stats
	r.collections[stats.Collection]++
	r.mu.Unlock()
}

// JSONTraceEntry represents a serialized trace span emitted by JSONTraceTracer.
// Entries carry a process-local sequence number and the collection the traced
// operation touched.
type JSONTraceEntry struct {
	Seq        uint64    `json:"seq"`
	Operation  string    `json:"operation"`
	Collection string    `json:"collection"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer serializes spans to a writer and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	seq     uint64
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer that writes spans as JSON lines to the writer.
// The tracer retains all encoded spans for later inspection via Entries().
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{
		enc: enc,
	}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements the Tracer interface.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	span := &jsonTraceSpan{
		tracer:    t,
		operation: operation,
		started:   time.Now().UTC(),
	}
	return ctx, span
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	status := "success"
	var errMsg string
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}
	ended := time.Now().UTC()

	s.tracer.mu.Lock()
	s.tracer.seq++
	entry := JSONTraceEntry{
		Seq:        s.tracer.seq,
		Operation:  s.operation,
		Collection: operationCollection(s.operation),
		Status:     status,
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		Error:      errMsg,
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
	s.tracer.mu.Unlock()
}
