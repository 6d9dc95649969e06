// Package archive exports point-in-time snapshots of the care collections
// to blob storage as JSON or CSV artifacts. Exports run asynchronously on a
// background worker with a bounded queue.
package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"carecompanion/internal/blob"
	"carecompanion/internal/care"
)

// Format identifies an artifact serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Collection names an exportable care collection.
type Collection string

const (
	CollectionMedications Collection = "medications"
	CollectionContacts    Collection = "contacts"
	CollectionEvents      Collection = "events"
	CollectionPosts       Collection = "posts"
)

var collections = map[Collection]struct{}{
	CollectionMedications: {},
	CollectionContacts:    {},
	CollectionEvents:      {},
	CollectionPosts:       {},
}

// ExportStatus tracks the lifecycle of an export job.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportInput describes a requested export.
type ExportInput struct {
	Collection  Collection
	Formats     []Format
	RequestedBy string
	Reason      string
}

// ExportArtifact describes a stored export artifact.
type ExportArtifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url,omitempty"`
}

// ExportRecord tracks a single export job.
type ExportRecord struct {
	ID          string           `json:"id"`
	Collection  Collection       `json:"collection"`
	Formats     []Format         `json:"formats"`
	Status      ExportStatus     `json:"status"`
	Error       string           `json:"error,omitempty"`
	RequestedBy string           `json:"requested_by,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Artifacts   []ExportArtifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func (r *ExportRecord) copy() ExportRecord {
	cp := *r
	cp.Formats = append([]Format(nil), r.Formats...)
	cp.Artifacts = append([]ExportArtifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// Worker executes collection exports asynchronously.
type Worker struct {
	service *care.Service
	store   blob.Store
	audit   care.AuditRecorder

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type exportTask struct {
	id string
}

// NewWorker constructs an export worker over the given service and blob store.
func NewWorker(service *care.Service, store blob.Store, audit care.AuditRecorder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		service: service,
		store:   store,
		audit:   audit,
		queue:   make(chan exportTask, 32),
		jobs:    make(map[string]*ExportRecord),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueExport schedules an export job and returns the queued record.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if _, ok := collections[input.Collection]; !ok {
		return ExportRecord{}, fmt.Errorf("unknown collection %q", input.Collection)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if format != FormatJSON && format != FormatCSV {
			return ExportRecord{}, fmt.Errorf("unsupported format %q", format)
		}
		if _, duplicate := seen[format]; duplicate {
			continue
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	id := newID()
	now := time.Now().UTC()
	record := ExportRecord{
		ID:          id,
		Collection:  input.Collection,
		Formats:     uniq,
		Status:      ExportStatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queuedSnapshot := record.copy()
	w.mu.Unlock()

	w.recordAudit(ctx, id, ExportStatusQueued, "")

	select {
	case w.queue <- exportTask{id: id}:
	default:
		// leave the record queryable in its terminal state
		w.fail(id, "export queue full")
		return ExportRecord{}, fmt.Errorf("export queue full")
	}

	return queuedSnapshot, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task exportTask) {
	w.mu.RLock()
	record, ok := w.jobs[task.id]
	var collection Collection
	var formats []Format
	if ok {
		collection = record.Collection
		formats = append([]Format(nil), record.Formats...)
	}
	w.mu.RUnlock()
	if !ok {
		return
	}

	w.updateStatus(task.id, ExportStatusRunning, "")

	artifacts := make([]ExportArtifact, 0, len(formats))
	for _, format := range formats {
		payload, contentType, err := w.render(collection, format)
		if err != nil {
			w.fail(task.id, err.Error())
			return
		}
		key := fmt.Sprintf("archives/%s/%s.%s", collection, task.id, format)
		artifact := ExportArtifact{
			Key:         key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   int64(len(payload)),
			CreatedAt:   time.Now().UTC(),
		}
		if w.store != nil {
			info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
				ContentType: contentType,
				Metadata:    map[string]string{"collection": string(collection), "export_id": task.id},
			})
			if err != nil {
				w.fail(task.id, fmt.Sprintf("store artifact failed: %v", err))
				return
			}
			artifact.SizeBytes = info.Size
			artifact.URL = info.URL
		}
		artifacts = append(artifacts, artifact)
	}

	w.complete(task.id, artifacts)
}

func (w *Worker) render(collection Collection, format Format) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := w.renderJSON(collection)
		return payload, "application/json", err
	case FormatCSV:
		payload, err := w.renderCSV(collection)
		return payload, "text/csv", err
	default:
		return nil, "", fmt.Errorf("unsupported format %q", format)
	}
}

func (w *Worker) renderJSON(collection Collection) ([]byte, error) {
	var v any
	switch collection {
	case CollectionMedications:
		v = w.service.ListMedications()
	case CollectionContacts:
		v = w.service.ListContacts()
	case CollectionEvents:
		v = append(w.service.PastEvents(time.Time{}), w.service.UpcomingEvents(time.Time{})...)
	case CollectionPosts:
		v = w.service.ListPosts()
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return json.MarshalIndent(v, "", "  ")
}

func (w *Worker) renderCSV(collection Collection) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	switch collection {
	case CollectionMedications:
		if err := cw.Write([]string{"id", "name", "dosage", "instructions", "schedule", "last_taken"}); err != nil {
			return nil, err
		}
		for _, med := range w.service.ListMedications() {
			lastTaken := ""
			if med.LastTaken != nil {
				lastTaken = med.LastTaken.UTC().Format(time.RFC3339)
			}
			if err := cw.Write([]string{med.ID, med.Name, med.Dosage, med.Instructions, strings.Join(med.Schedule, "|"), lastTaken}); err != nil {
				return nil, err
			}
		}
	case CollectionContacts:
		if err := cw.Write([]string{"id", "name", "relationship", "phone", "email", "address", "notes"}); err != nil {
			return nil, err
		}
		for _, contact := range w.service.ListContacts() {
			if err := cw.Write([]string{contact.ID, contact.Name, contact.Relationship, contact.Phone, contact.Email, contact.Address, contact.Notes}); err != nil {
				return nil, err
			}
		}
	case CollectionEvents:
		if err := cw.Write([]string{"id", "title", "date", "location", "organizer", "attendees"}); err != nil {
			return nil, err
		}
		events := append(w.service.PastEvents(time.Time{}), w.service.UpcomingEvents(time.Time{})...)
		for _, event := range events {
			if err := cw.Write([]string{event.ID, event.Title, event.Date.UTC().Format(time.RFC3339), event.Location, event.Organizer, strings.Join(event.Attendees, "|")}); err != nil {
				return nil, err
			}
		}
	case CollectionPosts:
		if err := cw.Write([]string{"id", "title", "author", "likes", "comments", "created_at"}); err != nil {
			return nil, err
		}
		for _, post := range w.service.ListPosts() {
			if err := cw.Write([]string{post.ID, post.Title, post.Author, strconv.Itoa(post.Likes), strconv.Itoa(len(post.Comments)), post.CreatedAt.UTC().Format(time.RFC3339)}); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *Worker) updateStatus(id string, status ExportStatus, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, status, message)
}

func (w *Worker) complete(id string, artifacts []ExportArtifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, ExportStatusSucceeded, "")
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, ExportStatusFailed, reason)
}

func (w *Worker) recordAudit(ctx context.Context, id string, status ExportStatus, message string) {
	if w.audit == nil {
		return
	}
	entry := care.AuditEntry{
		Operation: "archive_export",
		EntityID:  id,
		Status:    care.AuditStatusSuccess,
		At:        time.Now().UTC(),
	}
	if status == ExportStatusFailed {
		entry.Status = care.AuditStatusError
		entry.Error = message
	}
	w.audit.Record(ctx, entry)
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
