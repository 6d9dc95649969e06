package archive

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"carecompanion/internal/blob"
	"carecompanion/internal/care"
)

func seedService(t *testing.T) *care.Service {
	t.Helper()
	ctx := context.Background()
	svc := care.NewInMemoryService(care.NewDefaultRulesEngine())
	if _, _, err := svc.CreateMedication(ctx, care.Medication{Name: "Lisinopril", Dosage: "10mg", Schedule: []string{"08:00"}}); err != nil {
		t.Fatalf("seed medication: %v", err)
	}
	if _, _, err := svc.CreateContact(ctx, care.EmergencyContact{Name: "Sarah", Phone: "555-0101"}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return svc
}

func waitForExport(t *testing.T, worker *Worker, id string) ExportRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := worker.GetExport(id)
		if !ok {
			t.Fatalf("export %s not found", id)
		}
		switch record.Status {
		case ExportStatusSucceeded, ExportStatusFailed:
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("export %s did not finish", id)
	return ExportRecord{}
}

func TestWorkerExportsMedications(t *testing.T) {
	ctx := context.Background()
	svc := seedService(t)
	store := blob.NewMemory()
	audit := &care.MemoryAuditLog{}

	worker := NewWorker(svc, store, audit)
	worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = worker.Stop(stopCtx)
	}()

	record, err := worker.EnqueueExport(ctx, ExportInput{
		Collection:  CollectionMedications,
		RequestedBy: "margaret",
		Reason:      "monthly backup",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if record.Status != ExportStatusQueued || len(record.Formats) != 2 {
		t.Fatalf("unexpected queued record: %+v", record)
	}

	done := waitForExport(t, worker, record.ID)
	if done.Status != ExportStatusSucceeded {
		t.Fatalf("expected success, got %+v", done)
	}
	if len(done.Artifacts) != 2 {
		t.Fatalf("expected json and csv artifacts, got %+v", done.Artifacts)
	}

	infos, err := store.List(ctx, "archives/medications/")
	if err != nil || len(infos) != 2 {
		t.Fatalf("expected 2 stored artifacts: %v %+v", err, infos)
	}

	_, rc, err := store.Get(ctx, "archives/medications/"+record.ID+".csv")
	if err != nil {
		t.Fatalf("get csv: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !strings.HasPrefix(string(data), "id,name,dosage") {
		t.Fatalf("unexpected csv header: %s", data)
	}
	if !strings.Contains(string(data), "Lisinopril") {
		t.Fatalf("expected medication row in csv: %s", data)
	}

	succeeded := false
	for _, entry := range audit.Entries() {
		if entry.Operation == "archive_export" && entry.EntityID == record.ID && entry.Status == care.AuditStatusSuccess {
			succeeded = true
		}
	}
	if !succeeded {
		t.Fatalf("expected audit trail for export, got %+v", audit.Entries())
	}
}

func TestWorkerExportsContactsCSV(t *testing.T) {
	ctx := context.Background()
	svc := seedService(t)
	store := blob.NewMemory()

	worker := NewWorker(svc, store, nil)
	worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = worker.Stop(stopCtx)
	}()

	record, err := worker.EnqueueExport(ctx, ExportInput{Collection: CollectionContacts, Formats: []Format{FormatCSV, FormatCSV}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(record.Formats) != 1 {
		t.Fatalf("expected duplicate formats collapsed, got %v", record.Formats)
	}

	done := waitForExport(t, worker, record.ID)
	if done.Status != ExportStatusSucceeded || len(done.Artifacts) != 1 {
		t.Fatalf("unexpected record: %+v", done)
	}
	if done.Artifacts[0].ContentType != "text/csv" {
		t.Fatalf("unexpected content type: %+v", done.Artifacts[0])
	}
}

func TestEnqueueExportQueueFullMarksRecordFailed(t *testing.T) {
	svc := seedService(t)
	audit := &care.MemoryAuditLog{}
	worker := NewWorker(svc, blob.NewMemory(), audit)
	// no consumer and no capacity, so the enqueue cannot hand off
	worker.queue = make(chan exportTask)

	record, err := worker.EnqueueExport(context.Background(), ExportInput{Collection: CollectionMedications})
	if err == nil {
		t.Fatalf("expected queue full error, got %+v", record)
	}

	var failedID string
	for _, entry := range audit.Entries() {
		if entry.Operation == "archive_export" && entry.Status == care.AuditStatusError {
			failedID = entry.EntityID
		}
	}
	if failedID == "" {
		t.Fatalf("expected failure audit entry, got %+v", audit.Entries())
	}
	stored, ok := worker.GetExport(failedID)
	if !ok {
		t.Fatalf("expected record to remain queryable")
	}
	if stored.Status != ExportStatusFailed || stored.Error == "" || stored.CompletedAt == nil {
		t.Fatalf("expected terminal failed record, got %+v", stored)
	}
}

func TestEnqueueExportValidation(t *testing.T) {
	svc := seedService(t)
	worker := NewWorker(svc, blob.NewMemory(), nil)

	if _, err := worker.EnqueueExport(context.Background(), ExportInput{Collection: "bogus"}); err == nil {
		t.Fatalf("expected unknown collection error")
	}
	if _, err := worker.EnqueueExport(context.Background(), ExportInput{Collection: CollectionPosts, Formats: []Format{"xml"}}); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if _, ok := worker.GetExport("missing"); ok {
		t.Fatalf("unexpected export lookup success")
	}
}
