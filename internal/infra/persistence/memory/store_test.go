package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"carecompanion/internal/infra/persistence/memory"
	"carecompanion/pkg/domain"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestMemoryStoreCRUD(t *testing.T) {
	store := memory.NewStore(nil)
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })
	ctx := context.Background()

	var medID, contactID, eventID, postID string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		med, err := tx.CreateMedication(domain.Medication{
			Name:     "Lisinopril",
			Dosage:   "10mg",
			Schedule: []string{"20:00", "08:00", "08:00"},
		})
		if err != nil {
			return err
		}
		medID = med.ID

		contact, err := tx.CreateContact(domain.EmergencyContact{Name: "Sarah", Relationship: "Daughter", Phone: "555-0101"})
		if err != nil {
			return err
		}
		contactID = contact.ID

		event, err := tx.CreateEvent(domain.Event{
			Title:     "Morning Walk",
			Date:      fixed.Add(48 * time.Hour),
			Attendees: []string{"u2", "u1", "u2"},
		})
		if err != nil {
			return err
		}
		eventID = event.ID

		post, err := tx.CreatePost(domain.Post{Title: "Hello", Content: "First post", Author: "Margaret"})
		if err != nil {
			return err
		}
		postID = post.ID
		return nil
	}); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	med, ok := store.GetMedication(medID)
	if !ok {
		t.Fatalf("expected medication %s", medID)
	}
	if len(med.Schedule) != 2 || med.Schedule[0] != "08:00" || med.Schedule[1] != "20:00" {
		t.Fatalf("expected normalized schedule, got %v", med.Schedule)
	}
	if !med.CreatedAt.Equal(fixed) || !med.UpdatedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamps: %v %v", med.CreatedAt, med.UpdatedAt)
	}

	event, ok := store.GetEvent(eventID)
	if !ok {
		t.Fatalf("expected event %s", eventID)
	}
	if len(event.Attendees) != 2 || event.Attendees[0] != "u1" || event.Attendees[1] != "u2" {
		t.Fatalf("expected deduplicated attendees, got %v", event.Attendees)
	}

	post, ok := store.GetPost(postID)
	if !ok {
		t.Fatalf("expected post %s", postID)
	}
	if post.Comments == nil {
		t.Fatalf("expected non-nil comments slice")
	}

	later := fixed.Add(time.Hour)
	store.SetNowFunc(func() time.Time { return later })
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdateMedication(medID, func(m *domain.Medication) error {
			m.LastTaken = timePtr(later)
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.UpdateContact(contactID, func(c *domain.EmergencyContact) error {
			c.Phone = "555-0202"
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.UpdateEvent(eventID, func(e *domain.Event) error {
			e.Attendees = append(e.Attendees, "u1")
			return nil
		}); err != nil {
			return err
		}
		_, err := tx.UpdatePost(postID, func(p *domain.Post) error {
			p.Likes++
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update transaction: %v", err)
	}

	med, _ = store.GetMedication(medID)
	if med.LastTaken == nil || !med.LastTaken.Equal(later) {
		t.Fatalf("expected last taken %v, got %v", later, med.LastTaken)
	}
	if !med.UpdatedAt.Equal(later) {
		t.Fatalf("expected updated_at to advance, got %v", med.UpdatedAt)
	}
	event, _ = store.GetEvent(eventID)
	if len(event.Attendees) != 2 {
		t.Fatalf("expected attendee set to stay deduplicated, got %v", event.Attendees)
	}
	post, _ = store.GetPost(postID)
	if post.Likes != 1 {
		t.Fatalf("expected 1 like, got %d", post.Likes)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.DeleteMedication(medID); err != nil {
			return err
		}
		// deleting the same id again is a no-op
		return tx.DeleteMedication(medID)
	}); err != nil {
		t.Fatalf("delete transaction: %v", err)
	}
	if _, ok := store.GetMedication(medID); ok {
		t.Fatalf("expected medication removed")
	}
	if len(store.ListContacts()) != 1 || len(store.ListEvents()) != 1 || len(store.ListPosts()) != 1 {
		t.Fatalf("unexpected collection sizes after delete")
	}
}

func TestMemoryStoreUpdateMissingReturnsNotFound(t *testing.T) {
	store := memory.NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateMedication("absent", func(*domain.Medication) error { return nil })
		return err
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Entity != domain.EntityMedication || nf.ID != "absent" {
		t.Fatalf("unexpected not-found payload: %+v", nf)
	}
}

func TestMemoryStoreDeleteMissingIsNoOp(t *testing.T) {
	store := memory.NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.DeleteContact("missing"); err != nil {
			return err
		}
		if err := tx.DeleteEvent("missing"); err != nil {
			return err
		}
		return tx.DeletePost("missing")
	}); err != nil {
		t.Fatalf("expected idempotent deletes, got %v", err)
	}
}

type blockEmptyNames struct{}

func (blockEmptyNames) Name() string { return "block_empty_names" }

func (blockEmptyNames) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var result domain.Result
	for _, change := range changes {
		med, ok := change.After.(domain.Medication)
		if !ok {
			continue
		}
		if med.Name == "" {
			result.Violations = append(result.Violations, domain.Violation{
				Rule:     "block_empty_names",
				Severity: domain.SeverityBlock,
				Message:  "medication name is required",
				Entity:   domain.EntityMedication,
				EntityID: med.ID,
			})
		}
	}
	return result, nil
}

func TestMemoryStoreBlockingRuleAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockEmptyNames{})
	store := memory.NewStore(engine)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateMedication(domain.Medication{Dosage: "5mg"})
		return err
	})
	var rve domain.RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !rve.Result.HasBlocking() {
		t.Fatalf("expected blocking violation in result")
	}
	if len(store.ListMedications()) != 0 {
		t.Fatalf("blocked transaction must not mutate state")
	}
}

func TestMemoryStoreClearAll(t *testing.T) {
	store := memory.NewStore(nil)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateMedication(domain.Medication{Name: "Aspirin"}); err != nil {
			return err
		}
		if _, err := tx.CreateContact(domain.EmergencyContact{Name: "Bob"}); err != nil {
			return err
		}
		if _, err := tx.CreateEvent(domain.Event{Title: "Bingo"}); err != nil {
			return err
		}
		_, err := tx.CreatePost(domain.Post{Title: "Hi"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.ClearAll()
		return nil
	}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := len(store.ListMedications()) + len(store.ListContacts()) + len(store.ListEvents()) + len(store.ListPosts()); n != 0 {
		t.Fatalf("expected empty store after clear, got %d records", n)
	}
}

func TestMemoryStoreImportStateNormalizes(t *testing.T) {
	store := memory.NewStore(nil)
	store.ImportState(memory.Snapshot{
		Medications: map[string]domain.Medication{
			"m1": {Base: domain.Base{ID: "m1"}, Name: "Metformin", Schedule: []string{"12:00", "07:00", "12:00"}},
		},
		Events: map[string]domain.Event{
			"e1": {Base: domain.Base{ID: "e1"}, Title: "Lunch", Attendees: []string{"b", "a", "b"}},
		},
		Posts: map[string]domain.Post{
			"p1": {Base: domain.Base{ID: "p1"}, Title: "Welcome"},
		},
	})

	med, ok := store.GetMedication("m1")
	if !ok || len(med.Schedule) != 2 || med.Schedule[0] != "07:00" {
		t.Fatalf("expected normalized schedule, got %v (found=%v)", med.Schedule, ok)
	}
	event, _ := store.GetEvent("e1")
	if len(event.Attendees) != 2 || event.Attendees[0] != "a" {
		t.Fatalf("expected sorted deduplicated attendees, got %v", event.Attendees)
	}
	post, _ := store.GetPost("p1")
	if post.Comments == nil {
		t.Fatalf("expected comments backfilled to empty slice")
	}
	if store.ListContacts() == nil {
		t.Fatalf("expected empty contact list, not nil")
	}
}

func TestMemoryStoreNewPostKeepsEmptyComments(t *testing.T) {
	store := memory.NewStore(nil)
	var postID string
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		post, err := tx.CreatePost(domain.Post{Title: "Hello", Author: "Margaret"})
		if err != nil {
			return err
		}
		if post.Comments == nil {
			t.Fatalf("expected empty comment slice on created post")
		}
		postID = post.ID
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	post, ok := store.GetPost(postID)
	if !ok || post.Comments == nil || len(post.Comments) != 0 {
		t.Fatalf("expected empty non-nil comments after commit, got %+v (found=%v)", post.Comments, ok)
	}
	snapshot := store.ExportState()
	if snapshot.Posts[postID].Comments == nil {
		t.Fatalf("expected exported snapshot to keep empty comment slice")
	}
}

func TestMemoryStoreExportIsIsolatedCopy(t *testing.T) {
	store := memory.NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateMedication(domain.Medication{Name: "Aspirin", Schedule: []string{"09:00"}})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot := store.ExportState()
	for id, med := range snapshot.Medications {
		med.Schedule[0] = "23:59"
		snapshot.Medications[id] = med
	}
	for _, med := range store.ListMedications() {
		if med.Schedule[0] != "09:00" {
			t.Fatalf("export mutation leaked into store state")
		}
	}
}

func TestMemoryStoreView(t *testing.T) {
	store := memory.NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateContact(domain.EmergencyContact{Name: "Dr. Chen", Relationship: "Physician"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := store.View(context.Background(), func(view domain.TransactionView) error {
		contacts := view.ListContacts()
		if len(contacts) != 1 {
			t.Fatalf("expected one contact, got %d", len(contacts))
		}
		if _, ok := view.FindContact(contacts[0].ID); !ok {
			t.Fatalf("expected to find contact by id")
		}
		if _, ok := view.FindContact("missing"); ok {
			t.Fatalf("unexpected lookup success")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
