// Package care exposes the transactional application service for the
// carecompanion domain: medication tracking, emergency contacts, and the
// community calendar and discussion board.
package care

import (
	"context"
	"sort"
	"time"
)

// Service exposes higher-level transactional operations over a persistent store.
type Service struct {
	store   PersistentStore
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: noopLogger{},
		clock:  ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(newMemoryStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Now returns the service's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

type opOutcome struct {
	entity EntityType
	id     string
	result Result
	err    error
}

func (s *Service) observe(ctx context.Context, operation string, started time.Time, span TraceSpan, out opOutcome) {
	duration := time.Since(started)
	if span != nil {
		span.End(out.err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, out.err == nil, duration)
	}
	if s.audit != nil {
		entry := AuditEntry{
			Operation:  operation,
			Entity:     out.entity,
			EntityID:   out.id,
			Status:     AuditStatusSuccess,
			Violations: out.result.Violations,
			At:         s.clock.Now(),
		}
		if out.err != nil {
			entry.Status = AuditStatusError
			entry.Error = out.err.Error()
		}
		s.audit.Record(ctx, entry)
	}
	if out.err != nil {
		s.logger.Error("operation failed", "operation", operation, "entity", string(out.entity), "id", out.id, "error", out.err)
		return
	}
	for _, violation := range out.result.Violations {
		if violation.Severity == SeverityWarn {
			s.logger.Warn("rule warning", "operation", operation, "rule", violation.Rule, "message", violation.Message)
		}
	}
	s.logger.Debug("operation completed", "operation", operation, "entity", string(out.entity), "id", out.id, "duration_ms", float64(duration)/float64(time.Millisecond))
}

func (s *Service) startSpan(ctx context.Context, operation string) (context.Context, TraceSpan) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, operation)
}

// Medications -----------------------------------------------------------------

// CreateMedication persists a new medication.
func (s *Service) CreateMedication(ctx context.Context, med Medication) (Medication, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "create_medication")
	var created Medication
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateMedication(med)
		return err
	})
	s.observe(ctx, "create_medication", started, span, opOutcome{entity: EntityMedication, id: created.ID, result: res, err: err})
	return created, res, err
}

// UpdateMedication mutates a medication using the provided mutator.
func (s *Service) UpdateMedication(ctx context.Context, id string, mutator func(*Medication) error) (Medication, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "update_medication")
	var updated Medication
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateMedication(id, mutator)
		return err
	})
	s.observe(ctx, "update_medication", started, span, opOutcome{entity: EntityMedication, id: id, result: res, err: err})
	return updated, res, err
}

// DeleteMedication removes a medication record. Absent ids are a no-op.
func (s *Service) DeleteMedication(ctx context.Context, id string) (Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "delete_medication")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteMedication(id)
	})
	s.observe(ctx, "delete_medication", started, span, opOutcome{entity: EntityMedication, id: id, result: res, err: err})
	return res, err
}

// MarkMedicationTaken stamps a medication as taken at the given instant.
// A zero instant uses the service clock.
func (s *Service) MarkMedicationTaken(ctx context.Context, id string, at time.Time) (Medication, Result, error) {
	if at.IsZero() {
		at = s.clock.Now()
	}
	started := time.Now()
	ctx, span := s.startSpan(ctx, "mark_medication_taken")
	var updated Medication
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateMedication(id, func(m *Medication) error {
			taken := at
			m.LastTaken = &taken
			return nil
		})
		return err
	})
	s.observe(ctx, "mark_medication_taken", started, span, opOutcome{entity: EntityMedication, id: id, result: res, err: err})
	return updated, res, err
}

// GetMedication fetches a medication by id.
func (s *Service) GetMedication(id string) (Medication, bool) {
	return s.store.GetMedication(id)
}

// ListMedications returns all medications sorted by name, then id.
func (s *Service) ListMedications() []Medication {
	meds := s.store.ListMedications()
	sort.Slice(meds, func(i, j int) bool {
		if meds[i].Name != meds[j].Name {
			return meds[i].Name < meds[j].Name
		}
		return meds[i].ID < meds[j].ID
	})
	return meds
}

// DueMedications returns medications with a dose due at the given instant,
// sorted by name. A zero instant uses the service clock.
func (s *Service) DueMedications(at time.Time) []Medication {
	if at.IsZero() {
		at = s.clock.Now()
	}
	var due []Medication
	for _, med := range s.ListMedications() {
		if med.DueAt(at) {
			due = append(due, med)
		}
	}
	return due
}

// Emergency contacts ----------------------------------------------------------

// CreateContact persists a new emergency contact.
func (s *Service) CreateContact(ctx context.Context, contact EmergencyContact) (EmergencyContact, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "create_contact")
	var created EmergencyContact
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateContact(contact)
		return err
	})
	s.observe(ctx, "create_contact", started, span, opOutcome{entity: EntityContact, id: created.ID, result: res, err: err})
	return created, res, err
}

// UpdateContact mutates an emergency contact.
func (s *Service) UpdateContact(ctx context.Context, id string, mutator func(*EmergencyContact) error) (EmergencyContact, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "update_contact")
	var updated EmergencyContact
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateContact(id, mutator)
		return err
	})
	s.observe(ctx, "update_contact", started, span, opOutcome{entity: EntityContact, id: id, result: res, err: err})
	return updated, res, err
}

// DeleteContact removes an emergency contact. Absent ids are a no-op.
func (s *Service) DeleteContact(ctx context.Context, id string) (Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "delete_contact")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteContact(id)
	})
	s.observe(ctx, "delete_contact", started, span, opOutcome{entity: EntityContact, id: id, result: res, err: err})
	return res, err
}

// GetContact fetches an emergency contact by id.
func (s *Service) GetContact(id string) (EmergencyContact, bool) {
	return s.store.GetContact(id)
}

// ListContacts returns all emergency contacts sorted by name, then id.
func (s *Service) ListContacts() []EmergencyContact {
	contacts := s.store.ListContacts()
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].Name != contacts[j].Name {
			return contacts[i].Name < contacts[j].Name
		}
		return contacts[i].ID < contacts[j].ID
	})
	return contacts
}

// Events ----------------------------------------------------------------------

// CreateEvent persists a new community event.
func (s *Service) CreateEvent(ctx context.Context, event Event) (Event, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "create_event")
	var created Event
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateEvent(event)
		return err
	})
	s.observe(ctx, "create_event", started, span, opOutcome{entity: EntityEvent, id: created.ID, result: res, err: err})
	return created, res, err
}

// UpdateEvent mutates an event.
func (s *Service) UpdateEvent(ctx context.Context, id string, mutator func(*Event) error) (Event, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "update_event")
	var updated Event
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateEvent(id, mutator)
		return err
	})
	s.observe(ctx, "update_event", started, span, opOutcome{entity: EntityEvent, id: id, result: res, err: err})
	return updated, res, err
}

// DeleteEvent removes an event. Absent ids are a no-op.
func (s *Service) DeleteEvent(ctx context.Context, id string) (Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "delete_event")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteEvent(id)
	})
	s.observe(ctx, "delete_event", started, span, opOutcome{entity: EntityEvent, id: id, result: res, err: err})
	return res, err
}

// JoinEvent adds the user to the event's attendee set. Joining an event the
// user already attends leaves the set unchanged.
func (s *Service) JoinEvent(ctx context.Context, eventID, userID string) (Event, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "join_event")
	var updated Event
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateEvent(eventID, func(e *Event) error {
			if !e.Attending(userID) {
				e.Attendees = append(e.Attendees, userID)
			}
			return nil
		})
		return err
	})
	s.observe(ctx, "join_event", started, span, opOutcome{entity: EntityEvent, id: eventID, result: res, err: err})
	return updated, res, err
}

// LeaveEvent removes the user from the event's attendee set. Leaving an event
// the user does not attend leaves the set unchanged.
func (s *Service) LeaveEvent(ctx context.Context, eventID, userID string) (Event, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "leave_event")
	var updated Event
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateEvent(eventID, func(e *Event) error {
			filtered := e.Attendees[:0]
			for _, attendee := range e.Attendees {
				if attendee != userID {
					filtered = append(filtered, attendee)
				}
			}
			e.Attendees = filtered
			return nil
		})
		return err
	})
	s.observe(ctx, "leave_event", started, span, opOutcome{entity: EntityEvent, id: eventID, result: res, err: err})
	return updated, res, err
}

// GetEvent fetches an event by id.
func (s *Service) GetEvent(id string) (Event, bool) {
	return s.store.GetEvent(id)
}

// UpcomingEvents returns events at or after the given instant, soonest first.
// A zero instant uses the service clock.
func (s *Service) UpcomingEvents(at time.Time) []Event {
	if at.IsZero() {
		at = s.clock.Now()
	}
	var upcoming []Event
	for _, event := range s.store.ListEvents() {
		if !event.Date.Before(at) {
			upcoming = append(upcoming, event)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool {
		if !upcoming[i].Date.Equal(upcoming[j].Date) {
			return upcoming[i].Date.Before(upcoming[j].Date)
		}
		return upcoming[i].ID < upcoming[j].ID
	})
	return upcoming
}

// PastEvents returns events before the given instant, most recent first.
// A zero instant uses the service clock.
func (s *Service) PastEvents(at time.Time) []Event {
	if at.IsZero() {
		at = s.clock.Now()
	}
	var past []Event
	for _, event := range s.store.ListEvents() {
		if event.Date.Before(at) {
			past = append(past, event)
		}
	}
	sort.Slice(past, func(i, j int) bool {
		if !past[i].Date.Equal(past[j].Date) {
			return past[i].Date.After(past[j].Date)
		}
		return past[i].ID < past[j].ID
	})
	return past
}

// Posts -----------------------------------------------------------------------

// CreatePost persists a new discussion post.
func (s *Service) CreatePost(ctx context.Context, post Post) (Post, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "create_post")
	var created Post
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreatePost(post)
		return err
	})
	s.observe(ctx, "create_post", started, span, opOutcome{entity: EntityPost, id: created.ID, result: res, err: err})
	return created, res, err
}

// UpdatePost mutates a discussion post.
func (s *Service) UpdatePost(ctx context.Context, id string, mutator func(*Post) error) (Post, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "update_post")
	var updated Post
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdatePost(id, mutator)
		return err
	})
	s.observe(ctx, "update_post", started, span, opOutcome{entity: EntityPost, id: id, result: res, err: err})
	return updated, res, err
}

// DeletePost removes a post. Absent ids are a no-op.
func (s *Service) DeletePost(ctx context.Context, id string) (Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "delete_post")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeletePost(id)
	})
	s.observe(ctx, "delete_post", started, span, opOutcome{entity: EntityPost, id: id, result: res, err: err})
	return res, err
}

// LikePost increments the post's like counter. Likes are a plain counter and
// are not tied to a user.
func (s *Service) LikePost(ctx context.Context, id string) (Post, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "like_post")
	var updated Post
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdatePost(id, func(p *Post) error {
			p.Likes++
			return nil
		})
		return err
	})
	s.observe(ctx, "like_post", started, span, opOutcome{entity: EntityPost, id: id, result: res, err: err})
	return updated, res, err
}

// AddComment appends a comment to the post, stamped with the service clock.
func (s *Service) AddComment(ctx context.Context, postID, author, text string) (Post, Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "add_comment")
	createdAt := s.clock.Now()
	var updated Post
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.UpdatePost(postID, func(p *Post) error {
			p.Comments = append(p.Comments, Comment{Author: author, Text: text, CreatedAt: createdAt})
			return nil
		})
		return err
	})
	s.observe(ctx, "add_comment", started, span, opOutcome{entity: EntityPost, id: postID, result: res, err: err})
	return updated, res, err
}

// GetPost fetches a post by id.
func (s *Service) GetPost(id string) (Post, bool) {
	return s.store.GetPost(id)
}

// ListPosts returns all posts newest first.
func (s *Service) ListPosts() []Post {
	posts := s.store.ListPosts()
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID < posts[j].ID
	})
	return posts
}

// Maintenance -----------------------------------------------------------------

// ClearAllData removes every record from every collection.
func (s *Service) ClearAllData(ctx context.Context) (Result, error) {
	started := time.Now()
	ctx, span := s.startSpan(ctx, "clear_all_data")
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		tx.ClearAll()
		return nil
	})
	s.observe(ctx, "clear_all_data", started, span, opOutcome{result: res, err: err})
	return res, err
}
