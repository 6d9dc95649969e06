// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"carecompanion/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Medication aliases domain.Medication for in-memory persistence operations.
	Medication = domain.Medication
	// EmergencyContact aliases domain.EmergencyContact.
	EmergencyContact = domain.EmergencyContact
	// Event aliases domain.Event.
	Event = domain.Event
	// Post aliases domain.Post.
	Post = domain.Post
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	medications map[string]Medication
	contacts    map[string]EmergencyContact
	events      map[string]Event
	posts       map[string]Post
}

// Snapshot captures a point-in-time clone of the store state. Durable
// backends serialize one bucket per collection from this structure.
type Snapshot struct {
	Medications map[string]Medication      `json:"medications"`
	Contacts    map[string]EmergencyContact `json:"contacts"`
	Events      map[string]Event           `json:"events"`
	Posts       map[string]Post            `json:"posts"`
}

func newMemoryState() memoryState {
	return memoryState{
		medications: make(map[string]Medication),
		contacts:    make(map[string]EmergencyContact),
		events:      make(map[string]Event),
		posts:       make(map[string]Post),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Medications: make(map[string]Medication, len(state.medications)),
		Contacts:    make(map[string]EmergencyContact, len(state.contacts)),
		Events:      make(map[string]Event, len(state.events)),
		Posts:       make(map[string]Post, len(state.posts)),
	}
	for k, v := range state.medications {
		s.Medications[k] = cloneMedication(v)
	}
	for k, v := range state.contacts {
		s.Contacts[k] = cloneContact(v)
	}
	for k, v := range state.events {
		s.Events[k] = cloneEvent(v)
	}
	for k, v := range state.posts {
		s.Posts[k] = clonePost(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Medications {
		state.medications[k] = cloneMedication(v)
	}
	for k, v := range s.Contacts {
		state.contacts[k] = cloneContact(v)
	}
	for k, v := range s.Events {
		state.events[k] = cloneEvent(v)
	}
	for k, v := range s.Posts {
		state.posts[k] = clonePost(v)
	}
	return state
}

// migrateSnapshot normalizes hydrated data: nil buckets become empty maps,
// dose schedules are deduplicated and sorted, attendee sets are deduplicated,
// and nil comment sequences become empty slices.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Medications == nil {
		snapshot.Medications = map[string]Medication{}
	}
	if snapshot.Contacts == nil {
		snapshot.Contacts = map[string]EmergencyContact{}
	}
	if snapshot.Events == nil {
		snapshot.Events = map[string]Event{}
	}
	if snapshot.Posts == nil {
		snapshot.Posts = map[string]Post{}
	}

	for id, med := range snapshot.Medications {
		med.Schedule = domain.NormalizeSchedule(med.Schedule)
		snapshot.Medications[id] = med
	}

	for id, event := range snapshot.Events {
		event.Attendees = dedupeStrings(event.Attendees)
		sort.Strings(event.Attendees)
		snapshot.Events[id] = event
	}

	for id, post := range snapshot.Posts {
		if post.Comments == nil {
			post.Comments = []domain.Comment{}
		}
		snapshot.Posts[id] = post
	}

	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.medications {
		cloned.medications[k] = cloneMedication(v)
	}
	for k, v := range s.contacts {
		cloned.contacts[k] = cloneContact(v)
	}
	for k, v := range s.events {
		cloned.events[k] = cloneEvent(v)
	}
	for k, v := range s.posts {
		cloned.posts[k] = clonePost(v)
	}
	return cloned
}

// The clone helpers keep nil and empty slices distinct: normalization
// guarantees stored posts carry a non-nil comment slice, and a clone must not
// collapse that back to nil on its way in or out of the state maps.
func cloneMedication(m Medication) Medication {
	cp := m
	if m.Schedule != nil {
		cp.Schedule = append([]string{}, m.Schedule...)
	}
	if m.LastTaken != nil {
		t := *m.LastTaken
		cp.LastTaken = &t
	}
	return cp
}

func cloneContact(c EmergencyContact) EmergencyContact { return c }

func cloneEvent(e Event) Event {
	cp := e
	if e.Attendees != nil {
		cp.Attendees = append([]string{}, e.Attendees...)
	}
	return cp
}

func clonePost(p Post) Post {
	cp := p
	if p.Comments != nil {
		cp.Comments = append([]domain.Comment{}, p.Comments...)
	}
	return cp
}

func dedupeStrings(values []string) []string {
	if values == nil {
		return nil
	}
	if len(values) <= 1 {
		return append([]string{}, values...)
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Store provides an in-memory transactional store for the care domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider. Intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListMedications returns all medications within the snapshot.
func (v transactionView) ListMedications() []Medication {
	out := make([]Medication, 0, len(v.state.medications))
	for _, m := range v.state.medications {
		out = append(out, cloneMedication(m))
	}
	return out
}

// ListContacts returns all emergency contacts within the snapshot.
func (v transactionView) ListContacts() []EmergencyContact {
	out := make([]EmergencyContact, 0, len(v.state.contacts))
	for _, c := range v.state.contacts {
		out = append(out, cloneContact(c))
	}
	return out
}

// ListEvents returns all events within the snapshot.
func (v transactionView) ListEvents() []Event {
	out := make([]Event, 0, len(v.state.events))
	for _, e := range v.state.events {
		out = append(out, cloneEvent(e))
	}
	return out
}

// ListPosts returns all posts within the snapshot.
func (v transactionView) ListPosts() []Post {
	out := make([]Post, 0, len(v.state.posts))
	for _, p := range v.state.posts {
		out = append(out, clonePost(p))
	}
	return out
}

// FindMedication retrieves a medication by ID from the snapshot.
func (v transactionView) FindMedication(id string) (Medication, bool) {
	m, ok := v.state.medications[id]
	if !ok {
		return Medication{}, false
	}
	return cloneMedication(m), true
}

// FindContact retrieves an emergency contact by ID from the snapshot.
func (v transactionView) FindContact(id string) (EmergencyContact, bool) {
	c, ok := v.state.contacts[id]
	if !ok {
		return EmergencyContact{}, false
	}
	return cloneContact(c), true
}

// FindEvent retrieves an event by ID from the snapshot.
func (v transactionView) FindEvent(id string) (Event, bool) {
	e, ok := v.state.events[id]
	if !ok {
		return Event{}, false
	}
	return cloneEvent(e), true
}

// FindPost retrieves a post by ID from the snapshot.
func (v transactionView) FindPost(id string) (Post, bool) {
	p, ok := v.state.posts[id]
	if !ok {
		return Post{}, false
	}
	return clonePost(p), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateMedication stores a new medication within the transaction.
func (tx *transaction) CreateMedication(m Medication) (Medication, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.state.medications[m.ID]; exists {
		return Medication{}, fmt.Errorf("medication %q already exists", m.ID)
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	m.Schedule = domain.NormalizeSchedule(m.Schedule)
	tx.state.medications[m.ID] = cloneMedication(m)
	tx.recordChange(Change{Entity: domain.EntityMedication, Action: domain.ActionCreate, After: cloneMedication(m)})
	return cloneMedication(m), nil
}

// UpdateMedication mutates a medication using the provided mutator function.
func (tx *transaction) UpdateMedication(id string, mutator func(*Medication) error) (Medication, error) {
	current, ok := tx.state.medications[id]
	if !ok {
		return Medication{}, domain.NotFoundError{Entity: domain.EntityMedication, ID: id}
	}
	before := cloneMedication(current)
	if err := mutator(&current); err != nil {
		return Medication{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	current.Schedule = domain.NormalizeSchedule(current.Schedule)
	tx.state.medications[id] = cloneMedication(current)
	tx.recordChange(Change{Entity: domain.EntityMedication, Action: domain.ActionUpdate, Before: before, After: cloneMedication(current)})
	return cloneMedication(current), nil
}

// DeleteMedication removes a medication. Deleting an absent id is a no-op.
func (tx *transaction) DeleteMedication(id string) error {
	current, ok := tx.state.medications[id]
	if !ok {
		return nil
	}
	delete(tx.state.medications, id)
	tx.recordChange(Change{Entity: domain.EntityMedication, Action: domain.ActionDelete, Before: cloneMedication(current)})
	return nil
}

// CreateContact stores a new emergency contact.
func (tx *transaction) CreateContact(c EmergencyContact) (EmergencyContact, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.contacts[c.ID]; exists {
		return EmergencyContact{}, fmt.Errorf("contact %q already exists", c.ID)
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.contacts[c.ID] = cloneContact(c)
	tx.recordChange(Change{Entity: domain.EntityContact, Action: domain.ActionCreate, After: cloneContact(c)})
	return cloneContact(c), nil
}

// UpdateContact mutates an existing emergency contact.
func (tx *transaction) UpdateContact(id string, mutator func(*EmergencyContact) error) (EmergencyContact, error) {
	current, ok := tx.state.contacts[id]
	if !ok {
		return EmergencyContact{}, domain.NotFoundError{Entity: domain.EntityContact, ID: id}
	}
	before := cloneContact(current)
	if err := mutator(&current); err != nil {
		return EmergencyContact{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.contacts[id] = cloneContact(current)
	tx.recordChange(Change{Entity: domain.EntityContact, Action: domain.ActionUpdate, Before: before, After: cloneContact(current)})
	return cloneContact(current), nil
}

// DeleteContact removes an emergency contact. Idempotent.
func (tx *transaction) DeleteContact(id string) error {
	current, ok := tx.state.contacts[id]
	if !ok {
		return nil
	}
	delete(tx.state.contacts, id)
	tx.recordChange(Change{Entity: domain.EntityContact, Action: domain.ActionDelete, Before: cloneContact(current)})
	return nil
}

// CreateEvent stores a new community event.
func (tx *transaction) CreateEvent(e Event) (Event, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.events[e.ID]; exists {
		return Event{}, fmt.Errorf("event %q already exists", e.ID)
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	e.Attendees = dedupeStrings(e.Attendees)
	sort.Strings(e.Attendees)
	tx.state.events[e.ID] = cloneEvent(e)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionCreate, After: cloneEvent(e)})
	return cloneEvent(e), nil
}

// UpdateEvent mutates an existing event.
func (tx *transaction) UpdateEvent(id string, mutator func(*Event) error) (Event, error) {
	current, ok := tx.state.events[id]
	if !ok {
		return Event{}, domain.NotFoundError{Entity: domain.EntityEvent, ID: id}
	}
	before := cloneEvent(current)
	if err := mutator(&current); err != nil {
		return Event{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	current.Attendees = dedupeStrings(current.Attendees)
	sort.Strings(current.Attendees)
	tx.state.events[id] = cloneEvent(current)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionUpdate, Before: before, After: cloneEvent(current)})
	return cloneEvent(current), nil
}

// DeleteEvent removes an event. Idempotent.
func (tx *transaction) DeleteEvent(id string) error {
	current, ok := tx.state.events[id]
	if !ok {
		return nil
	}
	delete(tx.state.events, id)
	tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionDelete, Before: cloneEvent(current)})
	return nil
}

// CreatePost stores a new discussion post.
func (tx *transaction) CreatePost(p Post) (Post, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.posts[p.ID]; exists {
		return Post{}, fmt.Errorf("post %q already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	if p.Comments == nil {
		p.Comments = []domain.Comment{}
	}
	tx.state.posts[p.ID] = clonePost(p)
	tx.recordChange(Change{Entity: domain.EntityPost, Action: domain.ActionCreate, After: clonePost(p)})
	return clonePost(p), nil
}

// UpdatePost mutates an existing post.
func (tx *transaction) UpdatePost(id string, mutator func(*Post) error) (Post, error) {
	current, ok := tx.state.posts[id]
	if !ok {
		return Post{}, domain.NotFoundError{Entity: domain.EntityPost, ID: id}
	}
	before := clonePost(current)
	if err := mutator(&current); err != nil {
		return Post{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.posts[id] = clonePost(current)
	tx.recordChange(Change{Entity: domain.EntityPost, Action: domain.ActionUpdate, Before: before, After: clonePost(current)})
	return clonePost(current), nil
}

// DeletePost removes a post. Idempotent.
func (tx *transaction) DeletePost(id string) error {
	current, ok := tx.state.posts[id]
	if !ok {
		return nil
	}
	delete(tx.state.posts, id)
	tx.recordChange(Change{Entity: domain.EntityPost, Action: domain.ActionDelete, Before: clonePost(current)})
	return nil
}

// ClearAll removes every record from every collection.
func (tx *transaction) ClearAll() {
	for id, m := range tx.state.medications {
		tx.recordChange(Change{Entity: domain.EntityMedication, Action: domain.ActionDelete, Before: cloneMedication(m)})
		delete(tx.state.medications, id)
	}
	for id, c := range tx.state.contacts {
		tx.recordChange(Change{Entity: domain.EntityContact, Action: domain.ActionDelete, Before: cloneContact(c)})
		delete(tx.state.contacts, id)
	}
	for id, e := range tx.state.events {
		tx.recordChange(Change{Entity: domain.EntityEvent, Action: domain.ActionDelete, Before: cloneEvent(e)})
		delete(tx.state.events, id)
	}
	for id, p := range tx.state.posts {
		tx.recordChange(Change{Entity: domain.EntityPost, Action: domain.ActionDelete, Before: clonePost(p)})
		delete(tx.state.posts, id)
	}
}

// Read helpers ---------------------------------------------------------------

// GetMedication retrieves a medication by ID from committed state.
func (s *Store) GetMedication(id string) (Medication, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.state.medications[id]
	if !ok {
		return Medication{}, false
	}
	return cloneMedication(m), true
}

// ListMedications returns all medications from committed state.
func (s *Store) ListMedications() []Medication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Medication, 0, len(s.state.medications))
	for _, m := range s.state.medications {
		out = append(out, cloneMedication(m))
	}
	return out
}

// GetContact retrieves an emergency contact by ID.
func (s *Store) GetContact(id string) (EmergencyContact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.contacts[id]
	if !ok {
		return EmergencyContact{}, false
	}
	return cloneContact(c), true
}

// ListContacts returns all emergency contacts.
func (s *Store) ListContacts() []EmergencyContact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EmergencyContact, 0, len(s.state.contacts))
	for _, c := range s.state.contacts {
		out = append(out, cloneContact(c))
	}
	return out
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.events[id]
	if !ok {
		return Event{}, false
	}
	return cloneEvent(e), true
}

// ListEvents returns all events.
func (s *Store) ListEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.state.events))
	for _, e := range s.state.events {
		out = append(out, cloneEvent(e))
	}
	return out
}

// GetPost retrieves a post by ID.
func (s *Store) GetPost(id string) (Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.posts[id]
	if !ok {
		return Post{}, false
	}
	return clonePost(p), true
}

// ListPosts returns all posts.
func (s *Store) ListPosts() []Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Post, 0, len(s.state.posts))
	for _, p := range s.state.posts {
		out = append(out, clonePost(p))
	}
	return out
}
