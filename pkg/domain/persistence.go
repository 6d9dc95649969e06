package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateMedication(Medication) (Medication, error)
	UpdateMedication(id string, mutator func(*Medication) error) (Medication, error)
	DeleteMedication(id string) error
	CreateContact(EmergencyContact) (EmergencyContact, error)
	UpdateContact(id string, mutator func(*EmergencyContact) error) (EmergencyContact, error)
	DeleteContact(id string) error
	CreateEvent(Event) (Event, error)
	UpdateEvent(id string, mutator func(*Event) error) (Event, error)
	DeleteEvent(id string) error
	CreatePost(Post) (Post, error)
	UpdatePost(id string, mutator func(*Post) error) (Post, error)
	DeletePost(id string) error
	ClearAll()
}

// TransactionView provides read-only access to snapshot data for rules
// and in-transaction lookups.
type TransactionView interface {
	ListMedications() []Medication
	ListContacts() []EmergencyContact
	ListEvents() []Event
	ListPosts() []Post
	FindMedication(id string) (Medication, bool)
	FindContact(id string) (EmergencyContact, bool)
	FindEvent(id string) (Event, bool)
	FindPost(id string) (Post, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetMedication(id string) (Medication, bool)
	ListMedications() []Medication
	GetContact(id string) (EmergencyContact, bool)
	ListContacts() []EmergencyContact
	GetEvent(id string) (Event, bool)
	ListEvents() []Event
	GetPost(id string) (Post, bool)
	ListPosts() []Post
}
