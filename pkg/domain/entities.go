// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by the carecompanion core.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityMedication identifies a medication record.
	EntityMedication EntityType = "medication"
	// EntityContact identifies an emergency contact record.
	EntityContact EntityType = "contact"
	// EntityEvent identifies a community event record.
	EntityEvent EntityType = "event"
	// EntityPost identifies a discussion post record.
	EntityPost EntityType = "post"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Medication represents a tracked medication with its dosing schedule.
// Schedule holds "HH:MM" time-of-day entries, unique and sorted ascending.
type Medication struct {
	Base
	Name         string     `json:"name"`
	Dosage       string     `json:"dosage"`
	Instructions string     `json:"instructions"`
	Schedule     []string   `json:"schedule"`
	LastTaken    *time.Time `json:"last_taken,omitempty"`
}

// TakenOn reports whether the medication was marked taken on the calendar
// day containing the reference instant, in the instant's location.
func (m Medication) TakenOn(ref time.Time) bool {
	if m.LastTaken == nil {
		return false
	}
	y1, m1, d1 := m.LastTaken.In(ref.Location()).Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// EmergencyContact represents a person reachable in an emergency.
type EmergencyContact struct {
	Base
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	Notes        string `json:"notes"`
}

// Event represents a community event with RSVP state.
// Attendees is a set of user identifiers, deduplicated and sorted.
type Event struct {
	Base
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	Organizer   string    `json:"organizer"`
	Attendees   []string  `json:"attendees"`
}

// Attending reports whether the given user identifier is in the attendee set.
func (e Event) Attending(userID string) bool {
	for _, id := range e.Attendees {
		if id == userID {
			return true
		}
	}
	return false
}

// Comment is a single reply on a discussion post. Comments preserve
// insertion order within the post.
type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Post represents a community discussion post. Likes is a plain counter:
// repeated likes keep incrementing and are not tied to a user.
type Post struct {
	Base
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Author   string    `json:"author"`
	Likes    int       `json:"likes"`
	Comments []Comment `json:"comments"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// NotFoundError is returned when an operation references an absent record.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return string(e.Entity) + " " + e.ID + " not found"
}
