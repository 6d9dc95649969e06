package care

import (
	"context"
	"fmt"
	"time"

	"carecompanion/pkg/domain"
)

// NewAttendeeIntegrityRule returns the in-transaction rule validating event
// attendee sets. Empty attendee identifiers block the commit; joining an
// event whose date has already passed only warns.
func NewAttendeeIntegrityRule() domain.Rule {
	return attendeeIntegrityRule{now: func() time.Time { return time.Now().UTC() }}
}

type attendeeIntegrityRule struct {
	now func() time.Time
}

func (attendeeIntegrityRule) Name() string { return "attendee_integrity" }

func (r attendeeIntegrityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		event, ok := change.After.(domain.Event)
		if !ok {
			continue
		}
		for _, attendee := range event.Attendees {
			if attendee == "" {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "attendee_integrity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("event %s has an empty attendee identifier", event.ID),
					Entity:   domain.EntityEvent,
					EntityID: event.ID,
				})
				break
			}
		}
		if change.Action != domain.ActionUpdate {
			continue
		}
		before, ok := change.Before.(domain.Event)
		if !ok {
			continue
		}
		if len(event.Attendees) > len(before.Attendees) && !event.Date.IsZero() && event.Date.Before(r.now()) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "attendee_integrity",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("event %s already took place on %s", event.ID, event.Date.Format(time.RFC3339)),
				Entity:   domain.EntityEvent,
				EntityID: event.ID,
			})
		}
	}
	return res, nil
}
