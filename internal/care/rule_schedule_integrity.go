package care

import (
	"context"
	"fmt"

	"carecompanion/pkg/domain"
)

// NewScheduleIntegrityRule returns the default in-transaction rule ensuring
// medication schedules only contain valid 24h "HH:MM" entries.
func NewScheduleIntegrityRule() domain.Rule {
	return scheduleIntegrityRule{}
}

type scheduleIntegrityRule struct{}

func (scheduleIntegrityRule) Name() string { return "schedule_integrity" }

func (scheduleIntegrityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		med, ok := change.After.(domain.Medication)
		if !ok {
			continue
		}
		for _, entry := range med.Schedule {
			if _, err := domain.ParseClock(entry); err != nil {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "schedule_integrity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("medication %s has invalid schedule entry %q", med.ID, entry),
					Entity:   domain.EntityMedication,
					EntityID: med.ID,
				})
			}
		}
	}
	return res, nil
}
