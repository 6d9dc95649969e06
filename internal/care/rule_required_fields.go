package care

import (
	"context"
	"fmt"
	"strings"

	"carecompanion/pkg/domain"
)

// NewRequiredFieldsRule returns the default in-transaction rule enforcing
// that created and updated records carry their identifying fields.
func NewRequiredFieldsRule() domain.Rule {
	return requiredFieldsRule{}
}

type requiredFieldsRule struct{}

func (requiredFieldsRule) Name() string { return "required_fields" }

func (requiredFieldsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action == domain.ActionDelete {
			continue
		}
		switch after := change.After.(type) {
		case domain.Medication:
			if strings.TrimSpace(after.Name) == "" {
				res.Violations = append(res.Violations, requiredViolation(domain.EntityMedication, after.ID, "name"))
			}
		case domain.EmergencyContact:
			if strings.TrimSpace(after.Name) == "" {
				res.Violations = append(res.Violations, requiredViolation(domain.EntityContact, after.ID, "name"))
			}
			if strings.TrimSpace(after.Phone) == "" {
				res.Violations = append(res.Violations, requiredViolation(domain.EntityContact, after.ID, "phone"))
			}
		case domain.Event:
			if strings.TrimSpace(after.Title) == "" {
				res.Violations = append(res.Violations, requiredViolation(domain.EntityEvent, after.ID, "title"))
			}
			if after.Date.IsZero() {
				res.Violations = append(res.Violations, requiredViolation(domain.EntityEvent, after.ID, "date"))
			}
		case domain.Post:
			if strings.TrimSpace(after.Title) == "" {
				res.Violations = append(res.Violations, requiredViolation(domain.EntityPost, after.ID, "title"))
			}
			if strings.TrimSpace(after.Content) == "" {
				res.Violations = append(res.Violations, requiredViolation(domain.EntityPost, after.ID, "content"))
			}
		}
	}
	return res, nil
}

func requiredViolation(entity domain.EntityType, id, field string) domain.Violation {
	return domain.Violation{
		Rule:     "required_fields",
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("%s %s missing required field %s", entity, id, field),
		Entity:   entity,
		EntityID: id,
	}
}
