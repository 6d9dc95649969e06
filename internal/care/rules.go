package care

// NewDefaultRulesEngine returns an engine with the built-in care rules registered.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewRequiredFieldsRule())
	engine.Register(NewScheduleIntegrityRule())
	engine.Register(NewAttendeeIntegrityRule())
	return engine
}
