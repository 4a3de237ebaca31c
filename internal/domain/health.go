package domain

// ComponentHealth is one component's self-reported status, collected
// periodically by the orchestrator's supervisor loop.
type ComponentHealth struct {
	Component string
	Healthy   bool
	Detail    string
}

// HealthReporter is implemented by every supervised component.
type HealthReporter interface {
	Health() ComponentHealth
}
