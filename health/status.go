package health

// Health status constants represent the operational state of a component.
const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the component is operational but lagging.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy = "unhealthy"
)

// Status is the health state of one component or of the whole runtime.
type Status struct {
	// State is one of StatusHealthy, StatusDegraded or StatusUnhealthy.
	State string `json:"state" yaml:"state"`

	// Message describes the state.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Details carries check-specific values.
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// IsHealthy reports whether the state is healthy.
func (s Status) IsHealthy() bool { return s.State == StatusHealthy }

// IsDegraded reports whether the state is degraded.
func (s Status) IsDegraded() bool { return s.State == StatusDegraded }

// IsUnhealthy reports whether the state is unhealthy.
func (s Status) IsUnhealthy() bool { return s.State == StatusUnhealthy }

// Healthy returns a healthy status.
func Healthy(message string) Status {
	return Status{State: StatusHealthy, Message: message}
}

// Degraded returns a degraded status.
func Degraded(message string, details map[string]any) Status {
	return Status{State: StatusDegraded, Message: message, Details: details}
}

// Unhealthy returns an unhealthy status.
func Unhealthy(message string, details map[string]any) Status {
	return Status{State: StatusUnhealthy, Message: message, Details: details}
}
