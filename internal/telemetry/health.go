package telemetry

import "time"

// ProviderHealth is the current health of the upstream client, reported by
// the health endpoints and the dashboard.
type ProviderHealth struct {
	// Provider is the upstream name, e.g. "thingspeak".
	Provider string `json:"provider"`

	// LastSuccess is the timestamp of the last successful API call.
	LastSuccess time.Time `json:"lastSuccess"`

	// LastFailure is the timestamp of the last failed API call.
	LastFailure time.Time `json:"lastFailure"`

	// LastError is the message from the last failure, if any.
	LastError string `json:"lastError,omitempty"`

	// LastDuration is the latency of the last API call.
	LastDuration time.Duration `json:"lastDuration"`

	// ConsecutiveFailures counts failed calls since the last success.
	ConsecutiveFailures int `json:"consecutiveFailures"`

	// CircuitState is the breaker state (closed, open, half-open).
	CircuitState string `json:"circuitState"`

	// RateMinuteUsed and RateDayUsed report current window usage.
	RateMinuteUsed int `json:"rateMinuteUsed"`
	RateDayUsed    int `json:"rateDayUsed"`
}

// HealthProvider is implemented by clients that expose health status.
// Health must be thread-safe and non-blocking.
type HealthProvider interface {
	Health() ProviderHealth
}
