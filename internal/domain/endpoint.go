package domain

import "time"

// Capability names the kind of API operation an endpoint can serve.
type Capability string

const (
	CapabilityQuote Capability = "quote"
	CapabilityPrice Capability = "price"
	CapabilitySwap  Capability = "swap"
	CapabilityRPC   Capability = "rpc"
)

// Endpoint is one candidate API host for a capability.
type Endpoint struct {
	ID         string
	Capability Capability
	BaseURL    string
	Version    string
}

// AttemptOutcome classifies how a single request attempt ended.
type AttemptOutcome string

const (
	OutcomeSuccess        AttemptOutcome = "success"
	OutcomeTimeout        AttemptOutcome = "timeout"
	OutcomeTransportError AttemptOutcome = "transport_error"
	OutcomeRemoteError    AttemptOutcome = "remote_error"
)

// RequestAttempt is the ephemeral record of one attempt against one endpoint.
// It only feeds endpoint health accounting and is never persisted.
type RequestAttempt struct {
	EndpointID string
	StartedAt  time.Time
	Outcome    AttemptOutcome
	Latency    time.Duration
}
