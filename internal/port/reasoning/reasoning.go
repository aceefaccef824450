// Package reasoning defines the port to the external reasoning service used
// to classify tickets and drive multi-step resolutions. Its prompting is opaque
// to callers; latency is unbounded and failures are expected.
package reasoning

import "context"

// Step is one piece of evidence gathered during a multi-step resolution.
type Step struct {
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// Decision kinds returned by Decide.
const (
	DecisionInspect   = "inspect"
	DecisionTerminate = "terminate"
	DecisionEscalate  = "escalate"
	DecisionNoAction  = "no_action"
)

// Decision is the reasoning service's next move in a multi-step resolution.
// An inspect decision names a pid, a query text fragment, or neither to list
// every running backend.
type Decision struct {
	Kind       string `json:"decision"`
	PID        int32  `json:"pid,omitempty"`
	Query      string `json:"query,omitempty"`
	Resolution string `json:"resolution"`
	Reason     string `json:"reason"`
}

// Reasoner is the opaque reasoning collaborator.
type Reasoner interface {
	// Classify returns a raw route tag for the ticket text.
	Classify(ctx context.Context, ticket string) (string, error)

	// Decide returns the next decision given the ticket and the evidence so far.
	Decide(ctx context.Context, ticket string, evidence []Step) (*Decision, error)
}
