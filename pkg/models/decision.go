package models

import "time"

// DecisionKind classifies one audit-trail entry.
type DecisionKind string

const (
	DecisionApproved   DecisionKind = "APPROVED"
	DecisionRejected   DecisionKind = "REJECTED"
	DecisionSkipped    DecisionKind = "SKIPPED"
	DecisionAutoPassed DecisionKind = "AUTO_PASSED"
	DecisionCancelled  DecisionKind = "CANCELLED"
)

// SystemActor is the reserved identity recorded on synthetic transitions
// (condition skips and auto-passes) so the trail fully reconstructs why an
// instance reached its terminal state.
const SystemActor = "system"

// Decision is one immutable audit-trail entry: an action taken on one step of
// one instance. Decisions are append-only, ordered by Seq, and never updated or
// deleted. IdempotencyToken, when set by the caller, makes resubmission of the
// same decision a no-op.
type Decision struct {
	InstanceID       string       `json:"instance_id"`
	Seq              int          `json:"seq"`
	StepOrder        int          `json:"step_order"`
	Kind             DecisionKind `json:"kind"`
	Actor            string       `json:"actor"`
	Comment          string       `json:"comment,omitempty"`
	IdempotencyToken string       `json:"idempotency_token,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}
