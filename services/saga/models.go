// Package saga sequences multi-step external actions (booking,
// notification) so that a failure part-way through rolls the completed
// steps back in reverse order. Every step is recorded in the audit trail,
// and each action is compensated at most once.
package saga

import (
	"context"
	"time"
)

// Status is the lifecycle state of a saga.
// Pending -> InProgress -> Completed | Failed -> Compensating -> Compensated.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// ExecutorFunc performs the primary action. Executors are expected to be
// idempotent or self-checking; the coordinator retries them but does not
// deduplicate their side effects.
type ExecutorFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// CompensatorFunc undoes a previously successful action, given the
// original execution result.
type CompensatorFunc func(ctx context.Context, result map[string]any) error

// Action is one step of a saga. Compensated reports that the compensator
// ran and succeeded; a failed compensator leaves it false and records the
// error instead.
type Action struct {
	ID                string         `json:"id"`
	Type              string         `json:"type"`
	Name              string         `json:"name"`
	Input             map[string]any `json:"input,omitempty"`
	Result            map[string]any `json:"result,omitempty"`
	Error             string         `json:"error,omitempty"`
	Executed          bool           `json:"executed"`
	Compensated       bool           `json:"compensated"`
	CompensationError string         `json:"compensation_error,omitempty"`
	AuditID           string         `json:"audit_id,omitempty"`

	execute    ExecutorFunc
	compensate CompensatorFunc

	// at-most-once guard, set before the compensator is invoked
	compensationTried bool
}

// Saga is an ordered list of actions executed as a unit.
type Saga struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ActorID   string    `json:"actor_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Actions   []*Action `json:"actions"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome summarizes one ExecuteSaga or CompensateSaga call.
type Outcome struct {
	SagaID               string   `json:"saga_id"`
	Status               Status   `json:"status"`
	Executed             int      `json:"executed"`
	Compensated          int      `json:"compensated"`
	FailedAction         string   `json:"failed_action,omitempty"`
	Error                string   `json:"error,omitempty"`
	CompensationFailures []string `json:"compensation_failures,omitempty"`
}
