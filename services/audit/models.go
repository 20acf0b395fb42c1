package audit

import "time"

// Status is the lifecycle state of an audit entry. Legal transitions:
// pending -> success | failed, success -> compensated.
type Status string

const (
	StatusPending     Status = "pending"
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
	StatusCompensated Status = "compensated"
)

// Entry is a durable record of one external or state-changing action.
// The id is immutable and globally unique per tenant.
type Entry struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	ActorID     string         `json:"actor_id"`
	ActionType  string         `json:"action_type"`
	ActionName  string         `json:"action_name"`
	Status      Status         `json:"status"`
	Compensable bool           `json:"compensable"`

	// CompensationDescriptor tells the compensating side how to undo the
	// action (tool name, original booking id and the like). Present only
	// on compensable entries.
	CompensationDescriptor map[string]any `json:"compensation_descriptor,omitempty"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`

	DurationMS int64             `json:"duration_ms,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`

	CompensatedReason string     `json:"compensated_reason,omitempty"`
	CompensatedBy     string     `json:"compensated_by,omitempty"`
	CompensatedAt     *time.Time `json:"compensated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogRequest is the input to Manager.LogAction.
type LogRequest struct {
	TenantID               string
	ActorID                string
	ActionType             string
	ActionName             string
	Input                  map[string]any
	Compensable            bool
	CompensationDescriptor map[string]any
	Tags                   map[string]string
}

// InvalidStateError reports an illegal entry transition, such as
// compensating a non-compensable or already-compensated entry.
type InvalidStateError struct {
	ID     string
	Status Status
	Msg    string
}

func (e *InvalidStateError) Error() string {
	return "audit entry " + e.ID + " (" + string(e.Status) + "): " + e.Msg
}
