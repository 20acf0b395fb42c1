package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowcore/services/audit"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// Config tunes the primary-action retry behavior. Retries use
// exponential backoff: delay = BaseDelay * 2^(attempt-1).
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Coordinator orchestrates sagas. Actions within one saga run strictly
// sequentially so rollback ordering stays well-defined; independent sagas
// may run concurrently and share nothing but the audit trail.
type Coordinator struct {
	mu     sync.Mutex
	sagas  map[string]*Saga
	audit  *audit.Manager
	cfg    Config
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator writing through the given audit
// manager.
func NewCoordinator(auditMgr *audit.Manager, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sagas:  map[string]*Saga{},
		audit:  auditMgr,
		cfg:    cfg,
		logger: logger,
	}
}

// CreateSaga creates a saga in Pending for the given actor.
func (c *Coordinator) CreateSaga(tenantID, actorID, name string) *Saga {
	now := time.Now().UTC()
	s := &Saga{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ActorID:   actorID,
		Name:      name,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	c.sagas[s.ID] = s
	c.mu.Unlock()
	return s
}

// Get returns a saga by id.
func (c *Coordinator) Get(sagaID string) (*Saga, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sagas[sagaID]
	return s, ok
}

// AddAction appends an action to a pending saga. The compensator may be
// nil for actions that cannot be undone. Rejected once the saga has left
// Pending.
func (c *Coordinator) AddAction(sagaID, actionType, name string, exec ExecutorFunc, comp CompensatorFunc, input map[string]any) error {
	if exec == nil {
		return fmt.Errorf("action %q has no executor", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sagas[sagaID]
	if !ok {
		return fmt.Errorf("unknown saga %q", sagaID)
	}
	if s.Status != StatusPending {
		return fmt.Errorf("saga %q is %s, actions can only be added while pending", sagaID, s.Status)
	}
	s.Actions = append(s.Actions, &Action{
		ID:         uuid.New().String(),
		Type:       actionType,
		Name:       name,
		Input:      input,
		execute:    exec,
		compensate: comp,
	})
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// ExecuteSaga runs the actions strictly in insertion order. Each action
// is retried with exponential backoff; once retries are exhausted the
// saga fails and the previously executed actions are compensated in
// reverse order immediately. Cancellation of ctx stops execution but
// does not auto-compensate; call CompensateSaga to unwind.
func (c *Coordinator) ExecuteSaga(ctx context.Context, sagaID string) (*Outcome, error) {
	c.mu.Lock()
	s, ok := c.sagas[sagaID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown saga %q", sagaID)
	}
	if s.Status != StatusPending {
		c.mu.Unlock()
		return nil, fmt.Errorf("saga %q is %s, expected pending", sagaID, s.Status)
	}
	s.Status = StatusInProgress
	s.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()

	logger := c.logger.With("saga", s.ID, "name", s.Name, "tenant", s.TenantID)
	logger.Info("saga started", "actions", len(s.Actions))

	for i, a := range s.Actions {
		entry := c.audit.LogAction(ctx, audit.LogRequest{
			TenantID:    s.TenantID,
			ActorID:     s.ActorID,
			ActionType:  a.Type,
			ActionName:  a.Name,
			Input:       a.Input,
			Compensable: a.compensate != nil,
			Tags:        map[string]string{"saga_id": s.ID},
		})
		a.AuditID = entry.ID

		started := time.Now()
		result, err := c.executeWithRetry(ctx, logger, a)
		elapsed := time.Since(started)

		if err != nil {
			a.Error = err.Error()
			c.audit.MarkFailed(ctx, s.TenantID, a.AuditID, err.Error(), elapsed)
			c.setStatus(s, StatusFailed)
			logger.Error("saga action failed, compensating", "action", a.Name, "position", i, "error", err)

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Caller cancellation: leave the saga failed and let the
				// caller decide whether to unwind.
				return c.outcome(s, a.Name, err.Error(), nil), nil
			}

			failures := c.rollback(ctx, logger, s, fmt.Sprintf("action %q failed: %v", a.Name, err), "saga-coordinator")
			return c.outcome(s, a.Name, err.Error(), failures), nil
		}

		a.Result = result
		a.Executed = true
		c.audit.MarkSuccess(ctx, s.TenantID, a.AuditID, result, elapsed)
	}

	c.setStatus(s, StatusCompleted)
	logger.Info("saga completed", "actions", len(s.Actions))
	return c.outcome(s, "", "", nil), nil
}

// Begin moves a pending saga to in progress, for callers that execute
// actions themselves and record the results after the fact.
func (c *Coordinator) Begin(sagaID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sagas[sagaID]
	if !ok {
		return fmt.Errorf("unknown saga %q", sagaID)
	}
	if s.Status != StatusPending {
		return fmt.Errorf("saga %q is %s, expected pending", sagaID, s.Status)
	}
	s.Status = StatusInProgress
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordExecuted appends an already-performed action to an in-progress
// saga so a later CompensateSaga can undo it. The audit entry is written
// as successful immediately.
func (c *Coordinator) RecordExecuted(ctx context.Context, sagaID, actionType, name string, input, result map[string]any, comp CompensatorFunc) error {
	c.mu.Lock()
	s, ok := c.sagas[sagaID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown saga %q", sagaID)
	}
	if s.Status != StatusInProgress {
		c.mu.Unlock()
		return fmt.Errorf("saga %q is %s, executed actions can only be recorded while in progress", sagaID, s.Status)
	}
	a := &Action{
		ID:       uuid.New().String(),
		Type:     actionType,
		Name:     name,
		Input:    input,
		Result:   result,
		Executed: true,
		execute: func(context.Context, map[string]any) (map[string]any, error) {
			return result, nil
		},
		compensate: comp,
	}
	s.Actions = append(s.Actions, a)
	s.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()

	entry := c.audit.LogAction(ctx, audit.LogRequest{
		TenantID:    s.TenantID,
		ActorID:     s.ActorID,
		ActionType:  actionType,
		ActionName:  name,
		Input:       input,
		Compensable: comp != nil,
		Tags:        map[string]string{"saga_id": s.ID},
	})
	a.AuditID = entry.ID
	c.audit.MarkSuccess(ctx, s.TenantID, entry.ID, result, 0)
	return nil
}

// Fail marks an in-progress saga failed so it can be compensated.
func (c *Coordinator) Fail(sagaID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sagas[sagaID]
	if !ok {
		return fmt.Errorf("unknown saga %q", sagaID)
	}
	if s.Status != StatusInProgress {
		return fmt.Errorf("saga %q is %s, expected in progress", sagaID, s.Status)
	}
	s.Status = StatusFailed
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// CompensateSaga unwinds a saga on demand, for example a user-initiated
// cancellation of a fully completed booking. Allowed from Completed or
// Failed.
func (c *Coordinator) CompensateSaga(ctx context.Context, sagaID, reason string) (*Outcome, error) {
	c.mu.Lock()
	s, ok := c.sagas[sagaID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown saga %q", sagaID)
	}
	if s.Status != StatusCompleted && s.Status != StatusFailed {
		c.mu.Unlock()
		return nil, fmt.Errorf("saga %q is %s, only completed or failed sagas can be compensated", sagaID, s.Status)
	}
	c.mu.Unlock()

	logger := c.logger.With("saga", s.ID, "name", s.Name, "tenant", s.TenantID)
	logger.Info("saga compensation requested", "reason", reason)

	failures := c.rollback(ctx, logger, s, reason, s.ActorID)
	return c.outcome(s, "", "", failures), nil
}

// executeWithRetry invokes the action's executor with bounded retries.
func (c *Coordinator) executeWithRetry(ctx context.Context, logger *slog.Logger, a *Action) (map[string]any, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := a.execute(ctx, a.Input)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == c.cfg.MaxAttempts {
			break
		}
		delay := c.cfg.BaseDelay * (1 << (attempt - 1))
		logger.Warn("saga action attempt failed, backing off",
			"action", a.Name, "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("exhausted %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// rollback compensates executed actions in strict reverse order. A
// failing compensator is recorded and never stops the remaining rollback.
// The per-action tried flag guarantees at most one compensation attempt,
// even across repeated rollback calls; Compensated is set only when the
// compensator succeeds.
func (c *Coordinator) rollback(ctx context.Context, logger *slog.Logger, s *Saga, reason, by string) []string {
	c.setStatus(s, StatusCompensating)
	var failures []string

	for i := len(s.Actions) - 1; i >= 0; i-- {
		a := s.Actions[i]
		if !a.Executed || a.compensationTried {
			continue
		}
		if a.compensate == nil {
			logger.Info("action has no compensator, skipping", "action", a.Name)
			continue
		}

		a.compensationTried = true
		if err := a.compensate(ctx, a.Result); err != nil {
			a.CompensationError = err.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", a.Name, err))
			logger.Error("compensation step failed, continuing rollback", "action", a.Name, "error", err)
			continue
		}
		a.Compensated = true

		if err := c.audit.Compensate(ctx, s.TenantID, a.AuditID, reason, by); err != nil {
			// Audit bookkeeping must never abort the rollback.
			logger.Warn("could not mark audit entry compensated", "action", a.Name, "error", err)
		}
		logger.Info("action compensated", "action", a.Name)
	}

	c.setStatus(s, StatusCompensated)
	return failures
}

func (c *Coordinator) setStatus(s *Saga, status Status) {
	c.mu.Lock()
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Coordinator) outcome(s *Saga, failedAction, errMsg string, compFailures []string) *Outcome {
	executed, compensated := 0, 0
	for _, a := range s.Actions {
		if a.Executed {
			executed++
		}
		if a.Compensated {
			compensated++
		}
	}
	return &Outcome{
		SagaID:               s.ID,
		Status:               s.Status,
		Executed:             executed,
		Compensated:          compensated,
		FailedAction:         failedAction,
		Error:                errMsg,
		CompensationFailures: compFailures,
	}
}
