package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how long entries live unless configured otherwise.
const DefaultRetention = 90 * 24 * time.Hour

// Manager owns the audit trail for all tenants over one Store. Writes are
// best-effort by design: a store outage is logged and never blocks the
// business action that was being audited.
type Manager struct {
	store     Store
	retention time.Duration
	logger    *slog.Logger
}

// NewManager creates a Manager. A zero retention means DefaultRetention.
func NewManager(store Store, retention time.Duration, logger *slog.Logger) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, retention: retention, logger: logger}
}

func entryKey(tenantID, id string) string { return "audit:" + tenantID + ":entry:" + id }
func actorKey(tenantID, actor string) string {
	return "audit:" + tenantID + ":actor:" + actor
}
func typeKey(tenantID, actionType string) string {
	return "audit:" + tenantID + ":type:" + actionType
}
func dateKey(tenantID string, t time.Time) string {
	return "audit:" + tenantID + ":date:" + t.UTC().Format("2006-01-02")
}

// LogAction writes a pending entry immediately before an external action
// executes, indexed by actor, action type and creation date. The entry is
// returned even when persistence fails so callers can proceed.
func (m *Manager) LogAction(ctx context.Context, req LogRequest) *Entry {
	now := time.Now().UTC()
	e := &Entry{
		ID:                     uuid.New().String(),
		TenantID:               req.TenantID,
		ActorID:                req.ActorID,
		ActionType:             req.ActionType,
		ActionName:             req.ActionName,
		Status:                 StatusPending,
		Compensable:            req.Compensable,
		CompensationDescriptor: req.CompensationDescriptor,
		Input:                  req.Input,
		Tags:                   req.Tags,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := m.persist(ctx, e); err != nil {
		m.logger.Error("audit write failed, continuing without persistence",
			"entry", e.ID, "action", e.ActionName, "error", err)
		return e
	}

	for _, idx := range []string{
		actorKey(e.TenantID, e.ActorID),
		typeKey(e.TenantID, e.ActionType),
		dateKey(e.TenantID, now),
	} {
		if err := m.store.SAdd(ctx, idx, e.ID, m.retention); err != nil {
			m.logger.Error("audit index write failed", "index", idx, "entry", e.ID, "error", err)
		}
	}
	return e
}

// MarkSuccess transitions a pending entry to success. Idempotent; returns
// false (without raising) when the entry does not exist.
func (m *Manager) MarkSuccess(ctx context.Context, tenantID, id string, output map[string]any, duration time.Duration) bool {
	return m.markTerminal(ctx, tenantID, id, StatusSuccess, output, "", duration)
}

// MarkFailed transitions a pending entry to failed. Idempotent; returns
// false when the entry does not exist.
func (m *Manager) MarkFailed(ctx context.Context, tenantID, id, errMsg string, duration time.Duration) bool {
	return m.markTerminal(ctx, tenantID, id, StatusFailed, nil, errMsg, duration)
}

func (m *Manager) markTerminal(ctx context.Context, tenantID, id string, status Status, output map[string]any, errMsg string, duration time.Duration) bool {
	e, err := m.GetByID(ctx, tenantID, id)
	if err != nil {
		m.logger.Warn("mark on unknown audit entry is a no-op", "entry", id, "status", status, "error", err)
		return false
	}
	if e.Status == status {
		return true
	}
	if e.Status != StatusPending {
		m.logger.Warn("audit entry already terminal, ignoring transition",
			"entry", id, "current", e.Status, "requested", status)
		return false
	}

	e.Status = status
	e.Output = output
	e.Error = errMsg
	e.DurationMS = duration.Milliseconds()
	e.UpdatedAt = time.Now().UTC()

	if err := m.persist(ctx, e); err != nil {
		m.logger.Error("audit update failed", "entry", id, "error", err)
	}
	return true
}

// Compensate transitions a successful, compensable entry to compensated,
// stamping reason, operator and timestamp. Any other starting state is an
// InvalidStateError; the caller logs it and moves on.
func (m *Manager) Compensate(ctx context.Context, tenantID, id, reason, by string) error {
	e, err := m.GetByID(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("compensate: %w", err)
	}
	if !e.Compensable {
		return &InvalidStateError{ID: id, Status: e.Status, Msg: "entry is not compensable"}
	}
	if e.Status != StatusSuccess {
		return &InvalidStateError{ID: id, Status: e.Status, Msg: "only successful entries can be compensated"}
	}

	now := time.Now().UTC()
	e.Status = StatusCompensated
	e.CompensatedReason = reason
	e.CompensatedBy = by
	e.CompensatedAt = &now
	e.UpdatedAt = now

	if err := m.persist(ctx, e); err != nil {
		m.logger.Error("audit compensation update failed", "entry", id, "error", err)
	}
	return nil
}

// GetByID loads one entry.
func (m *Manager) GetByID(ctx context.Context, tenantID, id string) (*Entry, error) {
	data, err := m.store.Get(ctx, entryKey(tenantID, id))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode audit entry %s: %w", id, err)
	}
	return &e, nil
}

// GetByActor returns an actor's entries newest first, optionally filtered
// by action type. limit <= 0 means no limit.
func (m *Manager) GetByActor(ctx context.Context, tenantID, actorID, actionType string, limit int) ([]*Entry, error) {
	entries, err := m.loadSet(ctx, tenantID, actorKey(tenantID, actorID))
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range entries {
		if actionType != "" && e.ActionType != actionType {
			continue
		}
		out = append(out, e)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetByType returns entries of one action type, optionally filtered by
// status, newest first.
func (m *Manager) GetByType(ctx context.Context, tenantID, actionType string, status Status) ([]*Entry, error) {
	entries, err := m.loadSet(ctx, tenantID, typeKey(tenantID, actionType))
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range entries {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	sortNewestFirst(out)
	return out, nil
}

// CompensableCandidates returns an actor's entries that are compensable
// and still successful, optionally scoped to one conversation (matched
// against the conversation_id tag).
func (m *Manager) CompensableCandidates(ctx context.Context, tenantID, actorID, conversationID string) ([]*Entry, error) {
	entries, err := m.loadSet(ctx, tenantID, actorKey(tenantID, actorID))
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range entries {
		if !e.Compensable || e.Status != StatusSuccess {
			continue
		}
		if conversationID != "" && e.Tags["conversation_id"] != conversationID {
			continue
		}
		out = append(out, e)
	}
	sortNewestFirst(out)
	return out, nil
}

// CountsByType aggregates an action type's entries per status.
func (m *Manager) CountsByType(ctx context.Context, tenantID, actionType string) (map[Status]int, error) {
	entries, err := m.loadSet(ctx, tenantID, typeKey(tenantID, actionType))
	if err != nil {
		return nil, err
	}
	counts := map[Status]int{}
	for _, e := range entries {
		counts[e.Status]++
	}
	return counts, nil
}

// PurgeActor removes every entry of one actor, the only deletion path
// besides TTL expiry. Index sets keep dangling ids; loads skip them.
func (m *Manager) PurgeActor(ctx context.Context, tenantID, actorID string) (int, error) {
	ids, err := m.store.SMembers(ctx, actorKey(tenantID, actorID))
	if err != nil {
		return 0, fmt.Errorf("purge actor: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, entryKey(tenantID, id))
	}
	keys = append(keys, actorKey(tenantID, actorID))
	if err := m.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("purge actor: %w", err)
	}
	return len(ids), nil
}

func (m *Manager) persist(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return m.store.Put(ctx, entryKey(e.TenantID, e.ID), data, m.retention)
}

// loadSet resolves an index set to its live entries, skipping ids whose
// entries expired or were purged.
func (m *Manager) loadSet(ctx context.Context, tenantID, key string) ([]*Entry, error) {
	ids, err := m.store.SMembers(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load audit index %s: %w", key, err)
	}
	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		e, err := m.GetByID(ctx, tenantID, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func sortNewestFirst(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}
