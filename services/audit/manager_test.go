package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(NewMemoryStore(), 0, nil)
}

func logTestAction(t *testing.T, m *Manager, actor, actionType, name string, compensable bool) *Entry {
	t.Helper()
	e := m.LogAction(context.Background(), LogRequest{
		TenantID:    "tenant-1",
		ActorID:     actor,
		ActionType:  actionType,
		ActionName:  name,
		Input:       map[string]any{"k": "v"},
		Compensable: compensable,
	})
	require.NotNil(t, e)
	return e
}

func TestLogAction_RoundTrip(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	e := m.LogAction(ctx, LogRequest{
		TenantID:               "tenant-1",
		ActorID:                "user-1",
		ActionType:             "booking",
		ActionName:             "book_appointment",
		Input:                  map[string]any{"date": "2026-09-01"},
		Compensable:            true,
		CompensationDescriptor: map[string]any{"tool": "cancel_appointment"},
		Tags:                   map[string]string{"conversation_id": "conv-9"},
	})

	got, err := m.GetByID(ctx, "tenant-1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, "booking", got.ActionType)
	assert.Equal(t, "book_appointment", got.ActionName)
	assert.Equal(t, map[string]any{"date": "2026-09-01"}, got.Input)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.Compensable)
}

func TestMarkSuccessAndFailed(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	e1 := logTestAction(t, m, "user-1", "booking", "book", true)
	assert.True(t, m.MarkSuccess(ctx, "tenant-1", e1.ID, map[string]any{"id": "b1"}, 40*time.Millisecond))

	got, err := m.GetByID(ctx, "tenant-1", e1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, map[string]any{"id": "b1"}, got.Output)

	// Idempotent: a second identical transition is still true.
	assert.True(t, m.MarkSuccess(ctx, "tenant-1", e1.ID, nil, 0))

	// A conflicting transition on a terminal entry is refused.
	assert.False(t, m.MarkFailed(ctx, "tenant-1", e1.ID, "late failure", 0))

	e2 := logTestAction(t, m, "user-1", "booking", "book", true)
	assert.True(t, m.MarkFailed(ctx, "tenant-1", e2.ID, "no slots", 0))
	got, err = m.GetByID(ctx, "tenant-1", e2.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "no slots", got.Error)
}

func TestMark_NonexistentIsNoOp(t *testing.T) {
	m := testManager()
	assert.False(t, m.MarkSuccess(context.Background(), "tenant-1", "ghost", nil, 0))
	assert.False(t, m.MarkFailed(context.Background(), "tenant-1", "ghost", "x", 0))
}

func TestCompensate(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	e := logTestAction(t, m, "user-1", "booking", "book", true)
	require.True(t, m.MarkSuccess(ctx, "tenant-1", e.ID, nil, 0))

	require.NoError(t, m.Compensate(ctx, "tenant-1", e.ID, "user cancelled", "operator-3"))

	got, err := m.GetByID(ctx, "tenant-1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, got.Status)
	assert.Equal(t, "user cancelled", got.CompensatedReason)
	assert.Equal(t, "operator-3", got.CompensatedBy)
	require.NotNil(t, got.CompensatedAt)

	// Second compensation fails without mutating anything.
	err = m.Compensate(ctx, "tenant-1", e.ID, "again", "operator-4")
	require.Error(t, err)
	assert.IsType(t, &InvalidStateError{}, err)

	unchanged, _ := m.GetByID(ctx, "tenant-1", e.ID)
	assert.Equal(t, "user cancelled", unchanged.CompensatedReason)
	assert.Equal(t, "operator-3", unchanged.CompensatedBy)
}

func TestCompensate_InvalidStates(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	// Pending entries cannot be compensated.
	pending := logTestAction(t, m, "user-1", "booking", "book", true)
	err := m.Compensate(ctx, "tenant-1", pending.ID, "r", "op")
	assert.IsType(t, &InvalidStateError{}, err)

	// Non-compensable entries cannot be compensated.
	plain := logTestAction(t, m, "user-1", "notify", "send_email", false)
	require.True(t, m.MarkSuccess(ctx, "tenant-1", plain.ID, nil, 0))
	err = m.Compensate(ctx, "tenant-1", plain.ID, "r", "op")
	assert.IsType(t, &InvalidStateError{}, err)
}

func TestGetByActor_NewestFirst(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e := logTestAction(t, m, "user-1", "booking", "book", false)
		ids = append(ids, e.ID)
		time.Sleep(2 * time.Millisecond)
	}
	logTestAction(t, m, "user-2", "booking", "book", false)

	entries, err := m.GetByActor(ctx, "tenant-1", "user-1", "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].ID)
	assert.Equal(t, ids[0], entries[2].ID)

	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].CreatedAt.After(entries[i-1].CreatedAt))
	}

	limited, err := m.GetByActor(ctx, "tenant-1", "user-1", "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestGetByActor_TypeFilter(t *testing.T) {
	m := testManager()
	logTestAction(t, m, "user-1", "booking", "book", false)
	logTestAction(t, m, "user-1", "notify", "send_email", false)

	entries, err := m.GetByActor(context.Background(), "tenant-1", "user-1", "notify", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "send_email", entries[0].ActionName)
}

func TestGetByType_StatusFilter(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	ok := logTestAction(t, m, "user-1", "booking", "book", false)
	require.True(t, m.MarkSuccess(ctx, "tenant-1", ok.ID, nil, 0))
	bad := logTestAction(t, m, "user-2", "booking", "book", false)
	require.True(t, m.MarkFailed(ctx, "tenant-1", bad.ID, "x", 0))

	failed, err := m.GetByType(ctx, "tenant-1", "booking", StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, bad.ID, failed[0].ID)

	all, err := m.GetByType(ctx, "tenant-1", "booking", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCompensableCandidates(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	inConv := m.LogAction(ctx, LogRequest{
		TenantID: "tenant-1", ActorID: "user-1", ActionType: "booking", ActionName: "book",
		Compensable: true, Tags: map[string]string{"conversation_id": "conv-1"},
	})
	require.True(t, m.MarkSuccess(ctx, "tenant-1", inConv.ID, nil, 0))

	otherConv := m.LogAction(ctx, LogRequest{
		TenantID: "tenant-1", ActorID: "user-1", ActionType: "booking", ActionName: "book",
		Compensable: true, Tags: map[string]string{"conversation_id": "conv-2"},
	})
	require.True(t, m.MarkSuccess(ctx, "tenant-1", otherConv.ID, nil, 0))

	// Still pending: not a candidate.
	logTestAction(t, m, "user-1", "booking", "book", true)
	// Not compensable: not a candidate.
	plain := logTestAction(t, m, "user-1", "notify", "send", false)
	require.True(t, m.MarkSuccess(ctx, "tenant-1", plain.ID, nil, 0))

	all, err := m.CompensableCandidates(ctx, "tenant-1", "user-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := m.CompensableCandidates(ctx, "tenant-1", "user-1", "conv-1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, inConv.ID, scoped[0].ID)
}

func TestCountsByType(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	a := logTestAction(t, m, "user-1", "booking", "book", false)
	require.True(t, m.MarkSuccess(ctx, "tenant-1", a.ID, nil, 0))
	b := logTestAction(t, m, "user-1", "booking", "book", false)
	require.True(t, m.MarkFailed(ctx, "tenant-1", b.ID, "x", 0))
	logTestAction(t, m, "user-1", "booking", "book", false)

	counts, err := m.CountsByType(ctx, "tenant-1", "booking")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusSuccess])
	assert.Equal(t, 1, counts[StatusFailed])
	assert.Equal(t, 1, counts[StatusPending])
}

func TestPurgeActor(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	logTestAction(t, m, "user-1", "booking", "book", false)
	logTestAction(t, m, "user-1", "booking", "book", false)
	keep := logTestAction(t, m, "user-2", "booking", "book", false)

	n, err := m.PurgeActor(ctx, "tenant-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gone, err := m.GetByActor(ctx, "tenant-1", "user-1", "", 0)
	require.NoError(t, err)
	assert.Empty(t, gone)

	still, err := m.GetByActor(ctx, "tenant-1", "user-2", "", 0)
	require.NoError(t, err)
	require.Len(t, still, 1)
	assert.Equal(t, keep.ID, still[0].ID)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	s.now = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, s.SAdd(ctx, "set", "m", time.Hour))

	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	members, err := s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Empty(t, members)
}
