package mutate

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/store"
	"github.com/agenthands/canon/internal/store/storetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first Failures applies with Err.
type flakyStore struct {
	store.Store
	Failures int
	Err      error
	Calls    int
}

func (f *flakyStore) Apply(ctx context.Context, plan *model.MutationPlan) error {
	f.Calls++
	if f.Calls <= f.Failures {
		return f.Err
	}
	return f.Store.Apply(ctx, plan)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seeded(t *testing.T) store.Store {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "e1", "RU", "BRICS Summit 2024 in Kazan", 178, 1, 2, 3)
	storetest.Seed(t, s, "e2", "RU", "BRICS Summit in Kazan", 128, 2, 3, 4, 5)
	return s
}

func snapshot(t *testing.T, s store.Store) *model.Snapshot {
	snap, err := s.Snapshot(context.Background(), []string{"e1", "e2"})
	require.NoError(t, err)
	return snap
}

func TestExecuteApplies(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewMutator(s, quietLogger())

	out, err := m.Execute(ctx, "RU", consolidate("e1", "BRICS Summit 2024 in Kazan", "e1", "e2"), snapshot(t, s), false)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 1, out.Attempts)
	assert.Len(t, out.Plan.Ops, 2)

	e2, err := s.GetEvent(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, "e1", *e2.MasterEventID)

	out, err = m.Execute(ctx, "RU", consolidate("e1", "BRICS Summit 2024 in Kazan", "e1", "e2"), snapshot(t, s), false)
	require.NoError(t, err)
	assert.True(t, out.Plan.Empty())
	assert.False(t, out.Applied)
}

func TestExecuteDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	m := NewMutator(s, quietLogger())

	out, err := m.Execute(ctx, "RU", consolidate("e1", "BRICS Summit 2024 in Kazan", "e1", "e2"), snapshot(t, s), true)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Len(t, out.Plan.Ops, 2)

	e2, err := s.GetEvent(ctx, "e2")
	require.NoError(t, err)
	assert.True(t, e2.IsMaster())
}

func TestExecuteRetriesOnce(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: seeded(t), Failures: 1, Err: errors.New("connection reset")}
	m := NewMutator(s, quietLogger())

	out, err := m.Execute(ctx, "RU", consolidate("e1", "BRICS Summit 2024 in Kazan", "e1", "e2"), snapshot(t, s), false)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, 2, out.Attempts)
}

func TestExecuteGivesUpAfterRetry(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: seeded(t), Failures: 5, Err: errors.New("connection reset")}
	m := NewMutator(s, quietLogger())

	out, err := m.Execute(ctx, "RU", consolidate("e1", "BRICS Summit 2024 in Kazan", "e1", "e2"), snapshot(t, s), false)
	assert.ErrorIs(t, err, model.ErrPersistence)
	assert.False(t, out.Applied)
	assert.Equal(t, 2, s.Calls)

	e2, err := s.GetEvent(ctx, "e2")
	require.NoError(t, err)
	assert.True(t, e2.IsMaster())
}

func TestExecuteDoesNotRetryInvariantErrors(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: seeded(t), Failures: 5, Err: store.ErrCountryMismatch}
	m := NewMutator(s, quietLogger())

	_, err := m.Execute(ctx, "RU", consolidate("e1", "BRICS Summit 2024 in Kazan", "e1", "e2"), snapshot(t, s), false)
	assert.ErrorIs(t, err, model.ErrInvariantViolation)
	assert.Equal(t, 1, s.Calls)
}

func TestExecuteRejectsInvalidPlanBeforeWriting(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{Store: seeded(t)}
	m := NewMutator(s, quietLogger())

	_, err := m.Execute(ctx, "CN", consolidate("e1", "BRICS Summit 2024 in Kazan", "e1", "e2"), snapshot(t, s), false)
	assert.ErrorIs(t, err, model.ErrInvariantViolation)
	assert.Zero(t, s.Calls)
}
