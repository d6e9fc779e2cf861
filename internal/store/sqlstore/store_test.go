package sqlstore

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/store"
	"github.com/agenthands/canon/internal/store/storetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := Open(context.Background(), Options{
		Dialect: DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "canon.db"),
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openSQLite(t)
	})
}

func TestApplyRollsBackChains(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	storetest.Seed(t, s, "a", "CN", "A", 3, 1)
	storetest.Seed(t, s, "b", "CN", "B", 2, 1)
	storetest.Seed(t, s, "c", "CN", "C", 1, 1)

	err := s.Apply(ctx, &model.MutationPlan{Ops: []model.Op{
		model.SetMaster("b", model.StringPtr("a")),
		model.SetMaster("c", model.StringPtr("b")),
	}})
	require.ErrorIs(t, err, model.ErrInvariantViolation)

	all, err := s.AllEvents(ctx)
	require.NoError(t, err)
	for _, e := range all {
		assert.True(t, e.IsMaster(), e.ID)
	}
}

func TestAlternativeNamesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	storetest.Seed(t, s, "a", "CN", "A", 3, 1)

	require.NoError(t, s.Apply(ctx, &model.MutationPlan{Ops: []model.Op{
		model.SetNames("a", "A prime", []string{"A", "A (draft)"}),
	}}))

	e, err := s.GetEvent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A prime", e.CanonicalName)
	assert.Equal(t, []string{"A", "A (draft)"}, e.AlternativeNames)
}

func TestAdminTarget(t *testing.T) {
	admin, name, err := adminTarget("postgres://u:p@db:5432/canon?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/postgres?sslmode=disable", admin)
	assert.Equal(t, "canon", name)

	_, name, err = adminTarget("postgres://u:p@db:5432/postgres")
	require.NoError(t, err)
	assert.Empty(t, name)

	_, _, err = adminTarget("host=db user=u")
	assert.Error(t, err)
}
