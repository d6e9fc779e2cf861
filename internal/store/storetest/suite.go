// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Day returns the n-th day of October 2024, UTC.
func Day(n int) time.Time {
	return time.Date(2024, time.October, n, 0, 0, 0, 0, time.UTC)
}

// Seed upserts an event with one mention per day in days, each with the given articles.
func Seed(t *testing.T, s store.Store, id, country, name string, articles int, days ...int) {
	t.Helper()
	var mentions []model.Mention
	for i, d := range days {
		n := articles / len(days)
		if i == 0 {
			n += articles % len(days)
		}
		mentions = append(mentions, model.Mention{MentionDate: Day(d), ArticleCount: n})
	}
	err := s.UpsertEvent(context.Background(), &model.CanonicalEvent{
		ID:                id,
		CanonicalName:     name,
		InitiatingCountry: country,
	}, mentions)
	require.NoError(t, err)
}

// Run exercises a fresh store from newStore for each case.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("UpsertDerivesSpanAndCounts", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, "e1", "CN", "BRICS Summit", 9, 3, 1, 2)

		e, err := s.GetEvent(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, Day(1), e.FirstMentionDate)
		assert.Equal(t, Day(3), e.LastMentionDate)
		assert.Equal(t, 9, e.ArticleCount)
		assert.Equal(t, 3, e.MentionDays)
		assert.True(t, e.IsMaster())
	})

	t.Run("UpsertMergesMentionsPerDay", func(t *testing.T) {
		s := newStore(t)
		ev := &model.CanonicalEvent{ID: "e1", CanonicalName: "Visit", InitiatingCountry: "CN"}
		require.NoError(t, s.UpsertEvent(ctx, ev, []model.Mention{
			{MentionDate: Day(1), DocIDs: []string{"a", "b"}, ArticleCount: 2},
		}))
		require.NoError(t, s.UpsertEvent(ctx, ev, []model.Mention{
			{MentionDate: Day(1).Add(5 * time.Hour), DocIDs: []string{"b", "c"}, ArticleCount: 2},
		}))

		mentions, err := s.ListMentions(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, mentions, 1)
		assert.Equal(t, []string{"a", "b", "c"}, mentions[0].DocIDs)
		assert.Equal(t, 3, mentions[0].ArticleCount)
		assert.Equal(t, "e1", mentions[0].CanonicalEventID)
	})

	t.Run("UpsertNeverTouchesHierarchy", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, "m", "CN", "Master", 5, 1)
		Seed(t, s, "c", "CN", "Child", 3, 1)
		require.NoError(t, s.Apply(ctx, &model.MutationPlan{Ops: []model.Op{
			model.SetMaster("c", model.StringPtr("m")),
		}}))

		err := s.UpsertEvent(ctx, &model.CanonicalEvent{ID: "c", CanonicalName: "Renamed upstream", InitiatingCountry: "CN"}, nil)
		require.NoError(t, err)

		c, err := s.GetEvent(ctx, "c")
		require.NoError(t, err)
		require.NotNil(t, c.MasterEventID)
		assert.Equal(t, "m", *c.MasterEventID)
		assert.Equal(t, "Child", c.CanonicalName)

		err = s.UpsertEvent(ctx, &model.CanonicalEvent{ID: "c", InitiatingCountry: "RU"}, nil)
		assert.True(t, errors.Is(err, store.ErrCountryMismatch))
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetEvent(ctx, "missing")
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("ListEventsSkipsIneligible", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, "b", "CN", "B", 2, 2)
		Seed(t, s, "a", "CN", "A", 1, 1)
		Seed(t, s, "r", "RU", "R", 1, 1)
		require.NoError(t, s.UpsertEvent(ctx, &model.CanonicalEvent{ID: "z", CanonicalName: "No mentions", InitiatingCountry: "IN"}, nil))

		events, err := s.ListEvents(ctx, "CN")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "a", events[0].ID)
		assert.Equal(t, "b", events[1].ID)

		countries, err := s.ListCountries(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"CN", "RU"}, countries)

		all, err := s.AllEvents(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("SnapshotIncludesChildrenOutsideIDs", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, "m", "CN", "M", 5, 1)
		Seed(t, s, "c1", "CN", "C1", 1, 1)
		Seed(t, s, "c2", "CN", "C2", 1, 9)
		Seed(t, s, "x", "CN", "X", 1, 1)
		require.NoError(t, s.Apply(ctx, &model.MutationPlan{Ops: []model.Op{
			model.SetMaster("c1", model.StringPtr("m")),
			model.SetMaster("c2", model.StringPtr("m")),
		}}))

		snap, err := s.Snapshot(ctx, []string{"m", "x"})
		require.NoError(t, err)
		assert.Len(t, snap.Events, 4)
		assert.Equal(t, []string{"c1", "c2"}, snap.ChildrenOf("m"))

		children, err := s.Children(ctx, "m")
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "c1", children[0].ID)
	})

	t.Run("ApplyRootSwap", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, "m", "CN", "Old", 5, 1)
		Seed(t, s, "x", "CN", "New", 3, 1)
		Seed(t, s, "c", "CN", "Other", 1, 1)
		require.NoError(t, s.Apply(ctx, &model.MutationPlan{Ops: []model.Op{
			model.SetMaster("x", model.StringPtr("m")),
			model.SetMaster("c", model.StringPtr("m")),
		}}))

		require.NoError(t, s.Apply(ctx, &model.MutationPlan{Ops: []model.Op{
			model.SetMaster("m", model.StringPtr("x")),
			model.Reparent("m", "x", "x"),
			model.SetMaster("x", nil),
			model.SetNames("x", "New", []string{"Old"}),
		}}))

		all, err := s.AllEvents(ctx)
		require.NoError(t, err)
		assert.Empty(t, store.CheckInvariants(all))

		x, err := s.GetEvent(ctx, "x")
		require.NoError(t, err)
		assert.True(t, x.IsMaster())
		assert.Equal(t, []string{"Old"}, x.AlternativeNames)
		for _, id := range []string{"m", "c"} {
			e, err := s.GetEvent(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, e.MasterEventID)
			assert.Equal(t, "x", *e.MasterEventID)
		}
	})

	t.Run("ApplyIsAtomic", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, "a", "CN", "A", 2, 1)
		Seed(t, s, "b", "CN", "B", 1, 1)

		err := s.Apply(ctx, &model.MutationPlan{Ops: []model.Op{
			model.SetMaster("b", model.StringPtr("a")),
			model.SetMaster("ghost", nil),
		}})
		require.Error(t, err)

		b, err := s.GetEvent(ctx, "b")
		require.NoError(t, err)
		assert.True(t, b.IsMaster())
	})

	t.Run("ApplyRejectsCrossCountry", func(t *testing.T) {
		s := newStore(t)
		Seed(t, s, "a", "CN", "A", 2, 1)
		Seed(t, s, "b", "RU", "B", 1, 1)

		err := s.Apply(ctx, &model.MutationPlan{Ops: []model.Op{
			model.SetMaster("b", model.StringPtr("a")),
		}})
		assert.True(t, errors.Is(err, store.ErrCountryMismatch))
	})
}
