package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/agenthands/canon/internal/core/advisory"
	"github.com/agenthands/canon/internal/core/grouping"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/core/similarity"
	"github.com/agenthands/canon/internal/store"
	"github.com/agenthands/canon/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConsolidator(s store.Store, oracle similarity.Oracle, reviewer advisory.Reviewer) *Consolidator {
	return NewConsolidator(s, oracle, reviewer, grouping.DefaultConfig(), Options{
		Workers:           2,
		ReviewConcurrency: 2,
		CountrySets:       map[string][]string{"influencers": {"CN", "RU"}},
	}, quietLogger())
}

func run(t *testing.T, c *Consolidator, dryRun bool, countries ...string) *Report {
	t.Helper()
	report, err := c.Run(context.Background(), RunOptions{Selector: CountrySelector{Countries: countries}, DryRun: dryRun})
	require.NoError(t, err)
	return report
}

func get(t *testing.T, s store.Store, id string) *model.CanonicalEvent {
	t.Helper()
	e, err := s.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return e
}

func requireHierarchy(t *testing.T, s store.Store) {
	t.Helper()
	all, err := s.AllEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, store.CheckInvariants(all))
}

func seedKazan(t *testing.T, s store.Store) {
	storetest.Seed(t, s, "e1", "RU", "BRICS Summit 2024 in Kazan", 178, 1, 2, 3)
	storetest.Seed(t, s, "e2", "RU", "BRICS Summit in Kazan", 128, 2, 3, 4, 5)
}

func TestConfirmAddsAlternativeNameAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedKazan(t, s)
	before := map[string][]model.Mention{}
	for _, id := range []string{"e1", "e2"} {
		m, err := s.ListMentions(ctx, id)
		require.NoError(t, err)
		before[id] = m
	}

	reviewer := &MockReviewer{Answers: map[string]*model.Review{
		"BRICS Summit 2024 in Kazan": same("BRICS Summit 2024 in Kazan"),
	}}
	c := newConsolidator(s, pairScores(map[string]float64{"e1|e2": 0.91}), reviewer)

	report := run(t, c, false, "ru")
	require.Len(t, report.Countries, 1)
	stats := report.Countries[0]
	assert.Equal(t, "RU", stats.Country)
	assert.Equal(t, 1, stats.GroupsFound)
	assert.Equal(t, 1, stats.Merged)
	assert.Equal(t, 1, stats.Mutated)
	assert.Equal(t, 2, stats.Writes)
	assert.False(t, report.Partial())

	e1 := get(t, s, "e1")
	assert.True(t, e1.IsMaster())
	assert.Equal(t, "BRICS Summit 2024 in Kazan", e1.CanonicalName)
	assert.Equal(t, []string{"BRICS Summit in Kazan"}, e1.AlternativeNames)
	assert.Equal(t, "e1", *get(t, s, "e2").MasterEventID)
	requireHierarchy(t, s)

	again := run(t, c, false, "RU")
	assert.Equal(t, 1, again.Countries[0].Confirmed)
	assert.Zero(t, again.Totals().Mutated)
	assert.Zero(t, again.Totals().Writes)

	for id, want := range before {
		got, err := s.ListMentions(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}

func TestSplitKeepsDistinctEventsApart(t *testing.T) {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "e3", "CN", "China-Egypt Trade Agreement", 20, 1)
	storetest.Seed(t, s, "e4", "CN", "China-Egypt Defense Cooperation Agreement", 15, 2)

	reviewer := &MockReviewer{Answers: map[string]*model.Review{
		"China-Egypt Trade Agreement": {
			SameEvent:   boolPtr(false),
			ShouldSplit: true,
			SplitGroups: []model.SplitGroup{
				{MemberIndices: []int{1}, CanonicalName: "China-Egypt Trade Agreement"},
				{MemberIndices: []int{2}, CanonicalName: "China-Egypt Defense Cooperation Agreement"},
			},
		},
	}}
	c := newConsolidator(s, pairScores(map[string]float64{"e3|e4": 0.82}), reviewer)

	report := run(t, c, false, "CN")
	stats := report.Countries[0]
	assert.Equal(t, 1, stats.Split)
	assert.Zero(t, stats.Mutated)
	assert.True(t, get(t, s, "e3").IsMaster())
	assert.True(t, get(t, s, "e4").IsMaster())
}

func TestOracleTimeoutAppliesSafeDefault(t *testing.T) {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "c1", "CN", "Typhoon hits Fujian", 10, 1)
	storetest.Seed(t, s, "c2", "CN", "Typhoon Gaemi landfall", 30, 1, 2)
	storetest.Seed(t, s, "c3", "CN", "Fujian storm damage", 20, 3)

	reviewer := &MockReviewer{Err: fmt.Errorf("%w: %w", model.ErrOracleUnavailable, context.DeadlineExceeded)}
	c := newConsolidator(s, pairScores(map[string]float64{"c1|c2": 0.9, "c2|c3": 0.9, "c1|c3": 0.9}), reviewer)

	report := run(t, c, false, "CN")
	stats := report.Countries[0]
	assert.Equal(t, 1, stats.OracleFallbacks)
	assert.Equal(t, 1, stats.Merged)
	assert.Zero(t, stats.Split)

	assert.True(t, get(t, s, "c2").IsMaster())
	assert.Equal(t, "c2", *get(t, s, "c1").MasterEventID)
	assert.Equal(t, "c2", *get(t, s, "c3").MasterEventID)
	requireHierarchy(t, s)
}

func TestRenameIsStableAcrossRuns(t *testing.T) {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "r1", "CN", "Port strike", 40, 1, 2)
	storetest.Seed(t, s, "r2", "CN", "Dockworkers walk out in Shanghai", 12, 2)
	storetest.Seed(t, s, "r3", "CN", "Shanghai dock strike", 5, 3)

	reviewer := &MockReviewer{Answers: map[string]*model.Review{
		"Port strike": same("Dockworkers walk out in Shanghai"),
	}}
	oracle := pairScores(map[string]float64{"r1|r2": 0.9, "r2|r3": 0.85})
	c := newConsolidator(s, oracle, reviewer)

	report := run(t, c, false, "CN")
	assert.Equal(t, 1, report.Countries[0].Renamed)
	r2 := get(t, s, "r2")
	assert.True(t, r2.IsMaster())
	assert.ElementsMatch(t, []string{"Port strike", "Shanghai dock strike"}, r2.AlternativeNames)
	assert.Equal(t, "r2", *get(t, s, "r1").MasterEventID)
	assert.Equal(t, "r2", *get(t, s, "r3").MasterEventID)
	requireHierarchy(t, s)

	again := run(t, c, false, "CN")
	assert.Equal(t, 1, again.Countries[0].Confirmed)
	assert.Zero(t, again.Totals().Writes)

	// Without the oracle the safe default keeps the promoted master.
	reviewer.Err = model.ErrOracleUnavailable
	fallback := run(t, c, false, "CN")
	assert.Equal(t, 1, fallback.Countries[0].OracleFallbacks)
	assert.Zero(t, fallback.Totals().Writes)
	assert.True(t, get(t, s, "r2").IsMaster())
}

func TestRejectLeavesGroupAlone(t *testing.T) {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "a", "CN", "Xi visits Paris", 10, 1)
	storetest.Seed(t, s, "b", "CN", "Xi visits Belgrade", 8, 2)

	reviewer := &MockReviewer{Answers: map[string]*model.Review{
		"Xi visits Paris": {SameEvent: boolPtr(false), BestCanonicalName: model.StringPtr("Xi visits Paris")},
	}}
	c := newConsolidator(s, pairScores(map[string]float64{"a|b": 0.88}), reviewer)

	report := run(t, c, false, "CN")
	assert.Equal(t, 1, report.Countries[0].Rejected)
	assert.True(t, get(t, s, "a").IsMaster())
	assert.True(t, get(t, s, "b").IsMaster())
}

func TestDryRunPlansWithoutWriting(t *testing.T) {
	s := store.NewMemoryStore()
	seedKazan(t, s)
	reviewer := &MockReviewer{Answers: map[string]*model.Review{
		"BRICS Summit 2024 in Kazan": same("BRICS Summit 2024 in Kazan"),
	}}
	c := newConsolidator(s, pairScores(map[string]float64{"e1|e2": 0.91}), reviewer)

	report := run(t, c, true, "RU")
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Totals().Mutated)
	assert.Equal(t, 2, report.Totals().Writes)
	require.Len(t, report.Plans, 1)
	assert.Equal(t, []string{"e1", "e2"}, report.Plans[0].GroupIDs)

	assert.True(t, get(t, s, "e2").IsMaster())
	assert.Empty(t, get(t, s, "e1").AlternativeNames)
}

func TestFailedGroupDoesNotStopTheRun(t *testing.T) {
	mem := store.NewMemoryStore()
	storetest.Seed(t, mem, "a1", "CN", "Flood in Henan", 10, 1)
	storetest.Seed(t, mem, "a2", "CN", "Henan floods", 5, 1)
	storetest.Seed(t, mem, "b1", "CN", "Chip export curbs", 10, 10)
	storetest.Seed(t, mem, "b2", "CN", "Gallium export ban", 5, 11)
	seedKazan(t, mem)
	s := &FailingStore{Store: mem, FailIDs: map[string]bool{"a1": true}}

	reviewer := &MockReviewer{Err: model.ErrOracleUnavailable}
	oracle := pairScores(map[string]float64{"a1|a2": 0.9, "b1|b2": 0.9, "e1|e2": 0.9})
	c := newConsolidator(s, oracle, reviewer)

	report, err := c.Run(context.Background(), RunOptions{Selector: CountrySelector{Set: "influencers"}})
	require.NoError(t, err)
	assert.True(t, report.Partial())
	require.Len(t, report.Errors, 1)
	assert.Equal(t, RunError{Country: "CN", Group: "a1,a2", Error: report.Errors[0].Error}, report.Errors[0])
	assert.Contains(t, report.Errors[0].Error, model.ErrPersistence.Error())

	totals := report.Totals()
	assert.Equal(t, 3, totals.GroupsFound)
	assert.Equal(t, 1, totals.Skipped)
	assert.Equal(t, 2, totals.Merged)
	assert.True(t, get(t, mem, "a2").IsMaster())
	assert.Equal(t, "b1", *get(t, mem, "b2").MasterEventID)
	assert.Equal(t, "e1", *get(t, mem, "e2").MasterEventID)
}

func TestCancelledRunWritesNothing(t *testing.T) {
	s := store.NewMemoryStore()
	seedKazan(t, s)
	reviewer := &MockReviewer{Err: model.ErrOracleUnavailable}
	c := newConsolidator(s, pairScores(map[string]float64{"e1|e2": 0.91}), reviewer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := c.Run(ctx, RunOptions{Selector: CountrySelector{Countries: []string{"RU"}}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, get(t, s, "e2").IsMaster())
}

func TestResolveCountries(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "cn", "CN", "a", 1, 1)
	storetest.Seed(t, s, "ru", "RU", "b", 1, 1)
	storetest.Seed(t, s, "us", "US", "c", 1, 1)
	c := newConsolidator(s, pairScores(nil), &MockReviewer{})

	all, err := c.ResolveCountries(ctx, CountrySelector{All: true, Set: "influencers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"CN", "RU", "US"}, all)

	set, err := c.ResolveCountries(ctx, CountrySelector{Set: "influencers", Countries: []string{"US"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"CN", "RU"}, set)

	_, err = c.ResolveCountries(ctx, CountrySelector{Set: "nope"})
	assert.ErrorIs(t, err, ErrUnknownCountrySet)

	explicit, err := c.ResolveCountries(ctx, CountrySelector{Countries: []string{" US", "CN", "US", "", "China"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"CN", "China", "US"}, explicit)

	none, err := c.ResolveCountries(ctx, CountrySelector{})
	require.NoError(t, err)
	assert.Equal(t, all, none)

	c.Options.DefaultCountries = []string{"RU"}
	def, err := c.ResolveCountries(ctx, CountrySelector{})
	require.NoError(t, err)
	assert.Equal(t, []string{"RU"}, def)
}

func TestSelectedCountryKeepsStoredSpelling(t *testing.T) {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "e1", "China", "Typhoon Gaemi landfall in Fujian", 30, 1, 2)
	storetest.Seed(t, s, "e2", "China", "Typhoon Gaemi hits Fujian", 10, 2)
	c := newConsolidator(s, pairScores(map[string]float64{"e1|e2": 0.95}), &MockReviewer{})

	report := run(t, c, false, " China ")
	require.Len(t, report.Countries, 1)
	stats := report.Countries[0]
	assert.Equal(t, "China", stats.Country)
	assert.Equal(t, 2, stats.Eligible)
	assert.Equal(t, 1, stats.GroupsFound)
	assert.Equal(t, 1, stats.Merged)
	assert.Equal(t, "e1", *get(t, s, "e2").MasterEventID)

	other := run(t, c, false, "CHINA")
	assert.Equal(t, 0, other.Countries[0].Eligible)
}

func TestRunDropsOracleStateWhenDone(t *testing.T) {
	s := store.NewMemoryStore()
	seedKazan(t, s)
	oracle := &ForgetfulOracle{Func: pairScores(map[string]float64{"e1|e2": 0.91}).(similarity.Func)}
	c := newConsolidator(s, oracle, &MockReviewer{})

	run(t, c, true, "RU")
	assert.Equal(t, 1, oracle.Forgets)
	run(t, c, false, "RU")
	assert.Equal(t, 2, oracle.Forgets)
}

func TestEmbeddingAndLLMPipeline(t *testing.T) {
	s := store.NewMemoryStore()
	seedKazan(t, s)
	storetest.Seed(t, s, "e5", "RU", "Ruble hits record low", 40, 2)

	embedder := &MockEmbedder{Vectors: map[string][]float32{
		"BRICS Summit 2024 in Kazan": {1, 0},
		"BRICS Summit in Kazan":      {0.95, 0.05},
		"Ruble hits record low":      {0, 1},
	}}
	llmClient := &MockLLM{Responses: map[string]string{
		`"BRICS Summit in Kazan"`: "```json\n{\"same_event\": true, \"best_canonical_name\": \"BRICS Summit 2024 in Kazan\", \"reasoning\": \"same summit\"}\n```",
	}}
	oracle := similarity.NewEmbeddingOracle(embedder, 0, quietLogger())
	reviewer := advisory.NewLLMReviewer(llmClient, advisory.Options{}, quietLogger())
	c := newConsolidator(s, oracle, reviewer)

	report := run(t, c, false, "RU")
	stats := report.Countries[0]
	assert.Equal(t, 3, stats.Eligible)
	assert.Equal(t, 1, stats.GroupsFound)
	assert.Equal(t, 1, stats.Merged)
	assert.Zero(t, stats.SimilarityFailures)
	assert.Len(t, llmClient.Prompts, 1)
	assert.Equal(t, "e1", *get(t, s, "e2").MasterEventID)
	assert.True(t, get(t, s, "e5").IsMaster())
}
