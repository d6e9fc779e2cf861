package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/canon/internal/core/advisory"
	"github.com/agenthands/canon/internal/core/deconflict"
	"github.com/agenthands/canon/internal/core/grouping"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/core/mutate"
	"github.com/agenthands/canon/internal/core/similarity"
	"github.com/agenthands/canon/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownCountrySet = errors.New("unknown country set")

// CountrySelector picks the countries of a run. All wins over Set, Set over Countries.
// An empty selector means the configured default, or all countries without one.
type CountrySelector struct {
	Countries []string `json:"countries,omitempty"`
	Set       string   `json:"set,omitempty"`
	All       bool     `json:"all,omitempty"`
}

type RunOptions struct {
	Selector CountrySelector `json:"selector"`
	DryRun   bool            `json:"dry_run"`
}

type Options struct {
	Workers           int
	ReviewConcurrency int
	CountrySets       map[string][]string
	DefaultCountries  []string
}

// Consolidator runs the grouping, deconfliction and mutation pipeline per country.
type Consolidator struct {
	Store        store.Store
	Grouper      *grouping.Grouper
	Deconflictor *deconflict.Deconflictor
	Mutator      *mutate.Mutator
	Options      Options
	Logger       *logrus.Logger
}

func NewConsolidator(s store.Store, oracle similarity.Oracle, reviewer advisory.Reviewer, cfg grouping.Config, opts Options, logger *logrus.Logger) *Consolidator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ReviewConcurrency < 1 {
		opts.ReviewConcurrency = 1
	}
	return &Consolidator{
		Store:        s,
		Grouper:      grouping.NewGrouper(oracle, cfg, logger),
		Deconflictor: deconflict.NewDeconflictor(reviewer, logger),
		Mutator:      mutate.NewMutator(s, logger),
		Options:      opts,
		Logger:       logger,
	}
}

// ResolveCountries turns a selector into a sorted, duplicate-free country list. Names are
// only trimmed: they must match initiating_country as stored.
func (c *Consolidator) ResolveCountries(ctx context.Context, sel CountrySelector) ([]string, error) {
	var countries []string
	switch {
	case sel.All:
		return c.Store.ListCountries(ctx)
	case sel.Set != "":
		set, ok := c.Options.CountrySets[sel.Set]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCountrySet, sel.Set)
		}
		countries = set
	case len(sel.Countries) > 0:
		countries = sel.Countries
	case len(c.Options.DefaultCountries) > 0:
		countries = c.Options.DefaultCountries
	default:
		return c.Store.ListCountries(ctx)
	}

	seen := make(map[string]bool, len(countries))
	var out []string
	for _, country := range countries {
		country = strings.TrimSpace(country)
		if country == "" || seen[country] {
			continue
		}
		seen[country] = true
		out = append(out, country)
	}
	sort.Strings(out)
	return out, nil
}

// Run consolidates every selected country. Countries run on at most Workers goroutines,
// each owned by one goroutine for the whole pass. Failures are recorded in the report and
// never stop other groups; only cancellation makes Run return an error.
func (c *Consolidator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	report := &Report{RunID: uuid.New().String(), DryRun: opts.DryRun, StartedAt: time.Now().UTC()}
	log := c.Logger.WithFields(logrus.Fields{"run_id": report.RunID, "dry_run": opts.DryRun})

	countries, err := c.ResolveCountries(ctx, opts.Selector)
	if err != nil {
		return nil, err
	}
	log.WithField("countries", len(countries)).Info("consolidation run started")

	results := make([]countryResult, len(countries))
	var eg errgroup.Group
	eg.SetLimit(c.Options.Workers)
	for i, country := range countries {
		eg.Go(func() error {
			results[i] = c.consolidateCountry(ctx, log.WithField("country", country), country, opts.DryRun)
			return nil
		})
	}
	_ = eg.Wait()

	for _, r := range results {
		report.Countries = append(report.Countries, r.stats)
		report.Errors = append(report.Errors, r.errors...)
		report.Plans = append(report.Plans, r.plans...)
	}
	report.FinishedAt = time.Now().UTC()
	if f, ok := c.Grouper.Oracle.(similarity.Forgetter); ok {
		f.Forget()
	}

	log.WithFields(logrus.Fields{
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
		"partial":  report.Partial(),
	}).Info(report.Summary())
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

type countryResult struct {
	stats  CountryStats
	errors []RunError
	plans  []*model.MutationPlan
}

func (r *countryResult) fail(group string, err error) {
	r.errors = append(r.errors, RunError{Country: r.stats.Country, Group: group, Error: err.Error()})
}

func (c *Consolidator) consolidateCountry(ctx context.Context, log *logrus.Entry, country string, dryRun bool) countryResult {
	res := countryResult{stats: CountryStats{Country: country}}

	events, err := c.Store.ListEvents(ctx, country)
	if err != nil {
		log.WithError(err).Error("failed to load events")
		res.fail("", err)
		return res
	}
	grouped, err := c.Grouper.Group(ctx, country, events)
	if err != nil {
		res.fail("", err)
		return res
	}
	res.stats.Eligible = grouped.Eligible
	res.stats.GroupsFound = len(grouped.Groups)
	res.stats.SimilarityFailures = grouped.OracleFailures

	verdicts, err := c.reviewAll(ctx, grouped.Groups)
	if err != nil {
		res.fail("", err)
		res.stats.Skipped = len(grouped.Groups)
		return res
	}

	for i, g := range grouped.Groups {
		key := strings.Join(g.IDs(), ",")
		if err := ctx.Err(); err != nil {
			res.stats.Skipped += len(grouped.Groups) - i
			res.fail(key, err)
			break
		}
		glog := log.WithField("group", key)

		snap, err := c.Store.Snapshot(ctx, g.IDs())
		if err != nil {
			glog.WithError(err).Error("failed to read group snapshot")
			res.stats.Skipped++
			res.fail(key, err)
			continue
		}
		v := verdicts[i]
		intent := deconflict.Resolve(g.Refresh(snap), v)

		out, err := c.Mutator.Execute(ctx, country, intent, snap, dryRun)
		if err != nil {
			entry := glog.WithError(err).WithField("intent", intent.Kind.String())
			if errors.Is(err, model.ErrInvariantViolation) {
				entry.Error("plan rejected, group skipped")
			} else {
				entry.Warn("group skipped")
			}
			res.stats.Skipped++
			res.fail(key, err)
			continue
		}

		if v.Fallback {
			res.stats.OracleFallbacks++
		}
		switch intent.Kind {
		case model.IntentKeep:
			res.stats.Rejected++
		case model.IntentSplit:
			res.stats.Split++
		case model.IntentRename:
			res.stats.Renamed++
		default:
			if out.Plan.Empty() {
				res.stats.Confirmed++
			} else {
				res.stats.Merged++
			}
		}
		if !out.Plan.Empty() {
			res.stats.Mutated++
			res.stats.Writes += len(out.Plan.Ops)
			res.plans = append(res.plans, out.Plan)
		}
		glog.WithFields(logrus.Fields{
			"verdict":  v.Kind.String(),
			"intent":   intent.Kind.String(),
			"fallback": v.Fallback,
			"ops":      len(out.Plan.Ops),
		}).Debug("group processed")
	}
	return res
}

// reviewAll asks the oracle about every group, at most ReviewConcurrency at a time.
// Verdicts come back in group order.
func (c *Consolidator) reviewAll(ctx context.Context, groups []*model.Group) ([]model.Verdict, error) {
	verdicts := make([]model.Verdict, len(groups))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.Options.ReviewConcurrency)
	for i, g := range groups {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verdicts[i] = c.Deconflictor.Review(gctx, g)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	// A cancelled run must not turn into a pile of safe defaults.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return verdicts, nil
}
