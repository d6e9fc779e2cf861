// Package grouping links the events of one country into consolidation groups.
package grouping

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/core/similarity"
	"github.com/sirupsen/logrus"
)

type Config struct {
	SimilarityThreshold float64
	TemporalWindowDays  int
	// Timeout bounds each similarity call; zero means no bound beyond ctx.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.80, TemporalWindowDays: 7, Timeout: 10 * time.Second}
}

type Result struct {
	Groups         []*model.Group
	Eligible       int
	PairsCompared  int
	Links          int
	OracleFailures int
}

type Grouper struct {
	Oracle similarity.Oracle
	Config Config
	Logger *logrus.Logger
}

func NewGrouper(oracle similarity.Oracle, cfg Config, logger *logrus.Logger) *Grouper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Grouper{Oracle: oracle, Config: cfg, Logger: logger}
}

// Group partitions the eligible events of country by single-link clustering. Two events
// link when their spans are at most TemporalWindowDays apart and their similarity reaches
// SimilarityThreshold. The result depends only on the set of events, not their order.
// The only error returned is ctx's.
func (g *Grouper) Group(ctx context.Context, country string, events []*model.CanonicalEvent) (*Result, error) {
	seen := make(map[string]bool, len(events))
	var pool []*model.CanonicalEvent
	for _, e := range events {
		if e.InitiatingCountry != country || !e.Eligible() || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		pool = append(pool, e)
	}
	model.SortByID(pool)

	res := &Result{Eligible: len(pool)}
	sets := newDSU(len(pool))
	log := g.Logger.WithField("country", country)

	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			a, b := pool[i], pool[j]
			if model.DayGap(a, b) > g.Config.TemporalWindowDays {
				continue
			}
			// Already in one component: the score cannot change the partition.
			if sets.connected(i, j) {
				continue
			}

			res.PairsCompared++
			score, err := g.score(ctx, a, b)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				res.OracleFailures++
				log.WithError(err).WithFields(logrus.Fields{"a": a.ID, "b": b.ID}).Warn("similarity unavailable, pair not linked")
				continue
			}
			if score >= g.Config.SimilarityThreshold {
				sets.union(i, j)
				res.Links++
			}
		}
	}

	for _, comp := range sets.components() {
		if len(comp) < 2 {
			continue
		}
		members := make([]*model.CanonicalEvent, len(comp))
		for k, idx := range comp {
			members[k] = pool[idx]
		}
		res.Groups = append(res.Groups, model.NewGroup(country, members))
	}

	log.WithFields(logrus.Fields{
		"eligible": res.Eligible,
		"pairs":    res.PairsCompared,
		"links":    res.Links,
		"groups":   len(res.Groups),
		"failures": res.OracleFailures,
	}).Debug("grouping finished")
	return res, nil
}

func (g *Grouper) score(ctx context.Context, a, b *model.CanonicalEvent) (float64, error) {
	if g.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Config.Timeout)
		defer cancel()
	}
	s, err := g.Oracle.Similarity(ctx, a, b)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(s) || s < 0 || s > 1 {
		return 0, fmt.Errorf("%w: score %v out of range", model.ErrOracleUnavailable, s)
	}
	return s, nil
}
