package core

import (
	"fmt"
	"time"

	"github.com/agenthands/canon/internal/core/model"
)

// CountryStats counts what one pass did to one country. Every group found ends up in
// exactly one of Confirmed, Merged, Renamed, Split, Rejected or Skipped.
type CountryStats struct {
	Country            string `json:"country" yaml:"country"`
	Eligible           int    `json:"eligible" yaml:"eligible"`
	GroupsFound        int    `json:"groups_found" yaml:"groups_found"`
	Confirmed          int    `json:"confirmed" yaml:"confirmed"`
	Merged             int    `json:"merged" yaml:"merged"`
	Renamed            int    `json:"renamed" yaml:"renamed"`
	Split              int    `json:"split" yaml:"split"`
	Rejected           int    `json:"rejected" yaml:"rejected"`
	Mutated            int    `json:"mutated" yaml:"mutated"`
	Skipped            int    `json:"skipped" yaml:"skipped"`
	OracleFallbacks    int    `json:"oracle_fallbacks" yaml:"oracle_fallbacks"`
	SimilarityFailures int    `json:"similarity_failures" yaml:"similarity_failures"`
	Writes             int    `json:"writes" yaml:"writes"`
}

func (s *CountryStats) Add(o CountryStats) {
	s.Eligible += o.Eligible
	s.GroupsFound += o.GroupsFound
	s.Confirmed += o.Confirmed
	s.Merged += o.Merged
	s.Renamed += o.Renamed
	s.Split += o.Split
	s.Rejected += o.Rejected
	s.Mutated += o.Mutated
	s.Skipped += o.Skipped
	s.OracleFallbacks += o.OracleFallbacks
	s.SimilarityFailures += o.SimilarityFailures
	s.Writes += o.Writes
}

type RunError struct {
	Country string `json:"country" yaml:"country"`
	Group   string `json:"group,omitempty" yaml:"group,omitempty"`
	Error   string `json:"error" yaml:"error"`
}

type Report struct {
	RunID      string                `json:"run_id" yaml:"run_id"`
	DryRun     bool                  `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time             `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time             `json:"finished_at" yaml:"finished_at"`
	Countries  []CountryStats        `json:"countries" yaml:"countries"`
	Errors     []RunError            `json:"errors,omitempty" yaml:"errors,omitempty"`
	Plans      []*model.MutationPlan `json:"plans,omitempty" yaml:"plans,omitempty"`
}

func (r *Report) Totals() CountryStats {
	t := CountryStats{Country: "total"}
	for _, c := range r.Countries {
		t.Add(c)
	}
	return t
}

// Partial reports whether any group or country was skipped.
func (r *Report) Partial() bool {
	return len(r.Errors) > 0
}

func (r *Report) Summary() string {
	t := r.Totals()
	mode := "applied"
	if r.DryRun {
		mode = "planned"
	}
	return fmt.Sprintf("%d countries, %d groups attempted, %d mutated (%s), %d skipped, %d writes",
		len(r.Countries), t.GroupsFound, t.Mutated, mode, t.Skipped, t.Writes)
}
