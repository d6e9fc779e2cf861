package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/agenthands/canon/internal/core/model"
)

var (
	ErrNotFound        = errors.New("event not found")
	ErrCountryMismatch = errors.New("initiating country cannot change")
)

// Store persists canonical events and their mentions. Only the mutator calls Apply.
type Store interface {
	// UpsertEvent creates a masterless leaf when the id is new and merges mentions per day.
	// It never touches the master pointer or names of an existing event.
	UpsertEvent(ctx context.Context, event *model.CanonicalEvent, mentions []model.Mention) error
	GetEvent(ctx context.Context, id string) (*model.CanonicalEvent, error)
	Children(ctx context.Context, id string) ([]*model.CanonicalEvent, error)
	ListMentions(ctx context.Context, eventID string) ([]model.Mention, error)

	// ListCountries returns, sorted, every country with at least one eligible event.
	ListCountries(ctx context.Context) ([]string, error)
	// ListEvents returns the eligible events of a country with derived fields filled in.
	ListEvents(ctx context.Context, country string) ([]*model.CanonicalEvent, error)
	// AllEvents returns every event, eligible or not, sorted by id.
	AllEvents(ctx context.Context) ([]*model.CanonicalEvent, error)

	// Snapshot reads the given events plus every event whose master is one of them.
	Snapshot(ctx context.Context, ids []string) (*model.Snapshot, error)
	// Apply runs the plan's ops in one transaction.
	Apply(ctx context.Context, plan *model.MutationPlan) error

	Close(ctx context.Context) error
}

// MergeMention folds an incoming observation into the stored one for the same day.
// Doc ids are unioned; the article count never shrinks.
func MergeMention(existing, incoming model.Mention) model.Mention {
	out := existing
	out.MentionDate = model.Day(existing.MentionDate)

	seen := make(map[string]struct{}, len(existing.DocIDs)+len(incoming.DocIDs))
	var docs []string
	for _, d := range append(append([]string(nil), existing.DocIDs...), incoming.DocIDs...) {
		if _, ok := seen[d]; ok || d == "" {
			continue
		}
		seen[d] = struct{}{}
		docs = append(docs, d)
	}
	sort.Strings(docs)
	out.DocIDs = docs

	out.ArticleCount = max(existing.ArticleCount, incoming.ArticleCount, len(docs))
	return out
}

// NormalizeMention pins a new mention to its event and day.
func NormalizeMention(eventID string, m model.Mention) model.Mention {
	return MergeMention(model.Mention{CanonicalEventID: eventID, MentionDate: m.MentionDate}, m)
}

// ValidateRefs checks that every event the plan touches or points at exists in known and
// that no pointer crosses a country boundary.
func ValidateRefs(known map[string]*model.CanonicalEvent, plan *model.MutationPlan) error {
	country := ""
	check := func(id string) error {
		e, ok := known[id]
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrUnknownEvent, id)
		}
		if country == "" {
			country = e.InitiatingCountry
		} else if e.InitiatingCountry != country {
			return fmt.Errorf("%w: %s belongs to %s, plan targets %s", ErrCountryMismatch, id, e.InitiatingCountry, country)
		}
		return nil
	}
	for _, op := range plan.Ops {
		if err := check(op.EventID); err != nil {
			return err
		}
		if op.MasterID != nil {
			if err := check(*op.MasterID); err != nil {
				return err
			}
		}
	}
	return nil
}
