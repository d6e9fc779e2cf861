package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agenthands/canon/internal/core/model"
)

// MemoryStore is an in-process arena keyed by event id. Apply works on copies and swaps
// them in under the lock, so a failed plan leaves nothing behind.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[string]*model.CanonicalEvent
	mentions map[string]map[time.Time]model.Mention
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]*model.CanonicalEvent),
		mentions: make(map[string]map[time.Time]model.Mention),
	}
}

func (s *MemoryStore) UpsertEvent(ctx context.Context, event *model.CanonicalEvent, mentions []model.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.events[event.ID]
	if !ok {
		leaf := event.Clone()
		leaf.MasterEventID = nil
		s.events[event.ID] = leaf
		s.mentions[event.ID] = make(map[time.Time]model.Mention)
	} else {
		if cur.InitiatingCountry != event.InitiatingCountry {
			return fmt.Errorf("%w: %s", ErrCountryMismatch, event.ID)
		}
		if event.PrimaryCategories != nil {
			cur.PrimaryCategories = event.Clone().PrimaryCategories
		}
		if event.PrimaryRecipients != nil {
			cur.PrimaryRecipients = event.Clone().PrimaryRecipients
		}
	}

	days := s.mentions[event.ID]
	for _, m := range mentions {
		day := model.Day(m.MentionDate)
		if existing, ok := days[day]; ok {
			days[day] = MergeMention(existing, m)
		} else {
			days[day] = NormalizeMention(event.ID, m)
		}
	}
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*model.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.derived(e), nil
}

func (s *MemoryStore) Children(ctx context.Context, id string) ([]*model.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var out []*model.CanonicalEvent
	for _, e := range s.events {
		if e.MasterEventID != nil && *e.MasterEventID == id {
			out = append(out, s.derived(e))
		}
	}
	model.SortByID(out)
	return out, nil
}

func (s *MemoryStore) ListMentions(ctx context.Context, eventID string) ([]model.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[eventID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, eventID)
	}
	return s.mentionsOf(eventID), nil
}

func (s *MemoryStore) ListCountries(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range s.events {
		if s.derived(e).Eligible() {
			seen[e.InitiatingCountry] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, country string) ([]*model.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.CanonicalEvent
	for _, e := range s.events {
		if e.InitiatingCountry != country {
			continue
		}
		if d := s.derived(e); d.Eligible() {
			out = append(out, d)
		}
	}
	model.SortByID(out)
	return out, nil
}

func (s *MemoryStore) AllEvents(ctx context.Context) ([]*model.CanonicalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.CanonicalEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, s.derived(e))
	}
	model.SortByID(out)
	return out, nil
}

func (s *MemoryStore) Snapshot(ctx context.Context, ids []string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[string]struct{}, len(ids))
	var events []*model.CanonicalEvent
	for _, id := range ids {
		e, ok := s.events[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		want[id] = struct{}{}
		events = append(events, s.derived(e))
	}
	for id, e := range s.events {
		if _, member := want[id]; member || e.MasterEventID == nil {
			continue
		}
		if _, ok := want[*e.MasterEventID]; ok {
			events = append(events, s.derived(e))
		}
	}
	return model.NewSnapshot(events), nil
}

func (s *MemoryStore) Apply(ctx context.Context, plan *model.MutationPlan) error {
	if plan.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ValidateRefs(s.events, plan); err != nil {
		return err
	}

	// Reparent can reach any event, so the working set is the whole arena.
	work := make(map[string]*model.CanonicalEvent, len(s.events))
	for id, e := range s.events {
		work[id] = e.Clone()
	}
	if err := model.ApplyOps(work, plan.Ops); err != nil {
		return err
	}
	s.events = work
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) derived(e *model.CanonicalEvent) *model.CanonicalEvent {
	c := e.Clone()
	c.Summarize(s.mentionsOf(e.ID))
	return c
}

func (s *MemoryStore) mentionsOf(id string) []model.Mention {
	days := s.mentions[id]
	out := make([]model.Mention, 0, len(days))
	for _, m := range days {
		m.DocIDs = append([]string(nil), m.DocIDs...)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MentionDate.Before(out[j].MentionDate) })
	return out
}
