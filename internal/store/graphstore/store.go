// Package graphstore keeps canonical events in Memgraph through the bolt driver.
package graphstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/driver"
	"github.com/agenthands/canon/internal/store"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Store struct {
	Driver driver.GraphDriver
}

var _ store.Store = (*Store)(nil)

func New(d driver.GraphDriver) *Store {
	return &Store{Driver: d}
}

func (s *Store) UpsertEvent(ctx context.Context, event *model.CanonicalEvent, mentions []model.Mention) error {
	existing, err := s.GetEvent(ctx, event.ID)
	switch {
	case err == nil:
		if existing.InitiatingCountry != event.InitiatingCountry {
			return fmt.Errorf("%w: %s", store.ErrCountryMismatch, event.ID)
		}
	case !isNotFound(err):
		return err
	}

	stored := map[string]model.Mention{}
	if existing != nil {
		prior, err := s.ListMentions(ctx, event.ID)
		if err != nil {
			return err
		}
		for _, m := range prior {
			stored[dateKey(m.MentionDate)] = m
		}
	}

	statements := []driver.Statement{{
		Query: driver.CreateEventQuery,
		Params: map[string]interface{}{
			"id":                 event.ID,
			"canonical_name":     event.CanonicalName,
			"alternative_names":  stringsParam(event.AlternativeNames),
			"initiating_country": event.InitiatingCountry,
			"primary_categories": countsParam(event.PrimaryCategories),
			"primary_recipients": countsParam(event.PrimaryRecipients),
		},
	}}
	if existing != nil {
		statements = append(statements, driver.Statement{
			Query: driver.SetEventLabelsQuery,
			Params: map[string]interface{}{
				"id":                 event.ID,
				"primary_categories": countsParam(event.PrimaryCategories),
				"primary_recipients": countsParam(event.PrimaryRecipients),
			},
		})
	}

	for _, m := range mentions {
		key := dateKey(m.MentionDate)
		merged := store.NormalizeMention(event.ID, m)
		if prior, ok := stored[key]; ok {
			merged = store.MergeMention(prior, m)
		}
		stored[key] = merged
		statements = append(statements, driver.Statement{
			Query: driver.SaveMentionQuery,
			Params: map[string]interface{}{
				"event_id":      event.ID,
				"mention_date":  key,
				"doc_ids":       stringsParam(merged.DocIDs),
				"article_count": int64(merged.ArticleCount),
			},
		})
	}

	return s.Driver.ExecuteWrite(ctx, statements)
}

func (s *Store) GetEvent(ctx context.Context, id string) (*model.CanonicalEvent, error) {
	events, err := s.query(ctx, driver.GetEventQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return events[0], nil
}

func (s *Store) Children(ctx context.Context, id string) ([]*model.CanonicalEvent, error) {
	if _, err := s.GetEvent(ctx, id); err != nil {
		return nil, err
	}
	return s.query(ctx, driver.GetChildrenQuery, map[string]interface{}{"id": id})
}

func (s *Store) ListMentions(ctx context.Context, eventID string) ([]model.Mention, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	res, err := s.Driver.ExecuteQuery(ctx, driver.ListMentionsQuery, map[string]interface{}{"event_id": eventID})
	if err != nil {
		return nil, err
	}
	var out []model.Mention
	for _, rec := range res.Records {
		m, ok := mentionFrom(eventID, rec.AsMap())
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ListCountries(ctx context.Context) ([]string, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.ListCountriesQuery, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rec := range res.Records {
		if c, ok := asString(rec, "country"); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListEvents(ctx context.Context, country string) ([]*model.CanonicalEvent, error) {
	all, err := s.query(ctx, driver.ListEventsByCountryQuery, map[string]interface{}{"country": country})
	if err != nil {
		return nil, err
	}
	var out []*model.CanonicalEvent
	for _, e := range all {
		if e.Eligible() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) AllEvents(ctx context.Context) ([]*model.CanonicalEvent, error) {
	return s.query(ctx, driver.ListAllEventsQuery, nil)
}

func (s *Store) Snapshot(ctx context.Context, ids []string) (*model.Snapshot, error) {
	events, err := s.query(ctx, driver.SnapshotQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, err
	}
	snap := model.NewSnapshot(events)
	for _, id := range ids {
		if _, ok := snap.Events[id]; !ok {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
	}
	return snap, nil
}

// Apply checks every referenced event before the write and, as the last statement of the
// same transaction, that no chained child was left behind.
func (s *Store) Apply(ctx context.Context, plan *model.MutationPlan) error {
	if plan.Empty() {
		return nil
	}
	refs := make(map[string]struct{})
	var ids []string
	for _, op := range plan.Ops {
		for _, id := range []string{op.EventID, deref(op.MasterID)} {
			if _, ok := refs[id]; id != "" && !ok {
				refs[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	events, err := s.query(ctx, driver.GetEventsByIDsQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return err
	}
	known := make(map[string]*model.CanonicalEvent, len(events))
	for _, e := range events {
		known[e.ID] = e
	}
	if err := store.ValidateRefs(known, plan); err != nil {
		return err
	}

	statements := make([]driver.Statement, 0, len(plan.Ops))
	for _, op := range plan.Ops {
		switch op.Kind {
		case model.OpSetMaster:
			var master interface{}
			if op.MasterID != nil {
				master = *op.MasterID
			}
			statements = append(statements, driver.Statement{
				Query:  driver.SetMasterQuery,
				Params: map[string]interface{}{"id": op.EventID, "master_event_id": master},
			})
		case model.OpReparent:
			statements = append(statements, driver.Statement{
				Query:  driver.ReparentQuery,
				Params: map[string]interface{}{"from": op.EventID, "to": *op.MasterID, "except": op.Except},
			})
		case model.OpSetNames:
			statements = append(statements, driver.Statement{
				Query: driver.SetNamesQuery,
				Params: map[string]interface{}{
					"id":                op.EventID,
					"canonical_name":    op.Name,
					"alternative_names": stringsParam(op.Alternatives),
				},
			})
		default:
			return fmt.Errorf("unsupported op %s", op.Kind)
		}
	}
	statements = append(statements, driver.Statement{
		Query:  driver.ChainedChildrenQuery,
		Params: map[string]interface{}{"country": known[plan.Ops[0].EventID].InitiatingCountry},
		Check:  rejectChains,
	})
	return s.Driver.ExecuteWrite(ctx, statements)
}

func rejectChains(records []*neo4j.Record) error {
	if len(records) == 0 {
		return nil
	}
	chained := make([]string, 0, len(records))
	for _, rec := range records {
		if id, ok := asString(rec, "id"); ok {
			chained = append(chained, id)
		}
	}
	return fmt.Errorf("%w: chained children %v", model.ErrInvariantViolation, chained)
}

func (s *Store) Close(ctx context.Context) error {
	return s.Driver.Close(ctx)
}

func (s *Store) query(ctx context.Context, query string, params map[string]interface{}) ([]*model.CanonicalEvent, error) {
	res, err := s.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]*model.CanonicalEvent, 0, len(res.Records))
	for _, rec := range res.Records {
		e, err := eventFrom(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	model.SortByID(out)
	return out, nil
}

func eventFrom(rec *neo4j.Record) (*model.CanonicalEvent, error) {
	id, ok := asString(rec, "id")
	if !ok {
		return nil, fmt.Errorf("record without id: %v", rec.Keys)
	}
	e := &model.CanonicalEvent{ID: id}
	e.CanonicalName, _ = asString(rec, "canonical_name")
	e.InitiatingCountry, _ = asString(rec, "initiating_country")
	if master, ok := asString(rec, "master_event_id"); ok && master != "" {
		e.MasterEventID = model.StringPtr(master)
	}
	if v, ok := rec.Get("alternative_names"); ok {
		e.AlternativeNames = toStrings(v)
	}
	if raw, ok := asString(rec, "primary_categories"); ok {
		_ = json.Unmarshal([]byte(raw), &e.PrimaryCategories)
	}
	if raw, ok := asString(rec, "primary_recipients"); ok {
		_ = json.Unmarshal([]byte(raw), &e.PrimaryRecipients)
	}

	var mentions []model.Mention
	if v, ok := rec.Get("mentions"); ok {
		list, _ := v.([]any)
		for _, item := range list {
			props, _ := item.(map[string]any)
			if m, ok := mentionFrom(id, props); ok {
				mentions = append(mentions, m)
			}
		}
	}
	e.Summarize(mentions)
	return e, nil
}

func mentionFrom(eventID string, props map[string]any) (model.Mention, bool) {
	raw, _ := props["mention_date"].(string)
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return model.Mention{}, false
	}
	m := model.Mention{CanonicalEventID: eventID, MentionDate: day, DocIDs: toStrings(props["doc_ids"])}
	if n, ok := props["article_count"].(int64); ok {
		m.ArticleCount = int(n)
	}
	return m, true
}

func asString(rec *neo4j.Record, key string) (string, bool) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func toStrings(v any) []string {
	list, _ := v.([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringsParam(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// countsParam encodes a label map as JSON, or nil when absent.
func countsParam(m map[string]int) interface{} {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(b)
}

func dateKey(t time.Time) string {
	return model.Day(t).Format(time.DateOnly)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
