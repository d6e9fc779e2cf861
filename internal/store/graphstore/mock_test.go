package graphstore

import (
	"context"

	"github.com/agenthands/canon/internal/driver"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// MockDriver answers reads by query text and records every write transaction.
type MockDriver struct {
	Results map[string]neo4j.EagerResult
	Queries []string
	Writes  [][]driver.Statement
	Err     error
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.Queries = append(m.Queries, query)
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	return m.Results[query], nil
}

// ExecuteWrite feeds checked statements the scripted result for their query. A failed
// check discards the transaction.
func (m *MockDriver) ExecuteWrite(ctx context.Context, statements []driver.Statement) error {
	if m.Err != nil {
		return m.Err
	}
	for _, st := range statements {
		if st.Check == nil {
			continue
		}
		if err := st.Check(m.Results[st.Query].Records); err != nil {
			return err
		}
	}
	m.Writes = append(m.Writes, statements)
	return nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	return nil
}

var eventKeys = []string{
	"id", "canonical_name", "alternative_names", "initiating_country",
	"master_event_id", "primary_categories", "primary_recipients", "mentions",
}

func eventRecord(id, name, country string, master any, mentions ...map[string]any) *neo4j.Record {
	list := make([]any, len(mentions))
	for i, m := range mentions {
		list[i] = m
	}
	return &neo4j.Record{
		Keys:   eventKeys,
		Values: []any{id, name, []any{}, country, master, nil, nil, list},
	}
}

func mention(date string, articles int64, docs ...string) map[string]any {
	ids := make([]any, len(docs))
	for i, d := range docs {
		ids[i] = d
	}
	return map[string]any{"mention_date": date, "doc_ids": ids, "article_count": articles}
}
