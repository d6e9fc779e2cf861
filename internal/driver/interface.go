package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Statement is one parameterised Cypher write. When Check is set the statement's records
// are collected and a non-nil error from Check rolls the whole transaction back.
type Statement struct {
	Query  string
	Params map[string]interface{}
	Check  func(records []*neo4j.Record) error
}

type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
	// ExecuteWrite runs the statements in order inside one write transaction.
	ExecuteWrite(ctx context.Context, statements []Statement) error
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}
