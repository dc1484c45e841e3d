// Package backend defines the table-oriented data backend the order core talks to,
// with DynamoDB, Postgres and in-memory drivers.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrDuplicate is returned by Insert when a row with the same key already exists.
	ErrDuplicate = errors.New("backend: duplicate key")
	// ErrUnknownTable is returned when a table has no key or schema registered.
	ErrUnknownTable = errors.New("backend: unknown table")
	// ErrUnknownColumn is returned by drivers with a fixed schema.
	ErrUnknownColumn = errors.New("backend: unknown column")
)

// Row is one record. Values are strings, int64s, float64s, bools or nil.
type Row map[string]any

// Query selects rows whose fields equal every entry in Filters.
// Rows are ordered by OrderBy (ascending unless Desc) and truncated to Limit when Limit > 0.
type Query struct {
	Filters map[string]any
	OrderBy string
	Desc    bool
	Limit   int
}

// Backend is the data collaborator. Insert is create-only.
type Backend interface {
	Insert(ctx context.Context, table string, row Row) (Row, error)
	InsertMany(ctx context.Context, table string, rows []Row) error
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Update(ctx context.Context, table string, filters map[string]any, changes Row) (int, error)
	Delete(ctx context.Context, table string, filters map[string]any) (int, error)
	Ping(ctx context.Context) error
}
