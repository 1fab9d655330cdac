// Package store exposes the loaded datasets as a read-only SQL database.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/risk-assistant/internal/dataset"
)

var (
	// ErrReadOnly is returned for statements that are not read-only queries.
	ErrReadOnly = errors.New("only read-only SELECT queries are allowed")
	// ErrMultipleStatements is returned when a query holds more than one statement.
	ErrMultipleStatements = errors.New("only a single statement is allowed")
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrNotSealed is returned when querying before Seal.
	ErrNotSealed = errors.New("store is still loading")
	// ErrSealed is returned when loading after Seal.
	ErrSealed = errors.New("store is sealed")
)

// TableInfo describes one loaded table.
type TableInfo struct {
	Name    string           `json:"name"`
	Rows    int              `json:"rows"`
	Columns []dataset.Column `json:"columns"`
}

// QueryResult holds the rows returned by a query.
type QueryResult struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated"`
}

// Repository defines read access to the loaded datasets.
type Repository interface {
	// LoadDataset copies a dataset into a table named after it.
	LoadDataset(ctx context.Context, ds *dataset.Dataset) error

	// Seal switches the database to query-only mode. Loading is rejected afterwards.
	Seal(ctx context.Context) error

	// Query runs a single read-only statement and returns at most limit rows.
	Query(ctx context.Context, query string, limit int) (*QueryResult, error)

	// Tables lists loaded tables in load order.
	Tables(ctx context.Context) ([]TableInfo, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// LoadAll copies every dataset in set and seals the repository.
func LoadAll(ctx context.Context, repo Repository, set dataset.Set) error {
	for _, name := range set.Names() {
		if err := repo.LoadDataset(ctx, set[name]); err != nil {
			return err
		}
	}
	return repo.Seal(ctx)
}
