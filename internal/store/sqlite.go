package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/risk-assistant/internal/dataset"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository with an in-memory SQLite database.
type SQLiteStore struct {
	db           *sql.DB
	queryTimeout time.Duration

	mu     sync.RWMutex
	tables []TableInfo
	sealed bool
}

// NewSQLite opens a private in-memory database.
func NewSQLite(queryTimeout time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	return &SQLiteStore{db: db, queryTimeout: queryTimeout}, nil
}

// LoadDataset creates a table for ds and inserts its rows in one transaction.
func (s *SQLiteStore) LoadDataset(ctx context.Context, ds *dataset.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return ErrSealed
	}

	columns := ds.Columns()
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c.Name) + " " + sqlType(c.Kind)
	}
	table := quoteIdent(ds.Name())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load %s: %w", ds.Name(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table %s: %w", ds.Name(), err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", ds.Name(), err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(columns))
	for i := range ds.Len() {
		for j, v := range ds.Values(i) {
			args[j] = sqlValue(columns[j].Kind, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", ds.Name(), i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load %s: %w", ds.Name(), err)
	}

	s.tables = append(s.tables, TableInfo{Name: ds.Name(), Rows: ds.Len(), Columns: columns})
	slog.Debug("Dataset table created", "table", ds.Name(), "rows", ds.Len())
	return nil
}

// Seal puts the connection into query_only mode.
func (s *SQLiteStore) Seal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return fmt.Errorf("enable query_only: %w", err)
	}
	s.sealed = true
	return nil
}

// Query validates and runs a single read-only statement.
func (s *SQLiteStore) Query(ctx context.Context, query string, limit int) (*QueryResult, error) {
	s.mu.RLock()
	sealed := s.sealed
	s.mu.RUnlock()
	if !sealed {
		return nil, ErrNotSealed
	}

	stmt, err := validateQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, classifyError(err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &QueryResult{Columns: cols, Rows: [][]string{}}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}
	return result, nil
}

// Tables returns the loaded tables.
func (s *SQLiteStore) Tables(_ context.Context) ([]TableInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TableInfo, len(s.tables))
	for i, t := range s.tables {
		out[i] = t
		out[i].Columns = slices.Clone(t.Columns)
	}
	return out, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func classifyError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "readonly") || strings.Contains(msg, "read-only") || strings.Contains(msg, "query_only") {
		return fmt.Errorf("%w: %v", ErrReadOnly, err)
	}
	return fmt.Errorf("query failed: %w", err)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(k dataset.Kind) string {
	if k == dataset.KindNumber {
		return "REAL"
	}
	return "TEXT"
}

func sqlValue(k dataset.Kind, v string) any {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	if k == dataset.KindNumber {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	}
	return v
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

var _ Repository = (*SQLiteStore)(nil)
