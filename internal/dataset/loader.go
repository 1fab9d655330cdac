package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrSourceMissing is returned when a dataset file does not exist.
	ErrSourceMissing = errors.New("file not found")
	// ErrEmptyDataset is returned when a source has no header or no data rows.
	ErrEmptyDataset = errors.New("dataset is empty")
)

// Source names a dataset and where to read it from.
type Source struct {
	Name string
	Path string
}

// DefaultSources returns the KPI and activity sources.
func DefaultSources(kpiPath, activityPath string) []Source {
	return []Source{
		{Name: "kpi", Path: kpiPath},
		{Name: "activity", Path: activityPath},
	}
}

// SourceError reports which source failed to load.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	if errors.Is(e.Err, ErrSourceMissing) {
		return "File not found: " + e.Path
	}
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Load checks every source exists, then parses them concurrently.
// Any failure aborts the whole load; no partial Set is returned.
func Load(ctx context.Context, sources []Source) (Set, error) {
	for _, src := range sources {
		info, err := os.Stat(src.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, &SourceError{Path: src.Path, Err: ErrSourceMissing}
			}
			return nil, &SourceError{Path: src.Path, Err: err}
		}
		if info.IsDir() {
			return nil, &SourceError{Path: src.Path, Err: fmt.Errorf("%w: path is a directory", ErrSourceMissing)}
		}
	}

	loaded := make([]*Dataset, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			ds, err := loadFile(gctx, src)
			if err != nil {
				return &SourceError{Path: src.Path, Err: err}
			}
			loaded[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := make(Set, len(loaded))
	for _, ds := range loaded {
		if _, dup := set[ds.name]; dup {
			return nil, fmt.Errorf("duplicate dataset name %q", ds.name)
		}
		set[ds.name] = ds
	}
	return set, nil
}

func loadFile(ctx context.Context, src Source) (*Dataset, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("Failed to close dataset file", "path", src.Path, "error", closeErr)
		}
	}()
	return Parse(ctx, src.Name, src.Path, f)
}

// Parse reads CSV from r as UTF-8, dropping a leading byte-order mark.
func Parse(ctx context.Context, name, path string, r io.Reader) (*Dataset, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	names := dedupeHeader(header)

	var rows [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		if isBlank(rec) {
			continue
		}
		rows = append(rows, normalize(rec, len(names)))
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	columns := make([]Column, len(names))
	for j, n := range names {
		columns[j] = Column{Name: n, Kind: inferKind(rows, j)}
	}

	return &Dataset{name: name, path: path, columns: columns, rows: rows}, nil
}

// dedupeHeader suffixes repeated names as X, X.1, X.2 and names blank headers.
// Names are compared case-insensitively, matching SQL identifiers.
func dedupeHeader(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		if strings.TrimSpace(h) == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		name := h
		for {
			key := strings.ToLower(name)
			n, ok := seen[key]
			if !ok {
				break
			}
			seen[key] = n + 1
			name = h + "." + strconv.Itoa(n+1)
		}
		seen[strings.ToLower(name)] = 0
		out[i] = name
	}
	return out
}

func normalize(rec []string, width int) []string {
	out := make([]string, width)
	copy(out, rec)
	return out
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func inferKind(rows [][]string, col int) Kind {
	seen := false
	for _, row := range rows {
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return KindText
		}
		seen = true
	}
	if !seen {
		return KindText
	}
	return KindNumber
}
