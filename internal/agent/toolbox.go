package agent

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/risk-assistant/internal/store"
)

// Tool names exposed to model providers.
const (
	ToolListTables = "list_tables"
	ToolRunSQL     = "run_sql"
)

// SystemPrompt frames every provider conversation.
const SystemPrompt = `You are a data analyst answering questions about tables held in a read-only SQLite database.
Call list_tables to see table names, row counts, and columns. Call run_sql with a single SELECT statement to read data.
Column names contain spaces and punctuation, so always wrap identifiers in double quotes, for example "Activity Name".
Text comparisons are case sensitive; use LIKE or lower() when matching names loosely.
Base every answer on query results. If the data cannot answer the question, say so.
Reply with a concise natural-language answer.`

// ToolSpec describes a callable tool using a JSON schema for its parameters.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolResult is the outcome of a tool call, fed back to the model.
type ToolResult struct {
	Content string
	IsError bool
}

// Toolbox binds the tools to the loaded datasets.
type Toolbox struct {
	repo     store.Repository
	rowLimit int
	logger   *slog.Logger
}

// NewToolbox creates a toolbox over repo returning at most rowLimit rows per query.
func NewToolbox(repo store.Repository, rowLimit int, logger *slog.Logger) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	if rowLimit <= 0 {
		rowLimit = 200
	}
	return &Toolbox{repo: repo, rowLimit: rowLimit, logger: logger}
}

// Specs returns the tool declarations.
func (t *Toolbox) Specs() []ToolSpec {
	return []ToolSpec{
		{
			Name:        ToolListTables,
			Description: "List the available tables with their row counts, column names, and column types.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        ToolRunSQL,
			Description: fmt.Sprintf("Run one read-only SQLite SELECT statement and return the result as CSV (at most %d rows).", t.rowLimit),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "A single SELECT or WITH statement. Double-quote column names.",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Call executes the named tool. Tool-level failures become error results for
// the model to correct; only context errors are returned.
func (t *Toolbox) Call(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return ToolResult{}, err
	}

	var res ToolResult
	switch name {
	case ToolListTables:
		res = t.listTables(ctx)
	case ToolRunSQL:
		res = t.runSQL(ctx, args)
	default:
		res = ToolResult{Content: fmt.Sprintf("%v: %s", ErrUnknownTool, name), IsError: true}
	}

	if err := ctx.Err(); err != nil {
		return ToolResult{}, err
	}
	t.logger.Debug("Tool call", "tool", name, "is_error", res.IsError, "bytes", len(res.Content))
	return res, nil
}

func (t *Toolbox) listTables(ctx context.Context) ToolResult {
	tables, err := t.repo.Tables(ctx)
	if err != nil {
		return ToolResult{Content: err.Error(), IsError: true}
	}
	data, err := json.Marshal(tables)
	if err != nil {
		return ToolResult{Content: err.Error(), IsError: true}
	}
	return ToolResult{Content: string(data)}
}

func (t *Toolbox) runSQL(ctx context.Context, args json.RawMessage) ToolResult {
	var in struct {
		Query string `json:"query"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return ToolResult{Content: "invalid arguments: " + err.Error(), IsError: true}
		}
	}
	if strings.TrimSpace(in.Query) == "" {
		return ToolResult{Content: "invalid arguments: query is required", IsError: true}
	}

	result, err := t.repo.Query(ctx, in.Query, t.rowLimit)
	if err != nil {
		return ToolResult{Content: err.Error(), IsError: true}
	}
	return ToolResult{Content: formatResult(result, t.rowLimit)}
}

func formatResult(r *store.QueryResult, limit int) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(r.Columns)
	_ = w.WriteAll(r.Rows)
	if len(r.Rows) == 0 {
		buf.WriteString("(no rows)\n")
	}
	if r.Truncated {
		fmt.Fprintf(&buf, "(truncated to the first %d rows; aggregate in SQL for totals)\n", limit)
	}
	return buf.String()
}
