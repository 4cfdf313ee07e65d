package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mediaoffload/mediaoffload/internal/config"
)

const (
	Version       = "0.1.0"
	ExportVersion = 1
)

// AllTables lists the exportable tables.
var AllTables = []string{"attachments", "options"}

// tableColumns defines column order for each table.
var tableColumns = map[string][]string{
	"attachments": {"id", "guid", "file", "mime_type", "title", "metadata", "created_at"},
	"options":     {"name", "value"},
}

var tableOrderBy = map[string]string{
	"attachments": "id",
	"options":     "name",
}

// ExportOptions configures what to export.
type ExportOptions struct {
	Tables         []string
	IncludeSecrets bool
}

// Export writes a JSON dump of the requested tables to w. Sensitive
// options are redacted unless IncludeSecrets is set.
func (s *SQLiteStore) Export(ctx context.Context, w io.Writer, opts *ExportOptions) error {
	if opts == nil {
		opts = &ExportOptions{}
	}
	tables := opts.Tables
	if len(tables) == 0 {
		tables = AllTables
	}

	var schemaVersion int
	s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&schemaVersion)

	result := map[string]any{
		"mediaoffload_export": map[string]any{
			"version":        ExportVersion,
			"exported_at":    time.Now().UTC().Format(timeFormat),
			"schema_version": schemaVersion,
			"source":         "go/" + Version,
		},
	}

	for _, table := range tables {
		columns, ok := tableColumns[table]
		if !ok {
			return fmt.Errorf("unknown table %q", table)
		}
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(columns, ", "), table, tableOrderBy[table])
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("querying %s: %w", table, err)
		}

		tableRows := make([]map[string]any, 0)
		for rows.Next() {
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return fmt.Errorf("scanning %s row: %w", table, err)
			}

			row := make(map[string]any, len(columns))
			for i, col := range columns {
				row[col] = convertValue(col, values[i])
			}
			if table == "options" && !opts.IncludeSecrets && isSecretOption(row["name"]) {
				row["value"] = "REDACTED"
			}
			tableRows = append(tableRows, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating %s: %w", table, err)
		}
		result[table] = tableRows
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}

func isSecretOption(name any) bool {
	s, _ := name.(string)
	f, ok := config.LookupField(s)
	return ok && f.Sensitive
}

// convertValue turns a raw SQLite value into its JSON form. The metadata
// column is expanded in place.
func convertValue(col string, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if col == "metadata" {
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return json.RawMessage(s)
		}
	}
	return v
}
