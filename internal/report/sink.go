package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Copier bulk-loads rows into Postgres. *pgx.Conn and *pgxpool.Pool satisfy it.
type Copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Export table names.
var (
	SummaryTable = pgx.Identifier{"validation_summary"}
	DetailTable  = pgx.Identifier{"validation_detail"}
)

var (
	summaryColumns = []string{"session_id", "ruleset", "code", "count", "message", "affected_fields"}
	detailColumns  = []string{"session_id", "ruleset", "table_name", "row_id", "child_id", "code", "message", "affected_values"}
)

// ExportPostgres copies the summary and detail rows into Postgres, tagged
// with sessionID. Returns the number of rows written to each table.
func (r *Report) ExportPostgres(ctx context.Context, db Copier, sessionID string) (summary, detail int64, err error) {
	rows := make([][]any, 0, len(r.Summary))
	for _, s := range r.Summary {
		rows = append(rows, []any{
			sessionID, r.Ruleset, s.Code, int32(s.Count), s.Message, strings.Join(s.AffectedFields, ","),
		})
	}
	summary, err = db.CopyFrom(ctx, SummaryTable, summaryColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, 0, fmt.Errorf("copy summary: %w", err)
	}

	detail, err = db.CopyFrom(ctx, DetailTable, detailColumns, pgx.CopyFromSlice(len(r.Detail), func(i int) ([]any, error) {
		d := r.Detail[i]
		child := pgtype.Text{String: d.ChildID, Valid: d.ChildID != ""}
		return []any{sessionID, r.Ruleset, d.Table, int32(d.RowID), child, d.Code, d.Message, formatValues(d.Values)}, nil
	}))
	if err != nil {
		return summary, 0, fmt.Errorf("copy detail: %w", err)
	}
	return summary, detail, nil
}
