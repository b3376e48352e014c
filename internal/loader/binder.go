package loader

import (
	"slices"
	"strings"

	"github.com/arkilian/csvbulkload/internal/cql"
	"github.com/arkilian/csvbulkload/pkg/types"
)

// binder turns a record into writer values and a display key.
type binder func(rec types.Record) ([]any, string)

// newBinder returns the binder for stmt. The visit table binds through
// types.VisitRow; other tables bind positionally with the same rule: key
// columns pass through unchanged, null text columns become "", and null
// columns of other types stay null.
func newBinder(stmt *cql.Statement) binder {
	if slices.Equal(stmt.ColumnNames(), types.VisitColumns) && slices.Equal(stmt.KeyIndexes, []int{0}) {
		return bindVisit
	}

	isKey := make([]bool, len(stmt.Columns))
	for _, idx := range stmt.KeyIndexes {
		isKey[idx] = true
	}

	return func(rec types.Record) ([]any, string) {
		values := make([]any, len(rec))
		for i, field := range rec {
			switch {
			case field != nil:
				values[i] = *field
			case i < len(isKey) && isKey[i]:
				values[i] = nil
			case i < len(stmt.Columns) && isTextType(stmt.Columns[i].Type):
				values[i] = ""
			default:
				values[i] = nil
			}
		}
		return values, displayKey(rec, stmt.KeyIndexes)
	}
}

func bindVisit(rec types.Record) ([]any, string) {
	row, err := types.VisitRowFromRecord(rec)
	if err != nil {
		// The source enforces the field count; hand the writer the raw
		// fields so it rejects the row.
		values := make([]any, len(rec))
		for i, f := range rec {
			if f != nil {
				values[i] = *f
			}
		}
		return values, displayKey(rec, []int{0})
	}
	return row.Values(), row.Key()
}

func isTextType(t types.ColumnType) bool {
	switch t {
	case types.TypeText, types.TypeVarchar, types.TypeASCII:
		return true
	}
	return false
}

func displayKey(rec types.Record, keyIndexes []int) string {
	parts := make([]string, 0, len(keyIndexes))
	for _, idx := range keyIndexes {
		if idx >= len(rec) || rec[idx] == nil {
			parts = append(parts, "<null>")
			continue
		}
		parts = append(parts, *rec[idx])
	}
	return strings.Join(parts, ":")
}
