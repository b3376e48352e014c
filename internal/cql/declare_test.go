package cql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/pkg/types"
)

func TestDeclare_Defaults(t *testing.T) {
	stmt, err := Declare(DefaultDDL("whyso", "visit"), DefaultInsert("whyso", "visit"))
	require.NoError(t, err)

	assert.Equal(t, "whyso.visit", stmt.Schema.QualifiedName())
	assert.Equal(t, types.VisitColumns, stmt.ColumnNames())
	assert.Equal(t, []int{0}, stmt.KeyIndexes)
	assert.Nil(t, stmt.Timestamp)
	for _, c := range stmt.Columns {
		assert.Equal(t, types.TypeText, c.Type)
	}
}

func TestDeclare_ReorderedInsert(t *testing.T) {
	ddl := `CREATE TABLE ks.t (a text, b int, c text, PRIMARY KEY ((a, c)))`
	stmt, err := Declare(ddl, `INSERT INTO ks.t (b, c, a) VALUES (?, ?, ?)`)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "a"}, stmt.ColumnNames())
	assert.Equal(t, []int{2, 1}, stmt.KeyIndexes)
}

func TestDeclare_Inconsistent(t *testing.T) {
	ddl := `CREATE TABLE ks.t (a text PRIMARY KEY, b text)`

	tests := []struct {
		name   string
		ddl    string
		insert string
	}{
		{"bad ddl", `CREATE TABLE t (a text)`, `INSERT INTO ks.t (a) VALUES (?)`},
		{"bad insert", ddl, `INSERT INTO ks.t (a) VALUES ('x')`},
		{"other table", ddl, `INSERT INTO ks.u (a, b) VALUES (?, ?)`},
		{"other keyspace", ddl, `INSERT INTO other.t (a, b) VALUES (?, ?)`},
		{"unknown column", ddl, `INSERT INTO ks.t (a, z) VALUES (?, ?)`},
		{"duplicate column", ddl, `INSERT INTO ks.t (a, a) VALUES (?, ?)`},
		{"missing key", ddl, `INSERT INTO ks.t (b) VALUES (?)`},
		{"marker count", ddl, `INSERT INTO ks.t (a, b) VALUES (?)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Declare(tt.ddl, tt.insert)
			require.Error(t, err)
			assert.True(t, errors.Is(err, bulkerr.ErrSchema), "expected schema error, got %v", err)
			assert.True(t, bulkerr.IsFatal(err))
		})
	}
}
