package cql

import (
	"fmt"

	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/pkg/types"
)

// Statement is a validated table schema plus the INSERT template rows are
// bound against.
type Statement struct {
	Schema types.TableSchema

	// Columns are the insert columns in bind-marker order.
	Columns []types.ColumnDef

	// KeyIndexes are the positions in Columns of the partition key
	// components, in partition key order.
	KeyIndexes []int

	// Timestamp is the USING TIMESTAMP value, if the template sets one.
	Timestamp *int64

	// Options are the table WITH properties.
	Options map[string]string
}

// Declare parses the DDL and INSERT template and checks that they describe
// the same table consistently. All failures are schema errors.
func Declare(ddl, insert string) (*Statement, error) {
	create, err := ParseCreateTable(ddl)
	if err != nil {
		return nil, bulkerr.NewSchemaError("invalid CREATE TABLE statement", err)
	}
	ins, err := ParseInsert(insert)
	if err != nil {
		return nil, bulkerr.NewSchemaError("invalid INSERT statement", err)
	}

	schema := create.Schema
	if ins.Keyspace != schema.Keyspace || ins.Table != schema.Table {
		return nil, bulkerr.NewSchemaError(
			fmt.Sprintf("INSERT targets %s.%s but schema declares %s", ins.Keyspace, ins.Table, schema.QualifiedName()), nil)
	}
	if ins.Markers != len(ins.Columns) {
		return nil, bulkerr.NewSchemaError(
			fmt.Sprintf("INSERT lists %d columns but %d bind markers", len(ins.Columns), ins.Markers), nil)
	}

	stmt := &Statement{
		Schema:    schema,
		Columns:   make([]types.ColumnDef, 0, len(ins.Columns)),
		Timestamp: ins.Timestamp,
		Options:   create.Options,
	}

	position := make(map[string]int, len(ins.Columns))
	for i, name := range ins.Columns {
		if _, dup := position[name]; dup {
			return nil, bulkerr.NewSchemaError(fmt.Sprintf("INSERT lists column %q more than once", name), nil)
		}
		col, ok := schema.Column(name)
		if !ok {
			return nil, bulkerr.NewSchemaError(
				fmt.Sprintf("INSERT column %q is not defined in %s", name, schema.QualifiedName()), nil)
		}
		position[name] = i
		stmt.Columns = append(stmt.Columns, col)
	}

	for _, key := range schema.PartitionKey {
		i, ok := position[key]
		if !ok {
			return nil, bulkerr.NewSchemaError(fmt.Sprintf("INSERT is missing partition key column %q", key), nil)
		}
		stmt.KeyIndexes = append(stmt.KeyIndexes, i)
	}

	return stmt, nil
}

// ColumnNames returns the insert column names in bind order.
func (s *Statement) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// DefaultDDL returns the CREATE TABLE statement for the visit table in the
// given keyspace and table.
func DefaultDDL(keyspace, table string) string {
	ddl := fmt.Sprintf("CREATE TABLE %s.%s (\n", keyspace, table)
	for i, col := range types.VisitColumns {
		ddl += "    " + col + " text"
		if i == 0 {
			ddl += " PRIMARY KEY"
		}
		if i < len(types.VisitColumns)-1 {
			ddl += ","
		}
		ddl += "\n"
	}
	return ddl + ")"
}

// DefaultInsert returns the INSERT template binding every visit column.
func DefaultInsert(keyspace, table string) string {
	cols := ""
	markers := ""
	for i, col := range types.VisitColumns {
		if i > 0 {
			cols += ", "
			markers += ", "
		}
		cols += col
		markers += "?"
	}
	return fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)", keyspace, table, cols, markers)
}
