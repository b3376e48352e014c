package types

// ColumnType is a CQL column type name in lower case.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeVarchar   ColumnType = "varchar"
	TypeASCII     ColumnType = "ascii"
	TypeInt       ColumnType = "int"
	TypeBigint    ColumnType = "bigint"
	TypeBoolean   ColumnType = "boolean"
	TypeDouble    ColumnType = "double"
	TypeFloat     ColumnType = "float"
	TypeTimestamp ColumnType = "timestamp"
	TypeUUID      ColumnType = "uuid"
	TypeBlob      ColumnType = "blob"
)

// KnownColumnTypes is the set of column types the writer can encode.
var KnownColumnTypes = map[ColumnType]bool{
	TypeText:      true,
	TypeVarchar:   true,
	TypeASCII:     true,
	TypeInt:       true,
	TypeBigint:    true,
	TypeBoolean:   true,
	TypeDouble:    true,
	TypeFloat:     true,
	TypeTimestamp: true,
	TypeUUID:      true,
	TypeBlob:      true,
}

// TableSchema defines the structure of the target table.
type TableSchema struct {
	// Keyspace is the logical namespace of the table
	Keyspace string `json:"keyspace"`

	// Table is the table name
	Table string `json:"table"`

	// Columns defines the columns in declaration order
	Columns []ColumnDef `json:"columns"`

	// PartitionKey lists the partition key columns in order
	PartitionKey []string `json:"partition_key"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the CQL type
	Type ColumnType `json:"type"`

	// PrimaryKey indicates whether this column is part of the partition key
	PrimaryKey bool `json:"primary_key"`
}

// Column returns the definition of the named column.
func (s TableSchema) Column(name string) (ColumnDef, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// QualifiedName returns keyspace.table.
func (s TableSchema) QualifiedName() string {
	return s.Keyspace + "." + s.Table
}
