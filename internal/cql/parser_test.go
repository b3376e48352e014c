package cql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/csvbulkload/pkg/types"
)

func TestLexer_Tokens(t *testing.T) {
	l := NewLexer(`CREATE table "MixedCase".visit (id TEXT, ts timestamp) -- trailing`)
	tokens := l.Tokenize()

	want := []TokenType{
		TokenCreate, TokenTable, TokenQuotedIdent, TokenDot, TokenIdent,
		TokenLParen, TokenIdent, TokenIdent, TokenComma, TokenIdent, TokenIdent,
		TokenRParen, TokenEOF,
	}
	require.Len(t, tokens, len(want))
	for i, typ := range want {
		assert.Equal(t, typ, tokens[i].Type, "token %d: %s", i, tokens[i])
	}
	assert.Equal(t, "MixedCase", tokens[2].Literal)
	assert.Equal(t, "text", tokens[7].Literal)
	assert.Equal(t, "timestamp", tokens[10].Literal)
}

func TestLexer_UnterminatedString(t *testing.T) {
	tokens := NewLexer(`WITH comment = 'oops`).Tokenize()
	last := tokens[len(tokens)-1]
	assert.Equal(t, TokenError, last.Type)
}

func TestParseCreateTable_InlineKey(t *testing.T) {
	stmt, err := ParseCreateTable(`CREATE TABLE whyso.visit (property_number text PRIMARY KEY, host text);`)
	require.NoError(t, err)

	assert.Equal(t, "whyso", stmt.Schema.Keyspace)
	assert.Equal(t, "visit", stmt.Schema.Table)
	assert.Equal(t, []string{"property_number"}, stmt.Schema.PartitionKey)
	require.Len(t, stmt.Schema.Columns, 2)
	assert.True(t, stmt.Schema.Columns[0].PrimaryKey)
	assert.False(t, stmt.Schema.Columns[1].PrimaryKey)
}

func TestParseCreateTable_CompositeKeyAndOptions(t *testing.T) {
	ddl := `CREATE TABLE IF NOT EXISTS ks.events (
		tenant text,
		bucket int,
		payload blob,
		PRIMARY KEY ((tenant, bucket))
	) WITH comment = 'raw events' AND compaction = {'class': 'SizeTieredCompactionStrategy'}`

	stmt, err := ParseCreateTable(ddl)
	require.NoError(t, err)

	assert.True(t, stmt.IfNotExists)
	assert.Equal(t, []string{"tenant", "bucket"}, stmt.Schema.PartitionKey)
	assert.Equal(t, "raw events", stmt.Options["comment"])
	assert.Equal(t, "{'class': 'SizeTieredCompactionStrategy'}", stmt.Options["compaction"])

	col, ok := stmt.Schema.Column("bucket")
	require.True(t, ok)
	assert.Equal(t, types.TypeInt, col.Type)
	assert.True(t, col.PrimaryKey)
}

func TestParseCreateTable_Errors(t *testing.T) {
	tests := []struct {
		name string
		ddl  string
	}{
		{"unqualified table", `CREATE TABLE visit (id text PRIMARY KEY)`},
		{"missing primary key", `CREATE TABLE ks.visit (id text)`},
		{"clustering column", `CREATE TABLE ks.visit (id text, ts int, PRIMARY KEY (id, ts))`},
		{"composite with clustering", `CREATE TABLE ks.visit (a text, b text, c int, PRIMARY KEY ((a, b), c))`},
		{"collection type", `CREATE TABLE ks.visit (id text PRIMARY KEY, tags set<text>)`},
		{"unknown type", `CREATE TABLE ks.visit (id text PRIMARY KEY, n varint)`},
		{"duplicate column", `CREATE TABLE ks.visit (id text PRIMARY KEY, id text)`},
		{"two inline keys", `CREATE TABLE ks.visit (a text PRIMARY KEY, b text PRIMARY KEY)`},
		{"inline and table key", `CREATE TABLE ks.visit (a text PRIMARY KEY, b text, PRIMARY KEY (b))`},
		{"undefined key column", `CREATE TABLE ks.visit (a text, PRIMARY KEY (b))`},
		{"trailing garbage", `CREATE TABLE ks.visit (a text PRIMARY KEY) extra`},
		{"not a create", `SELECT * FROM ks.visit`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCreateTable(tt.ddl)
			require.Error(t, err)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestParseInsert(t *testing.T) {
	stmt, err := ParseInsert(`insert into whyso.visit (property_number, "Host") values (?, ?) USING TIMESTAMP 1700000000000000;`)
	require.NoError(t, err)

	assert.Equal(t, "whyso", stmt.Keyspace)
	assert.Equal(t, "visit", stmt.Table)
	assert.Equal(t, []string{"property_number", "Host"}, stmt.Columns)
	assert.Equal(t, 2, stmt.Markers)
	require.NotNil(t, stmt.Timestamp)
	assert.Equal(t, int64(1700000000000000), *stmt.Timestamp)
}

func TestParseInsert_Errors(t *testing.T) {
	tests := []struct {
		name   string
		insert string
	}{
		{"literal value", `INSERT INTO ks.t (a) VALUES ('x')`},
		{"unqualified", `INSERT INTO t (a) VALUES (?)`},
		{"missing values", `INSERT INTO ks.t (a)`},
		{"bad using", `INSERT INTO ks.t (a) VALUES (?) USING TTL 10`},
		{"timestamp without value", `INSERT INTO ks.t (a) VALUES (?) USING TIMESTAMP`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInsert(tt.insert)
			assert.Error(t, err)
		})
	}
}
